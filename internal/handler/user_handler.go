package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/holaholidays/internal/auth"
	"github.com/hitoshi/holaholidays/internal/model"
)

// UserServiceInterface は顧客管理ハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw は顧客本人の退会処理を実行する。
	// セッションを削除した後に顧客を削除し、identitiesはCASCADE削除される。
	Withdraw(ctx context.Context, customerID string) error
	ListCustomers(ctx context.Context) ([]*model.Principal, error)
	GetCustomer(ctx context.Context, customerID string) (*model.Principal, error)
	DeleteCustomer(ctx context.Context, actor *model.PrincipalContext, customerID string) error
	UpdateCustomer(ctx context.Context, actor *model.PrincipalContext, customerID string, upd auth.ProfileUpdate) (*model.Principal, error)
}

// UserHandler は顧客の退会と管理者による顧客管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies CookieConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, cookies CookieConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

// Withdraw は顧客本人の退会処理を実行し、認証Cookieを削除する。
// DELETE /user/customer/profile
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	pc, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), pc.ID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	clearSessionCookies(w, h.cookies)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Customer Removed!"})
}

// ListCustomers は全顧客を返す。
// GET /user/admin/customers
func (h *UserHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]interface{}, 0, len(customers))
	for _, c := range customers {
		resp = append(resp, toPrincipalResponse(c, ""))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCustomer は指定IDの顧客を返す。
// GET /user/admin/customers/{id}
func (h *UserHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPrincipalResponse(customer, ""))
}

// DeleteCustomer は指定IDの顧客を削除する。
// DELETE /user/admin/customers/{id}
func (h *UserHandler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	pc, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteCustomer(r.Context(), pc, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Customer Removed!"})
}

// UpdateCustomer は指定IDの顧客のプロフィールを更新する。
// PUT /user/admin/customers/{id}
func (h *UserHandler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	pc, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req profileUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	customer, err := h.service.UpdateCustomer(r.Context(), pc, chi.URLParam(r, "id"), req.toProfileUpdate())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPrincipalResponse(customer, ""))
}
