package user

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/holaholidays/internal/auth"
	"github.com/hitoshi/holaholidays/internal/model"
	"github.com/hitoshi/holaholidays/internal/repository"
)

const testCustomerID = "8c5f2f0e-4b8a-4d53-9a0e-2f7c3b1d9e41"

// --- モック ---

type mockCustomerRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*model.Principal, error)
	deleteByIDFn func(ctx context.Context, id string) error
	listFn       func(ctx context.Context) ([]*model.Principal, error)
}

func (m *mockCustomerRepo) FindByID(ctx context.Context, id string) (*model.Principal, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockCustomerRepo) FindByEmail(ctx context.Context, email string) (*model.Principal, error) {
	return nil, nil
}
func (m *mockCustomerRepo) Create(ctx context.Context, p *model.Principal) error {
	return nil
}
func (m *mockCustomerRepo) Update(ctx context.Context, p *model.Principal) error {
	return nil
}
func (m *mockCustomerRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}
func (m *mockCustomerRepo) List(ctx context.Context) ([]*model.Principal, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

type mockSessionDeleter struct {
	deleteByPrincipalFn func(ctx context.Context, kind model.PrincipalKind, principalID string) error
}

func (m *mockSessionDeleter) DeleteByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID string) error {
	return m.deleteByPrincipalFn(ctx, kind, principalID)
}

type mockProfileUpdater struct {
	updateProfileFn func(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error)
}

func (m *mockProfileUpdater) UpdateProfile(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error) {
	return m.updateProfileFn(ctx, pc, upd)
}

var _ repository.PrincipalRepository = (*mockCustomerRepo)(nil)
var _ SessionDeleter = (*mockSessionDeleter)(nil)
var _ ProfileUpdater = (*mockProfileUpdater)(nil)

func existingCustomer() *mockCustomerRepo {
	return &mockCustomerRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Principal, error) {
			return &model.Principal{ID: id, Kind: model.KindCustomer, Email: "test@example.com"}, nil
		},
	}
}

// --- テスト ---

// TestService_Withdraw は退会処理がセッションを削除してから顧客を削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	var order []string

	customers := existingCustomer()
	customers.deleteByIDFn = func(ctx context.Context, id string) error {
		order = append(order, "customer:"+id)
		return nil
	}
	sessions := &mockSessionDeleter{
		deleteByPrincipalFn: func(ctx context.Context, kind model.PrincipalKind, principalID string) error {
			if kind != model.KindCustomer {
				t.Errorf("kind = %s, want customer", kind)
			}
			order = append(order, "sessions:"+principalID)
			return nil
		},
	}

	svc := NewService(customers, sessions, nil)
	if err := svc.Withdraw(context.Background(), testCustomerID); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}

	want := []string{"sessions:" + testCustomerID, "customer:" + testCustomerID}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Errorf("order = %v, want %v", order, want)
	}
}

// TestService_Withdraw_NotFound は存在しない顧客の退会がNotFoundになることを検証する。
func TestService_Withdraw_NotFound(t *testing.T) {
	sessions := &mockSessionDeleter{
		deleteByPrincipalFn: func(ctx context.Context, kind model.PrincipalKind, principalID string) error {
			t.Error("sessions should not be deleted")
			return nil
		},
	}
	svc := NewService(&mockCustomerRepo{}, sessions, nil)

	err := svc.Withdraw(context.Background(), testCustomerID)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotFound {
		t.Fatalf("error = %v, want NOT_FOUND", err)
	}
	if apiErr.Message != "Customer not found!" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

// TestService_Withdraw_SessionDeleteError はセッション削除に失敗した場合に顧客を削除しないことを検証する。
func TestService_Withdraw_SessionDeleteError(t *testing.T) {
	customers := existingCustomer()
	customers.deleteByIDFn = func(ctx context.Context, id string) error {
		t.Error("customer should not be deleted when session deletion fails")
		return nil
	}
	sessions := &mockSessionDeleter{
		deleteByPrincipalFn: func(ctx context.Context, kind model.PrincipalKind, principalID string) error {
			return errors.New("redis unavailable")
		},
	}

	svc := NewService(customers, sessions, nil)
	if err := svc.Withdraw(context.Background(), testCustomerID); err == nil {
		t.Fatal("expected error")
	}
}

// 不正な形式のIDはストアに問い合わせずNotFoundにすることを検証
func TestService_GetCustomer_InvalidID(t *testing.T) {
	customers := &mockCustomerRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Principal, error) {
			t.Error("store should not be queried for a malformed ID")
			return nil, nil
		},
	}
	svc := NewService(customers, nil, nil)

	_, err := svc.GetCustomer(context.Background(), "not-a-uuid")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotFound {
		t.Fatalf("error = %v, want NOT_FOUND", err)
	}
}

func TestService_GetCustomer_StoreError(t *testing.T) {
	customers := &mockCustomerRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Principal, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewService(customers, nil, nil)

	_, err := svc.GetCustomer(context.Background(), testCustomerID)
	var apiErr *model.APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want a wrapped store error", err)
	}
}

func TestService_ListCustomers(t *testing.T) {
	customers := &mockCustomerRepo{
		listFn: func(ctx context.Context) ([]*model.Principal, error) {
			return []*model.Principal{{ID: "c-1"}, {ID: "c-2"}}, nil
		},
	}
	svc := NewService(customers, nil, nil)

	list, err := svc.ListCustomers(context.Background())
	if err != nil {
		t.Fatalf("ListCustomers returned error: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("len = %d, want 2", len(list))
	}
}

func TestService_DeleteCustomer(t *testing.T) {
	deleted := ""
	customers := existingCustomer()
	customers.deleteByIDFn = func(ctx context.Context, id string) error {
		deleted = id
		return nil
	}
	sessions := &mockSessionDeleter{
		deleteByPrincipalFn: func(ctx context.Context, kind model.PrincipalKind, principalID string) error {
			return nil
		},
	}

	svc := NewService(customers, sessions, nil)
	actor := &model.PrincipalContext{ID: "a-1", Kind: model.KindAdmin, IsAdmin: true}
	if err := svc.DeleteCustomer(context.Background(), actor, testCustomerID); err != nil {
		t.Fatalf("DeleteCustomer returned error: %v", err)
	}
	if deleted != testCustomerID {
		t.Errorf("deleted = %q, want %q", deleted, testCustomerID)
	}
}

func strPtr(s string) *string { return &s }

var testAdminActor = &model.PrincipalContext{ID: "admin-1", Kind: model.KindAdmin, Role: "admin"}

// TestService_UpdateCustomer は顧客の主体として更新が委譲され、セッションは維持されることを検証する。
func TestService_UpdateCustomer(t *testing.T) {
	var gotPC *model.PrincipalContext
	var gotUpd auth.ProfileUpdate
	profiles := &mockProfileUpdater{
		updateProfileFn: func(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error) {
			gotPC = pc
			gotUpd = upd
			return &model.Principal{ID: pc.ID, Kind: model.KindCustomer, Address: *upd.Address}, nil
		},
	}
	sessions := &mockSessionDeleter{
		deleteByPrincipalFn: func(ctx context.Context, kind model.PrincipalKind, principalID string) error {
			t.Error("sessions should not be deleted without a password change")
			return nil
		},
	}
	svc := NewService(existingCustomer(), sessions, profiles)

	customer, err := svc.UpdateCustomer(t.Context(), testAdminActor, testCustomerID, auth.ProfileUpdate{Address: strPtr("Tokyo")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPC == nil || gotPC.ID != testCustomerID || gotPC.Kind != model.KindCustomer {
		t.Errorf("principal context = %+v, want customer %s", gotPC, testCustomerID)
	}
	if gotUpd.Address == nil || *gotUpd.Address != "Tokyo" {
		t.Errorf("update was not forwarded: %+v", gotUpd)
	}
	if customer.Address != "Tokyo" {
		t.Errorf("Address = %q, want %q", customer.Address, "Tokyo")
	}
}

// パスワード変更時は顧客の既存セッションをすべて失効させる
func TestService_UpdateCustomer_PasswordChange_RevokesSessions(t *testing.T) {
	profiles := &mockProfileUpdater{
		updateProfileFn: func(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error) {
			return &model.Principal{ID: pc.ID, Kind: model.KindCustomer}, nil
		},
	}
	var revokedKind model.PrincipalKind
	var revokedID string
	sessions := &mockSessionDeleter{
		deleteByPrincipalFn: func(ctx context.Context, kind model.PrincipalKind, principalID string) error {
			revokedKind = kind
			revokedID = principalID
			return nil
		},
	}
	svc := NewService(existingCustomer(), sessions, profiles)

	if _, err := svc.UpdateCustomer(t.Context(), testAdminActor, testCustomerID, auth.ProfileUpdate{Password: strPtr("N3w-Passw0rd!")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if revokedKind != model.KindCustomer || revokedID != testCustomerID {
		t.Errorf("revoked = (%s, %s), want (customer, %s)", revokedKind, revokedID, testCustomerID)
	}
}

func TestService_UpdateCustomer_InvalidID(t *testing.T) {
	profiles := &mockProfileUpdater{
		updateProfileFn: func(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error) {
			t.Error("UpdateProfile should not be called for an invalid ID")
			return nil, nil
		},
	}
	svc := NewService(existingCustomer(), &mockSessionDeleter{}, profiles)

	_, err := svc.UpdateCustomer(t.Context(), testAdminActor, "not-a-uuid", auth.ProfileUpdate{})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

// 検証エラーなどはそのまま返し、セッションには触れない
func TestService_UpdateCustomer_UpdaterError(t *testing.T) {
	want := model.NewValidationError("外部IdPで登録されたアカウントのパスワードは変更できません。")
	profiles := &mockProfileUpdater{
		updateProfileFn: func(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error) {
			return nil, want
		},
	}
	sessions := &mockSessionDeleter{
		deleteByPrincipalFn: func(ctx context.Context, kind model.PrincipalKind, principalID string) error {
			t.Error("sessions should not be deleted when the update fails")
			return nil
		},
	}
	svc := NewService(existingCustomer(), sessions, profiles)

	_, err := svc.UpdateCustomer(t.Context(), testAdminActor, testCustomerID, auth.ProfileUpdate{Password: strPtr("x")})
	if !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
}

func TestService_UpdateCustomer_SessionDeleteError(t *testing.T) {
	profiles := &mockProfileUpdater{
		updateProfileFn: func(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error) {
			return &model.Principal{ID: pc.ID, Kind: model.KindCustomer}, nil
		},
	}
	storeErr := errors.New("connection refused")
	sessions := &mockSessionDeleter{
		deleteByPrincipalFn: func(ctx context.Context, kind model.PrincipalKind, principalID string) error {
			return storeErr
		},
	}
	svc := NewService(existingCustomer(), sessions, profiles)

	_, err := svc.UpdateCustomer(t.Context(), testAdminActor, testCustomerID, auth.ProfileUpdate{Password: strPtr("N3w-Passw0rd!")})
	if !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want wrapped %v", err, storeErr)
	}
}
