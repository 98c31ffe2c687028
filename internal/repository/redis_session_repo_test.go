package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/holaholidays/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisSessionRepo) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, NewRedisSessionRepo(client)
}

func newTestSession(id, principalID string, kind model.PrincipalKind, ttl time.Duration) *model.Session {
	now := time.Now()
	return &model.Session{
		ID:          id,
		PrincipalID: principalID,
		Kind:        kind,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
}

// 作成したセッションがIDで取得できることを検証
func TestRedisSessionRepo_CreateAndFind(t *testing.T) {
	_, repo := newTestRedis(t)
	ctx := context.Background()

	session := newTestSession("sid-1", "customer-1", model.KindCustomer, time.Hour)
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := repo.FindByID(ctx, "sid-1")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.PrincipalID != "customer-1" {
		t.Errorf("PrincipalID = %q, want %q", got.PrincipalID, "customer-1")
	}
	if got.Kind != model.KindCustomer {
		t.Errorf("Kind = %q, want %q", got.Kind, model.KindCustomer)
	}
	if !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, session.ExpiresAt)
	}
}

// 存在しないセッションはnil,nilを返すことを検証
func TestRedisSessionRepo_FindByID_NotFound(t *testing.T) {
	_, repo := newTestRedis(t)

	got, err := repo.FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

// TTL経過後のセッションは取得できないことを検証
func TestRedisSessionRepo_FindByID_ExpiredByTTL(t *testing.T) {
	mr, repo := newTestRedis(t)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSession("sid-ttl", "admin-1", model.KindAdmin, time.Minute)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	got, err := repo.FindByID(ctx, "sid-ttl")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got != nil {
		t.Error("expired session should not be returned")
	}
}

// 有効期限ちょうどの時刻では期限切れとして扱うことを検証
func TestRedisSessionRepo_FindByID_ExpiredAtBoundary(t *testing.T) {
	_, repo := newTestRedis(t)
	ctx := context.Background()

	session := newTestSession("sid-edge", "customer-1", model.KindCustomer, time.Hour)
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	repo.now = func() time.Time { return session.ExpiresAt }

	got, err := repo.FindByID(ctx, "sid-edge")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got != nil {
		t.Error("session at its expiry instant should be treated as expired")
	}
}

// 有効期限が過去のセッションは作成できないことを検証
func TestRedisSessionRepo_Create_PastExpiry(t *testing.T) {
	_, repo := newTestRedis(t)

	err := repo.Create(context.Background(), newTestSession("sid-past", "customer-1", model.KindCustomer, -time.Second))
	if err == nil {
		t.Fatal("expected error for past expiry")
	}
}

// DeleteByIDで削除したセッションが取得できないこと、未登録IDでもエラーにならないことを検証
func TestRedisSessionRepo_DeleteByID(t *testing.T) {
	_, repo := newTestRedis(t)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSession("sid-del", "customer-1", model.KindCustomer, time.Hour)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := repo.DeleteByID(ctx, "sid-del"); err != nil {
		t.Fatalf("DeleteByID returned error: %v", err)
	}

	got, err := repo.FindByID(ctx, "sid-del")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got != nil {
		t.Error("deleted session should not be returned")
	}

	if err := repo.DeleteByID(ctx, "sid-del"); err != nil {
		t.Errorf("second DeleteByID returned error: %v", err)
	}
}

// DeleteByPrincipalが同一主体のセッションのみ削除することを検証
func TestRedisSessionRepo_DeleteByPrincipal(t *testing.T) {
	_, repo := newTestRedis(t)
	ctx := context.Background()

	sessions := []*model.Session{
		newTestSession("a", "p-1", model.KindCustomer, time.Hour),
		newTestSession("b", "p-1", model.KindCustomer, time.Hour),
		newTestSession("c", "p-2", model.KindCustomer, time.Hour),
		newTestSession("d", "p-1", model.KindAdmin, time.Hour),
	}
	for _, s := range sessions {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create(%s) returned error: %v", s.ID, err)
		}
	}

	if err := repo.DeleteByPrincipal(ctx, model.KindCustomer, "p-1"); err != nil {
		t.Fatalf("DeleteByPrincipal returned error: %v", err)
	}

	tests := []struct {
		id        string
		wantFound bool
	}{
		{"a", false},
		{"b", false},
		{"c", true},
		{"d", true},
	}
	for _, tt := range tests {
		got, err := repo.FindByID(ctx, tt.id)
		if err != nil {
			t.Fatalf("FindByID(%s) returned error: %v", tt.id, err)
		}
		if (got != nil) != tt.wantFound {
			t.Errorf("session %s found = %v, want %v", tt.id, got != nil, tt.wantFound)
		}
	}
}
