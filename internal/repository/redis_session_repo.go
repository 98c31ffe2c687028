package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/holaholidays/internal/model"
)

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// セッションは有効期限をTTLとして保存するため、期限切れのキーはRedisが自動的に削除する。
type RedisSessionRepo struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client redis.Cmdable) *RedisSessionRepo {
	return &RedisSessionRepo{
		client: client,
		prefix: "session:",
		now:    time.Now,
	}
}

// redisSession はRedisに保存するセッションのJSON表現。
type redisSession struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	Kind        string    `json:"kind"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r *RedisSessionRepo) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisSessionRepo) indexKey(kind model.PrincipalKind, principalID string) string {
	return "principal_sessions:" + string(kind) + ":" + principalID
}

// Create はセッションを作成する。有効期限が過去の場合はエラーを返す。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if session.ID == "" || session.PrincipalID == "" {
		return errors.New("session: missing id or principal_id")
	}

	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return errors.New("session: expires_at must be in the future")
	}

	data, err := json.Marshal(redisSession{
		ID:          session.ID,
		PrincipalID: session.PrincipalID,
		Kind:        string(session.Kind),
		ExpiresAt:   session.ExpiresAt,
		CreatedAt:   session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	indexKey := r.indexKey(session.Kind, session.PrincipalID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(session.ID), data, ttl)
		pipe.SAdd(ctx, indexKey, session.ID)
		pipe.Expire(ctx, indexKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	val, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rs redisSession
	if err := json.Unmarshal(val, &rs); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}

	session := &model.Session{
		ID:          rs.ID,
		PrincipalID: rs.PrincipalID,
		Kind:        model.PrincipalKind(rs.Kind),
		ExpiresAt:   rs.ExpiresAt,
		CreatedAt:   rs.CreatedAt,
	}
	if session.IsExpiredAt(r.now()) {
		return nil, nil
	}
	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	session, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(id))
		if session != nil {
			pipe.SRem(ctx, r.indexKey(session.Kind, session.PrincipalID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByPrincipal は指定主体の全セッションを削除する。
func (r *RedisSessionRepo) DeleteByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID string) error {
	indexKey := r.indexKey(kind, principalID)
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list principal sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.key(id))
	}
	keys = append(keys, indexKey)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete principal sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
