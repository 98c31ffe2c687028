// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// PostgreSQLをセッションストアに使う場合、期限切れの行は参照時に無視されるだけで
// 残り続けるため、定期的に削除する。RedisはTTLで自動削除されるため不要。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションを削除し、削除件数を返す。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// PurgeRecorder は削除件数をメトリクスに記録する。
type PurgeRecorder interface {
	RecordSessionsPurged(count int64)
}

// CleanupJob は期限切れセッションの削除ジョブ。冪等に何度実行してもよい。
type CleanupJob struct {
	sessions SessionPurger
	recorder PurgeRecorder
	logger   *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(sessions SessionPurger, recorder PurgeRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		recorder: recorder,
		logger:   logger,
	}
}

// Run は期限切れセッションを1回削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deletedCount)
	}

	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗では停止しない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
