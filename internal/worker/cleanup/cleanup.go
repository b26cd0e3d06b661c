// Package cleanup は失効した資格情報ハンドオフの定期削除ジョブを提供する。
// Takeされずに残った行はTTL経過後も読み出されることはないが、
// SQLバックエンドでは行が残り続けるため定期的に削除する。
// RedisはTTLで自動削除されるため対象外。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger は失効済みエントリを削除するストアのインターフェース。
// handoff.SQLStore と handoff.MemoryStore が実装する。
type Purger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// PurgeRecorder は削除件数を記録するメトリクスのインターフェース。
type PurgeRecorder interface {
	RecordPurged(count int64)
}

// CleanupJob は失効済みハンドオフの削除ジョブ。
// 冪等な削除処理のため、複数プロセスから同時に実行してもよい。
type CleanupJob struct {
	purger   Purger
	logger   *slog.Logger
	recorder PurgeRecorder
	Interval time.Duration // 実行間隔（デフォルト: 5分）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(purger Purger, logger *slog.Logger, recorder PurgeRecorder) *CleanupJob {
	return &CleanupJob{
		purger:   purger,
		logger:   logger,
		recorder: recorder,
		Interval: 5 * time.Minute,
	}
}

// Run は失効済みハンドオフを1回削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.purger.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("ハンドオフクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ハンドオフクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordPurged(deletedCount)
	}

	duration := time.Since(start)
	j.logger.Info("ハンドオフクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はctxがキャンセルされるまでInterval毎にRunを実行する。
// 起動直後に1回実行する。個々の実行の失敗ではループを止めない。
func (j *CleanupJob) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("ハンドオフクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
