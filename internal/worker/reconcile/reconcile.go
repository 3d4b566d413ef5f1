// Package reconcile はカウンタの整合性修復ジョブを提供する。
// followers_count / following_count / like_count / deslike_count を
// 対応する配列の要素数から再計算し、ずれている行のみを更新する。
// 集合（配列）の内容そのものは変更しない。
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/tweetbox/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// repairAccountsQuery はフォロー関係のカウンタを配列の要素数に合わせる。
const repairAccountsQuery = `UPDATE accounts SET
    followers_count = cardinality(followers),
    following_count = cardinality(following)
 WHERE followers_count <> cardinality(followers)
    OR following_count <> cardinality(following)`

// repairPostsQuery はいいね・よくないねのカウンタを配列の要素数に合わせる。
const repairPostsQuery = `UPDATE posts SET
    like_count = cardinality(like_list),
    deslike_count = cardinality(deslike_list)
 WHERE like_count <> cardinality(like_list)
    OR deslike_count <> cardinality(deslike_list)`

// Job はカウンタの整合性修復ジョブ。
// 冪等であり、ずれがなければ何も更新しない。
type Job struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewJob は新しいJobを生成する。mcがnilの場合はメトリクスを記録しない。
func NewJob(db Executor, logger *slog.Logger, mc metrics.MetricsCollector) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Job{
		db:      db,
		logger:  logger,
		metrics: mc,
	}
}

// Run はaccountsとpostsのカウンタを1回ずつ修復する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	accounts, err := j.repair(ctx, "accounts", repairAccountsQuery)
	if err != nil {
		return err
	}
	posts, err := j.repair(ctx, "posts", repairPostsQuery)
	if err != nil {
		return err
	}

	j.metrics.RecordReconcileRepaired(int(accounts + posts))

	duration := time.Since(start)
	j.logger.Info("カウンタ整合性ジョブが完了しました",
		slog.Int64("repaired_accounts", accounts),
		slog.Int64("repaired_posts", posts),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

func (j *Job) repair(ctx context.Context, table, query string) (int64, error) {
	result, err := j.db.ExecContext(ctx, query)
	if err != nil {
		j.logger.Error("カウンタ整合性ジョブの実行に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのカウンタ修復に失敗: %w", table, err)
	}

	repaired, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("修復件数の取得に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("修復件数の取得に失敗: %w", err)
	}
	if repaired > 0 {
		j.logger.Warn("カウンタのずれを修復しました",
			slog.String("table", table),
			slog.Int64("repaired", repaired),
		)
	}
	return repaired, nil
}

// Start は起動直後に1回実行し、以後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。実行エラーはログに記録して継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("reconcile job failed", slog.String("error", err.Error()))
	}
}
