package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Querier - подмножество pgxpool.Pool, нужное коллектору.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// StartDBCollectors - периодически обновляет gauges по состояниям журнала и запросов доступа.
func StartDBCollectors(ctx context.Context, db Querier, interval time.Duration, logger *zap.Logger) {
	if db == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		UpdateDBGauges(ctx, db, logger)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				UpdateDBGauges(ctx, db, logger)
			}
		}
	}()
}

func UpdateDBGauges(ctx context.Context, db Querier, logger *zap.Logger) {
	collectStateCounts(ctx, db, logger, "sync_pending", SetPendingStateCount)
	collectStateCounts(ctx, db, logger, "access_requests", SetAccessRequestStateCount)
}

func collectStateCounts(ctx context.Context, db Querier, logger *zap.Logger, table string, set func(string, int64)) {
	rows, err := db.Query(ctx, `SELECT state, COUNT(*) FROM `+table+` GROUP BY state`)
	if err != nil {
		// таблицы может ещё не быть (migrate не запускали)
		logger.Debug("metrics db query failed", zap.String("table", table), zap.Error(err))
		return
	}
	defer rows.Close()

	for rows.Next() {
		var (
			state string
			cnt   int64
		)
		if err := rows.Scan(&state, &cnt); err != nil {
			logger.Warn("metrics db scan failed", zap.String("table", table), zap.Error(err))
			continue
		}
		set(state, cnt)
	}
}
