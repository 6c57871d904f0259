// Package postgres implements the alarm audit repository on PostgreSQL via
// pgx, in the teacher's query-and-scan style.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sssxyd/apistatus-guard/internal/repository"
)

// Repository implements repository.AlarmRepository on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.AlarmRepository = (*Repository)(nil)

// InsertAlarmEvent persists a dispatched alarm's audit row, whether or not
// its outbound delivery succeeded.
func (r *Repository) InsertAlarmEvent(ctx context.Context, event repository.AlarmEvent) error {
	const query = `INSERT INTO alarm_events
		(id, feature, duration_seconds, threshold, probability, command, actual_value, client_ip, trigger_time, delivered, delivery_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.Feature,
		event.DurationSeconds,
		event.Threshold,
		event.Probability,
		event.Command,
		event.ActualValue,
		event.ClientIP,
		time.Unix(event.TriggerTime, 0).UTC(),
		event.Delivered,
		deliveryErrorOrNil(event.DeliveryError),
	)
	return err
}

func deliveryErrorOrNil(msg string) any {
	if msg == "" {
		return nil
	}
	return msg
}
