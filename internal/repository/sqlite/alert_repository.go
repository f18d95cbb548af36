package sqlite

import (
	"context"
	"fmt"
	"time"

	"ppe-safety-worker/internal/models"
)

// AlertRepository stores one row per delivery attempt
type AlertRepository struct {
	db *DB
}

func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Record inserts a delivery attempt
func (r *AlertRepository) Record(ctx context.Context, rec models.AlertRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO alert_history (event_id, kind, status, message, transport, delivered, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.EventID, string(rec.Kind), rec.Status, rec.Message, rec.Transport, rec.Delivered, rec.Error, ts.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert alert record: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first
func (r *AlertRepository) List(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, event_id, kind, status, message, transport, delivered, error, timestamp
		FROM alert_history ORDER BY timestamp DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert history: %w", err)
	}
	defer rows.Close()

	records := make([]models.AlertRecord, 0, limit)
	for rows.Next() {
		var rec models.AlertRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.EventID, &kind, &rec.Status, &rec.Message, &rec.Transport, &rec.Delivered, &rec.Error, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan alert record: %w", err)
		}
		rec.Kind = models.EventKind(kind)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Count reports how many attempts of a kind were recorded, all kinds when kind is empty
func (r *AlertRepository) Count(ctx context.Context, kind models.EventKind) (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var n int
	var err error
	if kind == "" {
		err = r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_history`).Scan(&n)
	} else {
		err = r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_history WHERE kind = ?`, string(kind)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count alert history: %w", err)
	}
	return n, nil
}
