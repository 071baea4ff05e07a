package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/trivia/go/internal/sqlutil"
)

// Store is the outbox persistence used by the Listener.
type Store interface {
	// ClaimByID locks the unsent event id, calls publish and marks it sent
	// if publish succeeds. It reports false when the event is gone or was
	// already sent.
	ClaimByID(ctx context.Context, id uuid.UUID, publish func(Event) error) (bool, error)
	// ClaimUnsent does the same for up to limit unsent events in capture
	// order, stopping at the first publish failure.
	ClaimUnsent(ctx context.Context, limit int, publish func(Event) error) (int, error)
	CountPending(ctx context.Context) (int, error)
	PurgeSent(ctx context.Context, retention time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries are the change_outbox statements, bound to a db or a tx.
type Queries struct {
	db dbtx
}

func NewQueries(db dbtx) *Queries {
	return &Queries{db: db}
}

const eventColumns = `id, seq, table_name, kind, before, after, created_at, sent_at`

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var (
		e      Event
		sentAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.Seq, &e.Table, &e.Kind, &e.Before, &e.After, &e.CreatedAt, &sentAt)
	e.SentAt = sqlutil.FromSqlTime(sentAt)
	return e, err
}

// LockUnsentByID returns the event if it is unsent and not locked by
// another relay.
func (q *Queries) LockUnsentByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	e, err := scanEvent(q.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM change_outbox
		WHERE id = $1 AND sent_at IS NULL
		FOR UPDATE SKIP LOCKED`, id))
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// LockUnsent returns up to limit unsent events in capture order.
func (q *Queries) LockUnsent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM change_outbox
		WHERE sent_at IS NULL
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `UPDATE change_outbox SET sent_at = now() WHERE id = $1`, id)
	return err
}

func (q *Queries) CountPending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM change_outbox WHERE sent_at IS NULL`).Scan(&n)
	return n, err
}

// PurgeSent deletes events sent before cutoff.
func (q *Queries) PurgeSent(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM change_outbox WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Repository implements Store on database/sql with the lib/pq driver.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

func newTxQueries(tx *sql.Tx) *Queries { return NewQueries(tx) }

func (r *Repository) ClaimByID(ctx context.Context, id uuid.UUID, publish func(Event) error) (bool, error) {
	claimed := false
	err := sqlutil.Run(ctx, r.db, newTxQueries, func(q *Queries) error {
		e, err := q.LockUnsentByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to fetch outbox event: %w", err)
		}
		if err := publish(*e); err != nil {
			return err
		}
		if err := q.MarkSent(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to mark outbox event as sent: %w", err)
		}
		claimed = true
		return nil
	})
	return claimed, err
}

func (r *Repository) ClaimUnsent(ctx context.Context, limit int, publish func(Event) error) (int, error) {
	sent := 0
	var publishErr error
	err := sqlutil.Run(ctx, r.db, newTxQueries, func(q *Queries) error {
		events, err := q.LockUnsent(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to fetch unsent outbox events: %w", err)
		}
		for _, e := range events {
			if err := publish(e); err != nil {
				// commit what went out; the rest waits for the next pass
				publishErr = err
				return nil
			}
			if err := q.MarkSent(ctx, e.ID); err != nil {
				return fmt.Errorf("failed to mark outbox event as sent: %w", err)
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, publishErr
}

func (r *Repository) CountPending(ctx context.Context) (int, error) {
	return NewQueries(r.db).CountPending(ctx)
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// PurgeSent deletes events sent more than retention ago.
func (r *Repository) PurgeSent(ctx context.Context, retention time.Duration) (int64, error) {
	return NewQueries(r.db).PurgeSent(ctx, time.Now().Add(-retention))
}
