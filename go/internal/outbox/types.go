package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/sqlc-dev/pqtype"
)

// Event is a change_outbox row written by the capture_change trigger.
type Event struct {
	ID        uuid.UUID
	Seq       int64
	Table     string
	Kind      string
	Before    pqtype.NullRawMessage
	After     pqtype.NullRawMessage
	CreatedAt time.Time
	SentAt    *time.Time
}

// Change converts the row into the relay's change event.
func (e Event) Change() models.Change {
	ch := models.Change{
		ID:          e.ID,
		Table:       e.Table,
		Kind:        models.ChangeKind(e.Kind),
		CommittedAt: e.CreatedAt,
	}
	if e.Before.Valid {
		ch.Before = e.Before.RawMessage
	}
	if e.After.Valid {
		ch.After = e.After.RawMessage
	}
	return ch
}
