package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/trivia/go/internal/relay"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int           // Max events to fetch per batch
	Retention        time.Duration // How long sent events are kept, 0 keeps them
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		DatabaseURL:      "",
		NotifyChannel:    "trivia_changes",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
		Retention:        24 * time.Hour,
	}
}

// Notifier delivers NOTIFY payloads. *pq.Listener implements it.
type Notifier interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// ListenPostgres opens a pq.Listener on cfg.NotifyChannel.
func ListenPostgres(cfg ListenerConfig) (*pq.Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}
	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")
	return l, nil
}

// Listener relays captured changes to a publisher. Each NOTIFY carries the
// id of one change_outbox row; a fallback poll catches rows whose
// notification was missed.
type Listener struct {
	store     Store
	notifier  Notifier
	publisher relay.Publisher
	clock     clockwork.Clock
	cfg       ListenerConfig

	mu        sync.Mutex
	running   bool
	processed uint64
	lastEvent time.Time
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithClock sets the clock used for tickers and retry delays.
func WithClock(c clockwork.Clock) ListenerOption {
	return func(l *Listener) { l.clock = c }
}

func NewListener(store Store, notifier Notifier, publisher relay.Publisher, cfg ListenerConfig, opts ...ListenerOption) *Listener {
	l := &Listener{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		clock:     clockwork.NewRealClock(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs until ctx is cancelled. Rows left unsent by a previous run
// are relayed first.
func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	l.setRunning(true)
	defer l.setRunning(false)

	pingTicker := l.clock.NewTicker(l.cfg.PingInterval)
	fallbackTicker := l.clock.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	if err := l.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.notifier.Close()
		case note := <-l.notifier.NotificationChannel():
			if note == nil {
				// the connection was re-established; NOTIFYs may have been lost
				if err := l.processUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unsent events")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.Chan():
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
			l.purge(ctx)
		case <-pingTicker.Chan():
			if err := l.notifier.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// handleNotification relays the event named by a NOTIFY payload.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	claimed, err := l.store.ClaimByID(ctx, id, func(e Event) error {
		return l.publishWithRetry(ctx, e)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", id, err)
	}
	if claimed {
		l.recordProcessed(1)
		log.Debug().Str("event_id", id.String()).Msg("published and marked event as sent")
	}
	return nil
}

// processUnsent relays pending events batch by batch until none are left
// or a publish fails.
func (l *Listener) processUnsent(ctx context.Context) error {
	for {
		n, err := l.store.ClaimUnsent(ctx, l.cfg.BatchSize, func(e Event) error {
			return l.publishWithRetry(ctx, e)
		})
		l.recordProcessed(n)
		if err != nil {
			return err
		}
		if n < l.cfg.BatchSize {
			if n > 0 {
				log.Info().Int("count", n).Msg("relayed unsent events")
			}
			return nil
		}
	}
}

func (l *Listener) purge(ctx context.Context) {
	if l.cfg.Retention <= 0 {
		return
	}
	n, err := l.store.PurgeSent(ctx, l.cfg.Retention)
	if err != nil {
		log.Error().Err(err).Msg("failed to purge sent events")
		return
	}
	if n > 0 {
		log.Debug().Int64("count", n).Msg("purged sent events")
	}
}

// publishWithRetry attempts to publish an outbox event with a linear
// backoff of RetryDelay per attempt.
func (l *Listener) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error
	change := event.Change()

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.clock.After(delay):
			}
		}

		if err := l.publisher.Publish(ctx, change); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}

func (l *Listener) setRunning(v bool) {
	l.mu.Lock()
	l.running = v
	l.mu.Unlock()
}

func (l *Listener) recordProcessed(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	l.processed += uint64(n)
	l.lastEvent = l.clock.Now()
	l.mu.Unlock()
}

// Stats returns the number of relayed events and when the last one went out.
func (l *Listener) Stats() (processed uint64, last time.Time, running bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed, l.lastEvent, l.running
}
