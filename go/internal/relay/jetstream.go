package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig configures the JetStream relay.
type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	Replicas        int
	DuplicateWindow time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "TRIVIA_CHANGES",
		SubjectPrefix:   "trivia.changes",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 10 * time.Minute,
	}
}

// JetStream relays changes over a JetStream stream. Every change is
// published once per scope column so a subscription is a single subject
// filter. Subscriptions use ordered consumers starting at new messages.
type JetStream struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg JetStreamConfig

	mu   sync.Mutex
	subs map[Handle]jetstream.ConsumeContext
}

// ConnectJetStream dials NATS and ensures the change stream exists.
func ConnectJetStream(ctx context.Context, cfg JetStreamConfig) (*JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	j, err := NewJetStream(ctx, nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return j, nil
}

// NewJetStream wraps an existing connection.
func NewJetStream(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig) (*JetStream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	j := &JetStream{nc: nc, js: js, cfg: cfg, subs: make(map[Handle]jetstream.ConsumeContext)}
	if err := j.ensureStream(ctx); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return j, nil
}

func (j *JetStream) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        j.cfg.StreamName,
		Description: "Row-level changes of trivia rooms and games",
		Subjects:    []string{j.cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      j.cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    j.cfg.Replicas,
		Duplicates:  j.cfg.DuplicateWindow,
	}
	if _, err := j.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream %s: %w", sc.Name, err)
	}
	log.Info().Str("stream", sc.Name).Str("subjects", sc.Subjects[0]).Msg("JetStream change stream ready")
	return nil
}

// Subject returns the subject carrying changes of table scoped by
// column=value.
func Subject(prefix, table, column, value string) string {
	return strings.Join([]string{prefix, table, column, value}, ".")
}

// Subjects returns the subjects a change is published on, one per scope
// column present in its row image.
func Subjects(prefix string, change models.Change) map[string]string {
	out := make(map[string]string)
	for _, col := range ScopeColumns[change.Table] {
		v, ok := ScopeValue(change, col)
		if !ok || !validToken(v) {
			continue
		}
		out[col] = Subject(prefix, change.Table, col, v)
	}
	return out
}

// Publish writes change to every scope subject, deduplicated by change id
// and column.
func (j *JetStream) Publish(ctx context.Context, change models.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	for col, subject := range Subjects(j.cfg.SubjectPrefix, change) {
		ack, err := j.js.PublishMsg(ctx, &nats.Msg{
			Subject: subject,
			Data:    data,
			Header: nats.Header{
				"Change-ID":   []string{change.ID.String()},
				"Change-Kind": []string{string(change.Kind)},
			},
		},
			jetstream.WithMsgID(change.ID.String()+"."+col),
			jetstream.WithExpectStream(j.cfg.StreamName),
		)
		if err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		log.Debug().
			Str("subject", subject).
			Str("change_id", change.ID.String()).
			Uint64("sequence", ack.Sequence).
			Bool("duplicate", ack.Duplicate).
			Msg("change published")
	}
	return nil
}

// Subscribe starts an ordered consumer on the filter's subject.
func (j *JetStream) Subscribe(ctx context.Context, filter Filter, onChange func(models.Change)) (Handle, error) {
	if err := filter.Validate(); err != nil {
		return "", fmt.Errorf("invalid filter: %w", err)
	}
	subject := Subject(j.cfg.SubjectPrefix, filter.Table, filter.Column, filter.Value)
	consumer, err := j.js.OrderedConsumer(ctx, j.cfg.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return "", fmt.Errorf("create consumer for %s: %w", subject, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var change models.Change
		if err := json.Unmarshal(msg.Data(), &change); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping undecodable change")
			return
		}
		onChange(change)
	})
	if err != nil {
		return "", fmt.Errorf("consume %s: %w", subject, err)
	}

	h := Handle(uuid.NewString())
	j.mu.Lock()
	j.subs[h] = cc
	j.mu.Unlock()
	log.Debug().Str("handle", string(h)).Str("subject", subject).Msg("JetStream subscription added")
	return h, nil
}

// Unsubscribe stops the consumer behind handle.
func (j *JetStream) Unsubscribe(handle Handle) error {
	j.mu.Lock()
	cc, ok := j.subs[handle]
	delete(j.subs, handle)
	j.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown subscription %q", handle)
	}
	cc.Stop()
	return nil
}

// Connected reports whether the NATS connection is up.
func (j *JetStream) Connected() bool {
	return j.nc != nil && j.nc.IsConnected()
}

// Close stops every consumer and drains the connection.
func (j *JetStream) Close() error {
	j.mu.Lock()
	subs := j.subs
	j.subs = make(map[Handle]jetstream.ConsumeContext)
	j.mu.Unlock()
	for _, cc := range subs {
		cc.Stop()
	}
	if j.nc != nil {
		return j.nc.Drain()
	}
	return nil
}

func validToken(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if !isTokenRune(r) {
			return false
		}
	}
	return true
}
