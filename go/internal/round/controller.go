// Package round runs the client-side round clock and the play actions of a
// game: starting, guessing, advancing and resetting.
package round

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/session"
	"github.com/rs/zerolog/log"
)

// State is the round clock state.
type State string

const (
	StateAwaitingQuestion State = "awaiting_question"
	StateActive           State = "active"
	StateExpiring         State = "expiring"
	StateAdvancing        State = "advancing"
)

const (
	// DefaultGracePeriod is how long a follower waits for the leader to
	// advance an expired round before advancing itself.
	DefaultGracePeriod = 5 * time.Second

	tickInterval = time.Second
)

// Tick is published once per second while a timed round runs.
type Tick struct {
	Remaining  time.Duration
	Limit      time.Duration
	RoundStart time.Time
	ItemID     int64
	State      State
}

// Controller follows the game's round fields and keeps a local countdown.
type Controller struct {
	session *session.Session
	backend backend.Backend
	clock   clockwork.Clock
	grace   time.Duration
	points  PointsPolicy

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	gen        uint64
	roundStart time.Time
	itemID     int64
	limit      time.Duration
	ticker     clockwork.Ticker
	expiry     clockwork.Timer
	graceTimer clockwork.Timer
	stop       chan struct{}

	listenersMu sync.RWMutex
	onTick      []func(Tick)
	onState     []func(State)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock driving the countdown.
func WithClock(c clockwork.Clock) Option {
	return func(rc *Controller) { rc.clock = c }
}

// WithGracePeriod sets the follower fallback delay.
func WithGracePeriod(d time.Duration) Option {
	return func(rc *Controller) {
		if d > 0 {
			rc.grace = d
		}
	}
}

// WithPoints sets the points policy for correct guesses.
func WithPoints(p PointsPolicy) Option {
	return func(rc *Controller) {
		if p != nil {
			rc.points = p
		}
	}
}

// New creates a Controller bound to s and starts following its game.
func New(s *session.Session, b backend.Backend, opts ...Option) *Controller {
	c := &Controller{
		session: s,
		backend: b,
		clock:   clockwork.NewRealClock(),
		grace:   DefaultGracePeriod,
		points:  FixedPoints(DefaultPoints),
		state:   StateAwaitingQuestion,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	s.OnGame(c.Observe)
	s.OnLeaderChange(c.leaderChanged)
	s.OnClosed(c.Close)
	c.Observe(s.Game())
	return c
}

// OnTick registers fn for countdown ticks.
func (c *Controller) OnTick(fn func(Tick)) {
	c.listenersMu.Lock()
	c.onTick = append(c.onTick, fn)
	c.listenersMu.Unlock()
}

// OnState registers fn for state transitions.
func (c *Controller) OnState(fn func(State)) {
	c.listenersMu.Lock()
	c.onState = append(c.onState, fn)
	c.listenersMu.Unlock()
}

// State returns the current clock state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the time left in the current round. Untimed rounds and
// rounds not yet started report zero.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *Controller) remainingLocked() time.Duration {
	if c.roundStart.IsZero() || c.limit == 0 {
		return 0
	}
	return Remaining(c.clock.Now(), c.roundStart, c.limit)
}

// Observe reschedules the clock when the game's round fields change.
// Re-applying the same round is a no-op.
func (c *Controller) Observe(game models.Game) {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}

	if game.State != models.GameStateInProgress || !game.HasRound() {
		wasIdle := c.state == StateAwaitingQuestion && c.roundStart.IsZero()
		c.resetLocked()
		c.mu.Unlock()
		if !wasIdle {
			c.emitState(StateAwaitingQuestion)
		}
		return
	}

	if c.roundStart.Equal(*game.RoundStart) && c.itemID == game.CurrentItem.ID {
		c.mu.Unlock()
		return
	}

	c.resetLocked()
	c.roundStart = *game.RoundStart
	c.itemID = game.CurrentItem.ID
	c.limit = game.RoundLimit()
	c.state = StateActive
	gen := c.gen

	log.Debug().
		Int64("game_id", game.ID).
		Int64("item_id", c.itemID).
		Time("round_start", c.roundStart).
		Dur("limit", c.limit).
		Msg("round observed")

	if c.limit == 0 {
		c.mu.Unlock()
		c.emitState(StateActive)
		return
	}

	c.stop = make(chan struct{})
	left := c.remainingLocked()
	if left <= 0 {
		c.mu.Unlock()
		c.emitState(StateActive)
		c.expire(gen)
		return
	}

	c.ticker = c.clock.NewTicker(tickInterval)
	c.expiry = c.clock.NewTimer(left)
	go c.run(gen, c.stop, c.ticker, c.expiry)
	tick := c.tickLocked()
	c.mu.Unlock()

	c.emitState(StateActive)
	c.emitTick(tick)
}

// resetLocked invalidates every timer of the previous round.
func (c *Controller) resetLocked() {
	c.gen++
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	if c.expiry != nil {
		stopAndDrainTimer(c.expiry)
		c.expiry = nil
	}
	if c.graceTimer != nil {
		stopAndDrainTimer(c.graceTimer)
		c.graceTimer = nil
	}
	c.state = StateAwaitingQuestion
	c.roundStart = time.Time{}
	c.itemID = 0
	c.limit = 0
}

func (c *Controller) run(gen uint64, stop <-chan struct{}, ticker clockwork.Ticker, expiry clockwork.Timer) {
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.Chan():
			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return
			}
			tick := c.tickLocked()
			c.mu.Unlock()
			c.emitTick(tick)
		case <-expiry.Chan():
			c.mu.Lock()
			if gen == c.gen && c.ticker != nil {
				c.ticker.Stop()
			}
			c.mu.Unlock()
			c.expire(gen)
			return
		}
	}
}

func (c *Controller) tickLocked() Tick {
	return Tick{
		Remaining:  c.remainingLocked(),
		Limit:      c.limit,
		RoundStart: c.roundStart,
		ItemID:     c.itemID,
		State:      c.state,
	}
}

// expire moves an active round to expiring. The leader advances at once;
// followers arm the grace timer.
func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.state = StateExpiring
	tick := c.tickLocked()
	leader := c.session.IsLeader()
	if !leader {
		c.armGraceLocked(gen)
	}
	c.mu.Unlock()

	c.emitTick(tick)
	c.emitState(StateExpiring)
	log.Debug().Bool("leader", leader).Int64("item_id", tick.ItemID).Msg("round expired")

	if leader {
		c.advance(gen)
	}
}

func (c *Controller) armGraceLocked(gen uint64) {
	if c.graceTimer != nil {
		stopAndDrainTimer(c.graceTimer)
	}
	timer := c.clock.NewTimer(c.grace)
	c.graceTimer = timer
	stop := c.stop
	go func() {
		select {
		case <-timer.Chan():
			log.Info().Msg("no round advance observed within grace period, advancing")
			c.advance(gen)
		case <-stop:
		case <-c.ctx.Done():
		}
	}()
}

func (c *Controller) leaderChanged(leader models.Participant, ok bool) {
	if !ok {
		return
	}
	self, found := c.session.Self()
	if !found || self.ID != leader.ID {
		return
	}
	c.mu.Lock()
	expiring := c.state == StateExpiring
	gen := c.gen
	c.mu.Unlock()
	if expiring {
		log.Info().Int64("participant_id", self.ID).Msg("became leader with an expired round, advancing")
		c.advance(gen)
	}
}

// advance asks the backend for the next round, guarded by the round start
// this client observed so concurrent callers collapse into one transition.
func (c *Controller) advance(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateExpiring {
		c.mu.Unlock()
		return
	}
	c.state = StateAdvancing
	expected := c.roundStart
	c.mu.Unlock()
	c.emitState(StateAdvancing)

	gameID := c.session.Game().ID
	res, err := c.backend.StartNewRound(c.ctx, backend.StartRoundRequest{GameID: gameID, ExpectedRoundStart: &expected})
	if err != nil {
		if errors.Is(err, apperr.ErrLocked) || c.ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Int64("game_id", gameID).Msg("round advance failed")
		c.mu.Lock()
		if gen == c.gen && c.state == StateAdvancing {
			c.state = StateExpiring
			c.armGraceLocked(gen)
		}
		c.mu.Unlock()
		return
	}
	log.Debug().Int64("game_id", gameID).Bool("advanced", res.Advanced).Int64("item_id", res.Item.ID).Msg("round advance requested")
}

// Close stops every timer. The controller ignores later game updates.
func (c *Controller) Close() {
	c.cancel()
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

func (c *Controller) emitTick(t Tick) {
	c.listenersMu.RLock()
	fns := c.onTick
	c.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(t)
	}
}

func (c *Controller) emitState(s State) {
	c.listenersMu.RLock()
	fns := c.onState
	c.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

// stopAndDrainTimer stops a timer and drains a pending fire.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
