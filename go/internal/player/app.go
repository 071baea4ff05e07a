// Package player composes the room directory, session, settings and round
// components into one game client for a single local player.
package player

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/relay"
	"github.com/mcdev12/trivia/go/internal/room"
	"github.com/mcdev12/trivia/go/internal/round"
	"github.com/mcdev12/trivia/go/internal/session"
	"github.com/mcdev12/trivia/go/internal/settings"
	"github.com/rs/zerolog/log"
)

// App is the client of one local player.
type App struct {
	username  string
	backend   backend.Backend
	directory *room.Directory
	boot      *session.Bootstrapper
	roundOpts []round.Option
	roomOpts  []room.Option
}

// Option configures an App.
type Option func(*App)

// WithRoundOptions passes options to every round controller.
func WithRoundOptions(opts ...round.Option) Option {
	return func(a *App) { a.roundOpts = append(a.roundOpts, opts...) }
}

// WithRoomOptions passes options to the room directory.
func WithRoomOptions(opts ...room.Option) Option {
	return func(a *App) { a.roomOpts = append(a.roomOpts, opts...) }
}

// NewApp creates a client for username over a backend and a relay.
func NewApp(b backend.Backend, r relay.Relay, username string, opts ...Option) (*App, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrNoUsername
	}
	a := &App{username: username, backend: b}
	for _, opt := range opts {
		opt(a)
	}
	a.directory = room.NewDirectory(b, a.roomOpts...)
	a.boot = session.NewBootstrapper(b, r)
	return a, nil
}

// Username returns the local player's name.
func (a *App) Username() string {
	return a.username
}

// Directory exposes the room directory.
func (a *App) Directory() *room.Directory {
	return a.directory
}

// ListRooms returns recent rooms.
func (a *App) ListRooms(ctx context.Context, limit int) ([]models.RoomSummary, error) {
	return a.directory.ListRooms(ctx, limit)
}

// ListCategories returns the selectable categories.
func (a *App) ListCategories(ctx context.Context) ([]models.Category, error) {
	return a.directory.ListCategories(ctx)
}

// CreateRoom creates a room and joins it.
func (a *App) CreateRoom(ctx context.Context) (*Game, error) {
	code, err := a.directory.CreateRoom(ctx, a.username)
	if err != nil {
		return nil, err
	}
	return a.Join(ctx, code)
}

// Join takes a seat in the room and enters its session.
func (a *App) Join(ctx context.Context, code string) (*Game, error) {
	joined, err := a.directory.JoinRoom(ctx, code, a.username)
	if err != nil {
		return nil, err
	}
	sess, err := a.boot.Enter(ctx, joined.Code, session.Identity{Username: a.username})
	if err != nil {
		return nil, fmt.Errorf("enter room %s: %w", joined.Code, err)
	}
	g := &Game{
		Code:          joined.Code,
		ParticipantID: joined.ParticipantID,
		Session:       sess,
		Settings:      settings.New(sess, a.backend),
		Round:         round.New(sess, a.backend, a.roundOpts...),
	}
	log.Info().Str("room_code", g.Code).Str("username", a.username).Msg("player in room")
	return g, nil
}

// Game is a player's handle on one room.
type Game struct {
	Code          string
	ParticipantID int64
	Session       *session.Session
	Settings      *settings.Controller
	Round         *round.Controller
}

// Leave gives up the seat and stops every component.
func (g *Game) Leave(ctx context.Context) (*backend.LeaveRoomResult, error) {
	g.Round.Close()
	return g.Session.Leave(ctx)
}

// Close stops every component without leaving the room.
func (g *Game) Close() {
	g.Round.Close()
	g.Session.Close()
}
