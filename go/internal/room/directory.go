// Package room creates, lists, joins and leaves rooms by their short code.
package room

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultCreateAttempts bounds code regeneration on collisions.
	DefaultCreateAttempts = 5
)

// JoinResult identifies the local participant after a join.
type JoinResult struct {
	ParticipantID int64
	UserID        string
	RoomID        int64
	GameID        int64
	Code          string
}

// LeaveResult reports the outcome of leave_room.
type LeaveResult struct {
	Success         bool
	RemovedUsername string
	RoomDeleted     bool
}

// Directory is the room entry point of a client.
type Directory struct {
	backend  backend.Backend
	attempts int
	newCode  func() (string, error)
}

// Option configures a Directory.
type Option func(*Directory)

// WithAttempts sets how many codes CreateRoom tries.
func WithAttempts(n int) Option {
	return func(d *Directory) {
		if n > 0 {
			d.attempts = n
		}
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(d *Directory) { d.newCode = gen }
}

// NewDirectory creates a Directory over b.
func NewDirectory(b backend.Backend, opts ...Option) *Directory {
	d := &Directory{
		backend:  b,
		attempts: DefaultCreateAttempts,
		newCode:  GenerateCode,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// GenerateCode returns a random room code.
func GenerateCode() (string, error) {
	return generateCode(rand.Reader)
}

// generateCode draws uniformly from codeAlphabet. Bytes at or above the
// largest multiple of the alphabet size are discarded.
func generateCode(src io.Reader) (string, error) {
	limit := 256 - 256%len(codeAlphabet)
	var sb strings.Builder
	buf := make([]byte, models.RoomCodeLength)
	for sb.Len() < models.RoomCodeLength {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit || sb.Len() == models.RoomCodeLength {
				continue
			}
			sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
		}
	}
	return sb.String(), nil
}

// CreateRoom creates a room with a fresh code, retrying on collisions.
func (d *Directory) CreateRoom(ctx context.Context, creator string) (string, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return "", apperr.Invalid("creator username is required")
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		code, err := d.newCode()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		res, err := d.backend.CreateRoom(ctx, code, creator)
		if err == nil {
			log.Info().Str("room_code", res.Code).Str("creator", creator).Int("attempt", attempt).Msg("room created")
			return res.Code, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return "", apperr.Unavailable("create room", err)
		}
		log.Debug().Str("room_code", code).Int("attempt", attempt).Msg("room code taken, retrying")
		lastErr = err
	}
	return "", fmt.Errorf("no free room code after %d attempts: %w", d.attempts, lastErr)
}

// JoinRoom validates input locally, then joins through the atomic procedure.
func (d *Directory) JoinRoom(ctx context.Context, code, username string) (*JoinResult, error) {
	code, username, err := validate(code, username)
	if err != nil {
		return nil, err
	}
	res, err := d.backend.JoinRoom(ctx, code, username)
	if err != nil {
		return nil, apperr.Unavailable("join room", err)
	}
	log.Info().Str("room_code", code).Str("username", username).Int64("participant_id", res.ParticipantID).Msg("joined room")
	return &JoinResult{
		ParticipantID: res.ParticipantID,
		UserID:        res.UserID.String(),
		RoomID:        res.RoomID,
		GameID:        res.GameID,
		Code:          code,
	}, nil
}

// LeaveRoom removes username from the room.
func (d *Directory) LeaveRoom(ctx context.Context, code, username string) (*LeaveResult, error) {
	code, username, err := validate(code, username)
	if err != nil {
		return nil, err
	}
	res, err := d.backend.LeaveRoom(ctx, code, username)
	if err != nil {
		return nil, apperr.Unavailable("leave room", err)
	}
	return &LeaveResult{Success: res.Success, RemovedUsername: res.RemovedUsername, RoomDeleted: res.RoomDeleted}, nil
}

// ListRooms returns recently created rooms, newest first.
func (d *Directory) ListRooms(ctx context.Context, limit int) ([]models.RoomSummary, error) {
	if limit <= 0 {
		limit = backend.DefaultListLimit
	}
	rooms, err := d.backend.ListRooms(ctx, limit)
	if err != nil {
		return nil, apperr.Unavailable("list rooms", err)
	}
	return rooms, nil
}

// ListCategories returns the categories a game can be configured with.
func (d *Directory) ListCategories(ctx context.Context) ([]models.Category, error) {
	cats, err := d.backend.ListCategories(ctx)
	if err != nil {
		return nil, apperr.Unavailable("list categories", err)
	}
	return cats, nil
}

func validate(code, username string) (string, string, error) {
	code = models.NormalizeRoomCode(code)
	if !models.ValidRoomCode(code) {
		return "", "", apperr.Invalid("room code %q must be %d letters or digits", code, models.RoomCodeLength)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", "", apperr.Invalid("username is required")
	}
	return code, username, nil
}
