// Package rpc exposes backend.Backend over connect unary calls with a JSON
// codec, and provides a client implementing the same contract.
package rpc

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Service serves the backend contract.
type Service struct {
	backend backend.Backend
}

// NewService creates a Service over b.
func NewService(b backend.Backend) *Service {
	return &Service{backend: b}
}

// NewHandler builds the HTTP handler for every procedure. It returns the
// path prefix to mount it under.
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(loggingInterceptor()),
	}, opts...)
	b := svc.backend

	mux := http.NewServeMux()
	mux.Handle(CreateRoomProcedure, unary(CreateRoomProcedure, func(ctx context.Context, req *CreateRoomRequest) (*backend.CreateRoomResult, error) {
		return b.CreateRoom(ctx, req.Code, req.Creator)
	}, opts...))
	mux.Handle(JoinRoomProcedure, unary(JoinRoomProcedure, func(ctx context.Context, req *RoomMemberRequest) (*backend.JoinRoomResult, error) {
		return b.JoinRoom(ctx, req.Code, req.Username)
	}, opts...))
	mux.Handle(LeaveRoomProcedure, unary(LeaveRoomProcedure, func(ctx context.Context, req *RoomMemberRequest) (*backend.LeaveRoomResult, error) {
		return b.LeaveRoom(ctx, req.Code, req.Username)
	}, opts...))
	mux.Handle(StartNewRoundProcedure, unary(StartNewRoundProcedure, func(ctx context.Context, req *backend.StartRoundRequest) (*backend.RoundStart, error) {
		return b.StartNewRound(ctx, *req)
	}, opts...))
	mux.Handle(IncrementScoreProcedure, unary(IncrementScoreProcedure, func(ctx context.Context, req *IncrementScoreRequest) (*backend.ScoreResult, error) {
		return b.IncrementScore(ctx, req.ParticipantID, req.Increment)
	}, opts...))
	mux.Handle(FinishGameProcedure, unary(FinishGameProcedure, func(ctx context.Context, req *GameRequest) (*models.Game, error) {
		return b.FinishGame(ctx, req.GameID)
	}, opts...))
	mux.Handle(ResetGameProcedure, unary(ResetGameProcedure, func(ctx context.Context, req *ResetGameRequest) (*models.Game, error) {
		return b.ResetGame(ctx, req.GameID, req.ActorID)
	}, opts...))
	mux.Handle(UpdateGameSettingsProcedure, unary(UpdateGameSettingsProcedure, func(ctx context.Context, req *UpdateGameSettingsRequest) (*models.Game, error) {
		return b.UpdateGameSettings(ctx, req.GameID, req.ActorID, req.Patch)
	}, opts...))
	mux.Handle(InsertGuessProcedure, unary(InsertGuessProcedure, func(ctx context.Context, req *backend.InsertGuessRequest) (*models.Guess, error) {
		return b.InsertGuess(ctx, *req)
	}, opts...))
	mux.Handle(GetRoomByCodeProcedure, unary(GetRoomByCodeProcedure, func(ctx context.Context, req *GetRoomByCodeRequest) (*models.Room, error) {
		return b.GetRoomByCode(ctx, req.Code)
	}, opts...))
	mux.Handle(GetGameByRoomProcedure, unary(GetGameByRoomProcedure, func(ctx context.Context, req *GetGameByRoomRequest) (*models.Game, error) {
		return b.GetGameByRoom(ctx, req.RoomID)
	}, opts...))
	mux.Handle(GetGameProcedure, unary(GetGameProcedure, func(ctx context.Context, req *GameRequest) (*models.Game, error) {
		return b.GetGame(ctx, req.GameID)
	}, opts...))
	mux.Handle(ListParticipantsProcedure, unary(ListParticipantsProcedure, func(ctx context.Context, req *ListRequest) (*ListParticipantsResponse, error) {
		ps, err := b.ListParticipants(ctx, req.GameID)
		if err != nil {
			return nil, err
		}
		return &ListParticipantsResponse{Participants: ps}, nil
	}, opts...))
	mux.Handle(ListRoomsProcedure, unary(ListRoomsProcedure, func(ctx context.Context, req *ListRequest) (*ListRoomsResponse, error) {
		rooms, err := b.ListRooms(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		return &ListRoomsResponse{Rooms: rooms}, nil
	}, opts...))
	mux.Handle(ListCategoriesProcedure, unary(ListCategoriesProcedure, func(ctx context.Context, _ *ListRequest) (*ListCategoriesResponse, error) {
		cats, err := b.ListCategories(ctx)
		if err != nil {
			return nil, err
		}
		return &ListCategoriesResponse{Categories: cats}, nil
	}, opts...))
	mux.Handle(ListGuessesProcedure, unary(ListGuessesProcedure, func(ctx context.Context, req *ListRequest) (*ListGuessesResponse, error) {
		gs, err := b.ListGuesses(ctx, req.GameID, req.Limit)
		if err != nil {
			return nil, err
		}
		return &ListGuessesResponse{Guesses: gs}, nil
	}, opts...))

	return "/" + ServiceName + "/", mux
}

func unary[Req, Res any](procedure string, fn func(context.Context, *Req) (*Res, error), opts ...connect.HandlerOption) *connect.Handler {
	return connect.NewUnaryHandler(procedure, func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		res, err := fn(ctx, req.Msg)
		if err != nil {
			return nil, toConnectError(err)
		}
		return connect.NewResponse(res), nil
	}, opts...)
}

func loggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)
			evt := log.Debug()
			if err != nil {
				kind := apperr.KindOf(err)
				if kind == apperr.KindUnknown || kind == apperr.KindUnavailable {
					evt = log.Error()
				}
				evt = evt.Err(err).Str("kind", string(kind))
			}
			evt.Str("procedure", req.Spec().Procedure).Dur("took", time.Since(start)).Msg("rpc")
			return res, err
		}
	}
}
