package rpc

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/models"
)

// Client implements backend.Backend against a remote Service.
type Client struct {
	createRoom         *connect.Client[CreateRoomRequest, backend.CreateRoomResult]
	joinRoom           *connect.Client[RoomMemberRequest, backend.JoinRoomResult]
	leaveRoom          *connect.Client[RoomMemberRequest, backend.LeaveRoomResult]
	startNewRound      *connect.Client[backend.StartRoundRequest, backend.RoundStart]
	incrementScore     *connect.Client[IncrementScoreRequest, backend.ScoreResult]
	finishGame         *connect.Client[GameRequest, models.Game]
	resetGame          *connect.Client[ResetGameRequest, models.Game]
	updateGameSettings *connect.Client[UpdateGameSettingsRequest, models.Game]
	insertGuess        *connect.Client[backend.InsertGuessRequest, models.Guess]
	getRoomByCode      *connect.Client[GetRoomByCodeRequest, models.Room]
	getGameByRoom      *connect.Client[GetGameByRoomRequest, models.Game]
	getGame            *connect.Client[GameRequest, models.Game]
	listParticipants   *connect.Client[ListRequest, ListParticipantsResponse]
	listRooms          *connect.Client[ListRequest, ListRoomsResponse]
	listCategories     *connect.Client[ListRequest, ListCategoriesResponse]
	listGuesses        *connect.Client[ListRequest, ListGuessesResponse]
}

var _ backend.Backend = (*Client)(nil)

// NewClient creates a Client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		createRoom:         connect.NewClient[CreateRoomRequest, backend.CreateRoomResult](httpClient, baseURL+CreateRoomProcedure, opts...),
		joinRoom:           connect.NewClient[RoomMemberRequest, backend.JoinRoomResult](httpClient, baseURL+JoinRoomProcedure, opts...),
		leaveRoom:          connect.NewClient[RoomMemberRequest, backend.LeaveRoomResult](httpClient, baseURL+LeaveRoomProcedure, opts...),
		startNewRound:      connect.NewClient[backend.StartRoundRequest, backend.RoundStart](httpClient, baseURL+StartNewRoundProcedure, opts...),
		incrementScore:     connect.NewClient[IncrementScoreRequest, backend.ScoreResult](httpClient, baseURL+IncrementScoreProcedure, opts...),
		finishGame:         connect.NewClient[GameRequest, models.Game](httpClient, baseURL+FinishGameProcedure, opts...),
		resetGame:          connect.NewClient[ResetGameRequest, models.Game](httpClient, baseURL+ResetGameProcedure, opts...),
		updateGameSettings: connect.NewClient[UpdateGameSettingsRequest, models.Game](httpClient, baseURL+UpdateGameSettingsProcedure, opts...),
		insertGuess:        connect.NewClient[backend.InsertGuessRequest, models.Guess](httpClient, baseURL+InsertGuessProcedure, opts...),
		getRoomByCode:      connect.NewClient[GetRoomByCodeRequest, models.Room](httpClient, baseURL+GetRoomByCodeProcedure, opts...),
		getGameByRoom:      connect.NewClient[GetGameByRoomRequest, models.Game](httpClient, baseURL+GetGameByRoomProcedure, opts...),
		getGame:            connect.NewClient[GameRequest, models.Game](httpClient, baseURL+GetGameProcedure, opts...),
		listParticipants:   connect.NewClient[ListRequest, ListParticipantsResponse](httpClient, baseURL+ListParticipantsProcedure, opts...),
		listRooms:          connect.NewClient[ListRequest, ListRoomsResponse](httpClient, baseURL+ListRoomsProcedure, opts...),
		listCategories:     connect.NewClient[ListRequest, ListCategoriesResponse](httpClient, baseURL+ListCategoriesProcedure, opts...),
		listGuesses:        connect.NewClient[ListRequest, ListGuessesResponse](httpClient, baseURL+ListGuessesProcedure, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], op string, req *Req) (*Res, error) {
	res, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fromConnectError(op, err)
	}
	return res.Msg, nil
}

func (c *Client) CreateRoom(ctx context.Context, code, creator string) (*backend.CreateRoomResult, error) {
	return call(ctx, c.createRoom, "create room", &CreateRoomRequest{Code: code, Creator: creator})
}

func (c *Client) JoinRoom(ctx context.Context, code, username string) (*backend.JoinRoomResult, error) {
	return call(ctx, c.joinRoom, "join room", &RoomMemberRequest{Code: code, Username: username})
}

func (c *Client) LeaveRoom(ctx context.Context, code, username string) (*backend.LeaveRoomResult, error) {
	return call(ctx, c.leaveRoom, "leave room", &RoomMemberRequest{Code: code, Username: username})
}

func (c *Client) StartNewRound(ctx context.Context, req backend.StartRoundRequest) (*backend.RoundStart, error) {
	return call(ctx, c.startNewRound, "start new round", &req)
}

func (c *Client) IncrementScore(ctx context.Context, participantID int64, increment int) (*backend.ScoreResult, error) {
	return call(ctx, c.incrementScore, "increment score", &IncrementScoreRequest{ParticipantID: participantID, Increment: increment})
}

func (c *Client) FinishGame(ctx context.Context, gameID int64) (*models.Game, error) {
	return call(ctx, c.finishGame, "finish game", &GameRequest{GameID: gameID})
}

func (c *Client) ResetGame(ctx context.Context, gameID, actorID int64) (*models.Game, error) {
	return call(ctx, c.resetGame, "reset game", &ResetGameRequest{GameID: gameID, ActorID: actorID})
}

func (c *Client) UpdateGameSettings(ctx context.Context, gameID, actorID int64, patch models.SettingsPatch) (*models.Game, error) {
	return call(ctx, c.updateGameSettings, "update game settings", &UpdateGameSettingsRequest{GameID: gameID, ActorID: actorID, Patch: patch})
}

func (c *Client) InsertGuess(ctx context.Context, req backend.InsertGuessRequest) (*models.Guess, error) {
	return call(ctx, c.insertGuess, "insert guess", &req)
}

func (c *Client) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	return call(ctx, c.getRoomByCode, "get room", &GetRoomByCodeRequest{Code: code})
}

func (c *Client) GetGameByRoom(ctx context.Context, roomID int64) (*models.Game, error) {
	return call(ctx, c.getGameByRoom, "get game by room", &GetGameByRoomRequest{RoomID: roomID})
}

func (c *Client) GetGame(ctx context.Context, gameID int64) (*models.Game, error) {
	return call(ctx, c.getGame, "get game", &GameRequest{GameID: gameID})
}

func (c *Client) ListParticipants(ctx context.Context, gameID int64) ([]models.Participant, error) {
	res, err := call(ctx, c.listParticipants, "list participants", &ListRequest{GameID: gameID})
	if err != nil {
		return nil, err
	}
	return res.Participants, nil
}

func (c *Client) ListRooms(ctx context.Context, limit int) ([]models.RoomSummary, error) {
	res, err := call(ctx, c.listRooms, "list rooms", &ListRequest{Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Rooms, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]models.Category, error) {
	res, err := call(ctx, c.listCategories, "list categories", &ListRequest{})
	if err != nil {
		return nil, err
	}
	return res.Categories, nil
}

func (c *Client) ListGuesses(ctx context.Context, gameID int64, limit int) ([]models.Guess, error) {
	res, err := call(ctx, c.listGuesses, "list guesses", &ListRequest{GameID: gameID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Guesses, nil
}
