package rpc

import "github.com/mcdev12/trivia/go/internal/models"

// ServiceName is the fully-qualified name of the trivia RPC service.
const ServiceName = "trivia.v1.TriviaService"

// Procedure paths.
const (
	CreateRoomProcedure         = "/" + ServiceName + "/CreateRoom"
	JoinRoomProcedure           = "/" + ServiceName + "/JoinRoom"
	LeaveRoomProcedure          = "/" + ServiceName + "/LeaveRoom"
	StartNewRoundProcedure      = "/" + ServiceName + "/StartNewRound"
	IncrementScoreProcedure     = "/" + ServiceName + "/IncrementScore"
	FinishGameProcedure         = "/" + ServiceName + "/FinishGame"
	ResetGameProcedure          = "/" + ServiceName + "/ResetGame"
	UpdateGameSettingsProcedure = "/" + ServiceName + "/UpdateGameSettings"
	InsertGuessProcedure        = "/" + ServiceName + "/InsertGuess"
	GetRoomByCodeProcedure      = "/" + ServiceName + "/GetRoomByCode"
	GetGameByRoomProcedure      = "/" + ServiceName + "/GetGameByRoom"
	GetGameProcedure            = "/" + ServiceName + "/GetGame"
	ListParticipantsProcedure   = "/" + ServiceName + "/ListParticipants"
	ListRoomsProcedure          = "/" + ServiceName + "/ListRooms"
	ListCategoriesProcedure     = "/" + ServiceName + "/ListCategories"
	ListGuessesProcedure        = "/" + ServiceName + "/ListGuesses"
)

type CreateRoomRequest struct {
	Code    string `json:"code"`
	Creator string `json:"creator"`
}

type RoomMemberRequest struct {
	Code     string `json:"code"`
	Username string `json:"username"`
}

type IncrementScoreRequest struct {
	ParticipantID int64 `json:"participant_id"`
	Increment     int   `json:"increment"`
}

type GameRequest struct {
	GameID int64 `json:"game_id"`
}

type ResetGameRequest struct {
	GameID  int64 `json:"game_id"`
	ActorID int64 `json:"actor_id"`
}

type UpdateGameSettingsRequest struct {
	GameID  int64                `json:"game_id"`
	ActorID int64                `json:"actor_id"`
	Patch   models.SettingsPatch `json:"patch"`
}

type GetRoomByCodeRequest struct {
	Code string `json:"code"`
}

type GetGameByRoomRequest struct {
	RoomID int64 `json:"room_id"`
}

type ListRequest struct {
	GameID int64 `json:"game_id,omitempty"`
	Limit  int   `json:"limit,omitempty"`
}

type ListParticipantsResponse struct {
	Participants []models.Participant `json:"participants"`
}

type ListRoomsResponse struct {
	Rooms []models.RoomSummary `json:"rooms"`
}

type ListCategoriesResponse struct {
	Categories []models.Category `json:"categories"`
}

type ListGuessesResponse struct {
	Guesses []models.Guess `json:"guesses"`
}
