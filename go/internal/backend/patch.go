package backend

import (
	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/models"
)

// ValidatePatch rejects settings values no backend would accept.
func ValidatePatch(patch models.SettingsPatch) error {
	if patch.Empty() {
		return apperr.Invalid("settings patch is empty")
	}
	if patch.CategoryID != nil && patch.ClearCategory {
		return apperr.Invalid("category cannot be set and cleared together")
	}
	if patch.TargetScore != nil && *patch.TargetScore <= 0 {
		return apperr.Invalid("target score must be positive, got %d", *patch.TargetScore)
	}
	if patch.TimeLimit != nil && *patch.TimeLimit < 0 {
		return apperr.Invalid("time limit must not be negative, got %d", *patch.TimeLimit)
	}
	return nil
}

// ApplyPatch writes the non-nil fields of patch onto game. A zero time
// limit is stored as untimed.
func ApplyPatch(game *models.Game, patch models.SettingsPatch) {
	if patch.ClearCategory {
		game.CategoryID = nil
	}
	if patch.CategoryID != nil {
		id := *patch.CategoryID
		game.CategoryID = &id
	}
	if patch.TargetScore != nil {
		game.TargetScore = *patch.TargetScore
	}
	if patch.TimeLimit != nil {
		if *patch.TimeLimit == 0 {
			game.TimeLimit = nil
		} else {
			limit := *patch.TimeLimit
			game.TimeLimit = &limit
		}
	}
}
