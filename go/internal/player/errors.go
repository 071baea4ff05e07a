package player

import "errors"

// ErrNoUsername is returned when a client is built without a player name.
var ErrNoUsername = errors.New("username is required")
