package session

import "errors"

var ErrInvalidJoinCode = errors.New("invalid join code")
var ErrGameFull = errors.New("game is full")
var ErrGameAlreadyStarted = errors.New("game already started")
var ErrInsufficientPlayers = errors.New("not enough players to start")
var ErrNotGameCreator = errors.New("only the game creator may do this")
var ErrNewOwnerNotOnline = errors.New("new owner is not online")
var ErrNotYourTurn = errors.New("not your turn")
var ErrGameNotActive = errors.New("game is not accepting actions")
var ErrNotMember = errors.New("user is not a member of this game")
var ErrForbidden = errors.New("forbidden")
var ErrInternal = errors.New("internal error")

// Code maps an error to the stable wire code callers branch on. Unknown
// errors collapse to Internal so internals never leak to clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidJoinCode):
		return "InvalidJoinCode"
	case errors.Is(err, ErrGameFull):
		return "GameFull"
	case errors.Is(err, ErrGameAlreadyStarted):
		return "GameAlreadyStarted"
	case errors.Is(err, ErrInsufficientPlayers):
		return "InsufficientPlayers"
	case errors.Is(err, ErrNotGameCreator):
		return "NotGameCreator"
	case errors.Is(err, ErrNewOwnerNotOnline):
		return "NewOwnerNotOnline"
	case errors.Is(err, ErrNotYourTurn):
		return "NotYourTurn"
	case errors.Is(err, ErrGameNotActive):
		return "GameNotActive"
	case errors.Is(err, ErrNotMember):
		return "NotMember"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	default:
		return "Internal"
	}
}
