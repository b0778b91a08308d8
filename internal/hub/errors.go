package hub

import "errors"

// Error taxonomy for the hub. Each sentinel maps to exactly one wire error
// kind (see errorKind) so handlers can translate component failures into
// error frames for the originating connection without string matching.
var (
	ErrAuth                = errors.New("authentication failed")
	ErrDuplicateConnection = errors.New("user already has a live connection for this group")
	ErrEmptyMessage        = errors.New("message body is empty")
	ErrCallRoomBusy        = errors.New("call room already has an active call")
	ErrParticipantGone     = errors.New("call participant has already left")
	ErrInvalidCallState    = errors.New("call event not valid in current state")
	ErrProtocolViolation   = errors.New("malformed or unknown frame")
	ErrGroupAccess         = errors.New("group does not exist or user is not a member")
	ErrUnknownConnection   = errors.New("connection is not registered")
	ErrStore               = errors.New("message persistence failed")
)

// errorKind converts a component error into the wire-level errorKind string.
// Unrecognized errors are reported as internal so callers never leak raw
// error text from collaborators to clients.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth_error"
	case errors.Is(err, ErrDuplicateConnection):
		return "duplicate_connection"
	case errors.Is(err, ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, ErrCallRoomBusy):
		return "call_room_busy"
	case errors.Is(err, ErrParticipantGone):
		return "participant_gone"
	case errors.Is(err, ErrInvalidCallState):
		return "invalid_call_state"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrGroupAccess):
		return "group_access_denied"
	case errors.Is(err, ErrStore):
		return "store_error"
	default:
		return "internal"
	}
}
