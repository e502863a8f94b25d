package domain

import "errors"

// Error taxonomy. Handlers map these onto HTTP statuses and WS error codes;
// everything else wraps one of them.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrValidation        = errors.New("validation failed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrNotAMember        = errors.New("not a member of conversation")
	ErrTranslationFailed = errors.New("translation failed")

	// ErrDuplicateSession is part of the wire-code contract but has no
	// server-side return path today: the single-session policy supersedes
	// the old device instead of rejecting the new one. A strict variant of
	// the policy would reject with it.
	ErrDuplicateSession = errors.New("duplicate session policy violation")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrMessageDeleted       = errors.New("message deleted")
	ErrSessionNotFound      = errors.New("session not found")
)

// ErrorCode maps a taxonomy error onto its stable wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrPersistenceFailed):
		return "PERSISTENCE_FAILED"
	case errors.Is(err, ErrNotAMember):
		return "NOT_A_MEMBER"
	case errors.Is(err, ErrDuplicateSession):
		return "DUPLICATE_SESSION"
	case errors.Is(err, ErrTranslationFailed):
		return "TRANSLATION_FAILED"
	case errors.Is(err, ErrConversationNotFound):
		return "CONVERSATION_NOT_FOUND"
	case errors.Is(err, ErrMessageNotFound):
		return "MESSAGE_NOT_FOUND"
	case errors.Is(err, ErrMessageDeleted):
		return "MESSAGE_DELETED"
	case errors.Is(err, ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	}
	return "INTERNAL"
}
