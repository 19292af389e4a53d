package domain

import "errors"

type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindAuthorization ErrorKind = "authorization"
	KindValidation    ErrorKind = "validation"
	KindConflict      ErrorKind = "conflict"
	KindInternal      ErrorKind = "internal"
)

// Error carries a stable kind and a caller-safe message. Err, when set,
// is the underlying cause and is never shown to callers.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NotFound(msg string) *Error     { return NewError(KindNotFound, msg) }
func Unauthorized(msg string) *Error { return NewError(KindAuthorization, msg) }
func Invalid(msg string) *Error      { return NewError(KindValidation, msg) }
func Conflict(msg string) *Error     { return NewError(KindConflict, msg) }

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// WithCause keeps e matchable with errors.Is while recording the cause.
func WithCause(e *Error, err error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Err: errors.Join(e, err)}
}

// KindOf classifies err. Errors that are not *Error are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage is the text safe to return to a caller.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}

var (
	ErrInvalidConversationID     = Invalid("invalid conversation id")
	ErrInvalidMessageID          = Invalid("invalid message id")
	ErrInvalidUserID             = Invalid("invalid user id")
	ErrSelfConversation          = Invalid("cannot message yourself")
	ErrEmptyContent              = Invalid("message content is required")
	ErrContentTooLong            = Invalid("message content is too long")
	ErrInvalidEncoding           = Invalid("message content must be valid UTF-8")
	ErrInvalidMessageType        = Invalid("invalid message type")
	ErrConversationBlocked       = Invalid("conversation is blocked")
	ErrConversationNotFound      = NotFound("conversation not found")
	ErrMessageNotFound           = NotFound("message not found")
	ErrUserNotFound              = NotFound("user not found")
	ErrNotParticipant            = Unauthorized("not a participant of this conversation")
	ErrNotSender                 = Unauthorized("only the sender can modify this message")
	ErrNotReceiver               = Unauthorized("only the receiver can mark this message read")
	ErrConversationAlreadyExists = Conflict("conversation already exists")
	ErrConversationCreateRace    = Conflict("conversation creation conflict, retry later")
)
