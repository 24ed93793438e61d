package service

import (
	"errors"
	"fmt"
)

// 错误种类。HTTP 层只根据种类决定状态码。
var (
	ErrValidation       = errors.New("validation error")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrApprovalRequired = errors.New("approval required")
	ErrNotParticipant   = errors.New("not a participant")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidState     = errors.New("invalid state")
	ErrInternalServer   = errors.New("internal server error")
)

// Error 是带机器可读错误码的业务错误，Unwrap 返回其种类。
type Error struct {
	kind    error
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.kind }

// Is 让两个相同 Code 的错误被视为相等，方便 errors.Is(err, ErrRoomNotFound)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.kind == e.kind
}

func newError(kind error, code, message string) *Error {
	return &Error{kind: kind, Code: code, Message: message}
}

func validationf(code, format string, args ...interface{}) error {
	return newError(ErrValidation, code, fmt.Sprintf(format, args...))
}

// 常用的业务错误
var (
	ErrAuthenticationFailed = newError(ErrUnauthorized, "authentication_failed", "invalid username or password")
	ErrInvalidToken         = newError(ErrUnauthorized, "invalid_token", "invalid or expired token")
	ErrRegistrationFailed   = newError(ErrConflict, "username_taken", "registration failed: username already exists")

	ErrRoomNotFound        = newError(ErrNotFound, "room_not_found", "room not found")
	ErrSongNotFound        = newError(ErrNotFound, "song_not_found", "song not found")
	ErrSongNotInRoom       = newError(ErrNotFound, "song_not_in_room", "song is not in this room")
	ErrPlaylistNotFound    = newError(ErrNotFound, "playlist_not_found", "playlist not found")
	ErrJoinRequestNotFound = newError(ErrNotFound, "join_request_not_found", "join request not found")

	ErrNotRoomParticipant = newError(ErrNotParticipant, "not_participant", "you are not a participant in this room")
	ErrNotCreator         = newError(ErrForbidden, "not_creator", "only the room creator can do this")

	ErrPasswordRequired = newError(ErrValidation, "password_required", "password is required to join this room")
	ErrInvalidPassword  = newError(ErrForbidden, "invalid_password", "invalid room password")
	ErrApprovalPending  = newError(ErrApprovalRequired, "approval_pending", "your join request has not been approved yet")
	ErrMustRequestJoin  = newError(ErrApprovalRequired, "approval_required", "you must request to join this room first")
	ErrClosedToRequests = newError(ErrForbidden, "closed_to_requests", "room is not accepting new join requests")
	ErrNotApprovalRoom  = newError(ErrValidation, "not_approval_room", "this room does not require approval to join")
	ErrAlreadyPending   = newError(ErrConflict, "request_pending", "you already have a pending join request")
	ErrAlreadyMember    = newError(ErrValidation, "already_participant", "you are already a participant in this room")

	// ErrNotAcceptingRequests 与 ErrClosedToRequests 同码，用于 requestJoin，属于请求参数错误
	ErrNotAcceptingRequests = newError(ErrValidation, "closed_to_requests", "room is not accepting new join requests")

	ErrRequestNotPending  = newError(ErrInvalidState, "request_not_pending", "join request is not pending")
	ErrCreatorCannotLeave = newError(ErrInvalidState, "creator_cannot_leave", "creator cannot leave room while there are other participants")
	ErrSongAlreadyInRoom  = newError(ErrConflict, "song_already_in_room", "song is already in this room")
)

// KindOf 返回错误的种类，未知错误视为内部错误
func KindOf(err error) error {
	for _, kind := range []error{
		ErrValidation, ErrUnauthorized, ErrForbidden, ErrApprovalRequired,
		ErrNotParticipant, ErrNotFound, ErrConflict, ErrInvalidState,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternalServer
}

// CodeOf 返回错误码，没有错误码时根据种类给出默认值
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch KindOf(err) {
	case ErrValidation:
		return "validation_error"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrForbidden:
		return "forbidden"
	case ErrApprovalRequired:
		return "approval_required"
	case ErrNotParticipant:
		return "not_participant"
	case ErrNotFound:
		return "not_found"
	case ErrConflict:
		return "conflict"
	case ErrInvalidState:
		return "invalid_state"
	default:
		return "internal_error"
	}
}
