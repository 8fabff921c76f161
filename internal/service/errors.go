package service

import "errors"

// 错误类别，handler 通过 errors.Is 将其映射为 HTTP 状态码。
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
)

// kindError 的 Error() 只包含面向调用方的描述，类别通过 Unwrap 暴露。
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newError(msg string, kind error) error { return &kindError{msg: msg, kind: kind} }

// 业务层具体错误，均属于上面的某个类别。
var (
	ErrInvalidCredentials   = newError("invalid credentials", ErrUnauthorized)
	ErrUsernameTaken        = newError("username taken", ErrConflict)
	ErrSelfRelationship     = newError("cannot target yourself", ErrValidation)
	ErrNoPendingRequest     = newError("no pending request", ErrValidation)
	ErrEmptyContent         = newError("content is empty", ErrValidation)
	ErrContentTooLong       = newError("content too long", ErrValidation)
	ErrInvalidID            = newError("invalid id", ErrValidation)
	ErrUserNotFound         = newError("user not found", ErrNotFound)
	ErrRoomNotFound         = newError("room not found", ErrNotFound)
	ErrRelationshipNotFound = newError("relationship not found", ErrNotFound)
	ErrNotMember            = newError("not a member of this room", ErrForbidden)
	ErrNotFriends           = newError("direct messages require friendship", ErrForbidden)
)
