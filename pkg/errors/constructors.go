package errors

import (
	"errors"
	"fmt"
)

// New builds an [*Error] with a code and message and no cause.
//
//	err := errors.New(errors.CodeConflictEmail, "email is already registered")
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf builds an [*Error] with a code and a formatted message.
//
//	err := errors.Newf(errors.CodeNotFoundSession, "session %q not found", sessionID)
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a code and message to an existing error, which becomes
// the Cause of the returned [*Error]. A nil err yields nil, so Wrap can
// sit directly on a return path.
//
//	row, err := db.Query(ctx, sql)
//	if err != nil {
//	    return errors.Wrap(err, errors.CodeInternalDatabase, "failed to load session")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf is [Wrap] with a formatted message. A nil err yields nil.
//
//	err := errors.Wrapf(err, errors.CodeInternalDatabase, "failed to load session %q", sessionID)
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Validation builds a [CodeValidation] error.
//
//	err := errors.Validation("authorization code is required")
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf builds a [CodeValidation] error with a formatted message.
//
//	err := errors.Validationf("field %q must be at least %d characters", field, minLen)
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFound builds a [CodeNotFound] error.
//
//	err := errors.NotFound("user not found")
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// NotFoundf builds a [CodeNotFound] error with a formatted message.
//
//	err := errors.NotFoundf("user %q not found", userID)
func NotFoundf(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// Unauthorized builds a [CodeAuthentication] error for missing,
// revoked, or unknown credentials.
//
//	err := errors.Unauthorized("no credentials presented")
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden builds a [CodeAuthorization] error for an authenticated
// session that lacks a required capability.
//
//	err := errors.Forbidden("session does not allow general API access")
func Forbidden(message string) *Error {
	return New(CodeAuthorization, message)
}

// Conflict builds a [CodeConflict] error for operations that collide
// with existing state.
//
//	err := errors.Conflict("email is already registered to another account")
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// Internal builds a [CodeInternal] error. The message is what clients
// see, so keep it generic; put the specifics in the log.
//
//	err := errors.Internal("an unexpected error occurred")
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Internalf builds a [CodeInternal] error with a formatted message.
//
//	err := errors.Internalf("failed to process request: %v", underlyingErr)
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// Unavailable builds a [CodeUnavailable] error for a dependency of the
// login path that is temporarily unreachable.
//
//	err := errors.Unavailable("identity provider is temporarily unavailable")
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// Timeout builds a [CodeTimeout] error.
//
//	err := errors.Timeout("request timed out after 30s")
func Timeout(message string) *Error {
	return New(CodeTimeout, message)
}

// FromError normalizes any error to an [*Error]: an existing *Error in
// the chain is returned as-is, anything else is wrapped as an internal
// error, and nil stays nil.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
