package errors

import (
	"errors"
)

// AsError extracts the first *Error in err's chain. It returns the
// extracted error and true, or nil and false when the chain holds no
// *Error.
//
//	if e, ok := errors.AsError(err); ok {
//	    log.Printf("error code: %s, message: %s", e.Code, e.Message)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code carried by err, or the empty string when err
// is nil or carries no *Error.
//
//	if errors.GetCode(err) == errors.CodeConflictEmail {
//	    // surface as 409
//	}
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries exactly the given code.
//
//	if errors.HasCode(err, errors.CodeAuthenticationExpired) {
//	    // token expired; no session lookup was attempted
//	}
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// categoryIs reports whether err carries an *Error in any of the given
// code categories.
func categoryIs(err error, categories ...string) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	cat := e.Code.Category()
	for _, want := range categories {
		if cat == want {
			return true
		}
	}
	return false
}

// IsValidation reports whether err carries a VAL_xxx code. Validation
// failures map to 400 at the API boundary.
func IsValidation(err error) bool {
	return categoryIs(err, "VAL")
}

// IsAuthentication reports whether err carries an AUTH_xxx code.
// Authentication failures map to 401 with no sub-cause exposed.
func IsAuthentication(err error) bool {
	return categoryIs(err, "AUTH")
}

// IsAuthorization reports whether err carries an AUTHZ_xxx code.
// An authenticated session that lacks a capability maps to 403.
func IsAuthorization(err error) bool {
	return categoryIs(err, "AUTHZ")
}

// IsNotFound reports whether err carries an NF_xxx code.
func IsNotFound(err error) bool {
	return categoryIs(err, "NF")
}

// IsConflict reports whether err carries a CONF_xxx code, such as the
// email-already-registered conflict raised during registration.
func IsConflict(err error) bool {
	return categoryIs(err, "CONF")
}

// IsInternal reports whether err carries an INT_xxx code. Internal
// errors are logged in full but surfaced to clients as a generic
// message.
func IsInternal(err error) bool {
	return categoryIs(err, "INT")
}

// IsUnavailable reports whether err carries an UNAVAIL_xxx code, such
// as an unreachable identity provider or an empty key cache.
func IsUnavailable(err error) bool {
	return categoryIs(err, "UNAVAIL")
}

// IsTimeout reports whether err carries a TIMEOUT_xxx code.
func IsTimeout(err error) bool {
	return categoryIs(err, "TIMEOUT")
}

// IsRetryable reports whether retrying the failed operation may
// succeed. Timeouts and unavailable dependencies are retryable;
// everything else, including internal errors, is not, because the
// cause is unknown.
//
//	if errors.IsRetryable(err) {
//	    // retry with backoff
//	}
func IsRetryable(err error) bool {
	return categoryIs(err, "TIMEOUT", "UNAVAIL")
}

// IsClientError reports whether err is the caller's fault: validation,
// authentication, authorization, not-found, and conflict codes, i.e.
// everything that maps to a 4xx status.
func IsClientError(err error) bool {
	return categoryIs(err, "VAL", "AUTH", "AUTHZ", "NF", "CONF")
}

// IsServerError reports whether err is the service's fault: internal,
// unavailable, and timeout codes, i.e. everything that maps to a 5xx
// status. Server errors are the ones worth alerting on.
func IsServerError(err error) bool {
	return categoryIs(err, "INT", "UNAVAIL", "TIMEOUT")
}
