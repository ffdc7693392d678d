// Package errors provides standardized error types and error handling
// utilities for the StricklySoft identity layer. It defines the error
// categories the session and login subsystem surfaces, machine-readable
// error codes, and helper functions for creating, wrapping, and inspecting
// errors.
//
// # Error Categories
//
// The package defines the failure categories of the identity layer:
//
//   - Validation errors: Invalid input, missing required fields
//   - Authentication errors: Missing, invalid, expired, or revoked credentials
//   - Authorization errors: Valid credentials with an insufficient capability mask
//   - NotFound errors: Resource does not exist
//   - Conflict errors: Email already registered, duplicate resource
//   - Internal errors: Unexpected system failures
//   - Unavailable errors: OAuth provider, JWK endpoint, or signing keys unavailable
//   - Timeout errors: Operation exceeded time limit
//
// # Error Codes
//
// Each error includes a machine-readable code (e.g., "AUTH_003") that can be
// used for error tracking, alerting, and client-side handling. Codes follow
// the pattern CATEGORY_XXX.
//
// # Propagation Policy
//
// Verifier and codec diagnostics (malformed token, bad signature, unknown
// key id, expired token, issuer/audience mismatch) carry distinct messages
// so logs stay actionable, but every AUTH_xxx code maps to HTTP 401 via
// [Error.HTTPStatus] — the API boundary never reveals which sub-cause
// rejected a credential.
//
// # Usage
//
// Create a new error with context:
//
//	err := errors.New(errors.CodeConflictEmail, "email is already registered")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeInternalDatabase, "failed to load session")
//
// Check error category:
//
//	if errors.IsAuthentication(err) {
//	    // respond 401 without detail
//	}
package errors
