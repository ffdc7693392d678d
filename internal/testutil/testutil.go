// Package testutil holds the error-code assertion helpers shared by the
// identity service test suite.
//
// Helpers take [testing.TB] so they work from tests and benchmarks alike,
// and every helper calls t.Helper() so failures point at the caller.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

// RequireNoError stops the test when err is non-nil. Use it for setup
// steps where continuing after a failure would only produce noise.
func RequireNoError(t testing.TB, err error, msgAndArgs ...any) {
	t.Helper()
	require.NoError(t, err, msgAndArgs...)
}

// RequireErrorCode stops the test unless err is an [*sserr.Error]
// carrying the given code. This is the standard way the suite checks
// that an operation failed for the right reason, not merely that it
// failed.
//
//	_, err := session.Get(ctx, db, unknownID)
//	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundSession)
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	ssErr, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
}

// AssertErrorCode is the non-fatal variant of [RequireErrorCode] for
// table-driven tests, where one bad row should not hide the rest.
// It reports whether the assertion held.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	ssErr, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
}
