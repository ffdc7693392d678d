// Package session defines platform sessions: the capability mask a
// session carries, the persisted record, and the store operations the
// login flow and request authenticator share.
//
// Store functions take a [postgres.Querier] rather than a concrete pool
// so the login flow can bundle user lookup, registration inserts, and
// session creation into one transaction while other callers run against
// the pool directly.
package session

import "strings"

// Mask is the set of capabilities a session grants. A full login session
// carries General; a session issued mid-registration (profile not yet
// created) carries only PutProfile and DeleteAccount so the holder can
// finish or abandon registration but nothing else.
type Mask uint8

const (
	// General grants ordinary API access.
	General Mask = 1 << iota

	// PutProfile grants profile creation/update.
	PutProfile

	// DeleteAccount grants account deletion.
	DeleteAccount
)

// RegistrationMask is the capability set of a session issued before the
// user has a profile.
const RegistrationMask = PutProfile | DeleteAccount

// Contains reports whether m grants every capability in required.
func (m Mask) Contains(required Mask) bool {
	return m&required == required
}

// String returns a pipe-separated list of capability names, or "none"
// for the zero mask.
func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m.Contains(General) {
		parts = append(parts, "general")
	}
	if m.Contains(PutProfile) {
		parts = append(parts, "put-profile")
	}
	if m.Contains(DeleteAccount) {
		parts = append(parts, "delete-account")
	}
	return strings.Join(parts, "|")
}
