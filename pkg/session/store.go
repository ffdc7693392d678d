package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/StricklySoft/stricklysoft-identity/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

// Record is a persisted session row. Rows are immutable after creation
// except for the Revoked flag; expiry and revocation are judged at read
// time, never written back.
type Record struct {
	// ID is the session identifier embedded in issued tokens.
	ID uuid.UUID

	// UserID is the session owner.
	UserID uuid.UUID

	// Mask is the capability set granted at creation.
	Mask Mask

	// CreatedAt is the wall-clock creation instant.
	CreatedAt time.Time

	// ValidUntil bounds the session lifetime. Nil means the session has
	// no fixed expiry and stays active until revoked.
	ValidUntil *time.Time

	// Revoked marks the session dead regardless of ValidUntil.
	Revoked bool

	// ImpersonatorID records the administrator a session was issued on
	// behalf of, when the session is an impersonation session.
	ImpersonatorID *uuid.UUID
}

// ActiveAt reports whether the session is live at the given wall time:
// not revoked, and within ValidUntil when one is set.
func (r *Record) ActiveAt(now time.Time) bool {
	if r.Revoked {
		return false
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return false
	}
	return true
}

// CreateParams describes a session to be created.
type CreateParams struct {
	UserID         uuid.UUID
	Mask           Mask
	CreatedAt      time.Time
	ValidUntil     *time.Time
	ImpersonatorID *uuid.UUID
}

// Create inserts a new session row and returns its id. The id is
// generated here so callers can embed it in a token before the enclosing
// transaction commits.
func Create(ctx context.Context, q postgres.Querier, params CreateParams) (uuid.UUID, error) {
	id := uuid.New()

	_, err := q.Exec(ctx, `
		INSERT INTO session (id, user_id, mask, created_at, valid_until, revoked, impersonator_user_id)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		id, params.UserID, int16(params.Mask), params.CreatedAt, params.ValidUntil, params.ImpersonatorID,
	)
	if err != nil {
		return uuid.Nil, sserr.Wrap(err, sserr.CodeInternalDatabase,
			"session: failed to create session")
	}
	return id, nil
}

// Get loads a session by id. Returns [sserr.CodeNotFoundSession] when no
// row exists; liveness is the caller's judgment via [Record.ActiveAt].
func Get(ctx context.Context, q postgres.Querier, id uuid.UUID) (*Record, error) {
	var (
		rec  Record
		mask int16
	)
	err := q.QueryRow(ctx, `
		SELECT id, user_id, mask, created_at, valid_until, revoked, impersonator_user_id
		FROM session
		WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.UserID, &mask, &rec.CreatedAt, &rec.ValidUntil, &rec.Revoked, &rec.ImpersonatorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sserr.Newf(sserr.CodeNotFoundSession, "session: %q not found", id)
		}
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase,
			"session: failed to load session")
	}
	rec.Mask = Mask(mask)
	return &rec, nil
}

// Revoke marks a session dead. Revoking an already-revoked or missing
// session is not an error; the end state is the same.
func Revoke(ctx context.Context, q postgres.Querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE session SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternalDatabase,
			"session: failed to revoke session")
	}
	return nil
}

// Reap deletes sessions whose ValidUntil has passed and returns the
// number of rows removed. Sessions with no ValidUntil are never reaped.
func Reap(ctx context.Context, q postgres.Querier, now time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `DELETE FROM session WHERE valid_until IS NOT NULL AND valid_until < $1`, now)
	if err != nil {
		return 0, sserr.Wrap(err, sserr.CodeInternalDatabase,
			"session: failed to reap expired sessions")
	}
	return tag.RowsAffected(), nil
}
