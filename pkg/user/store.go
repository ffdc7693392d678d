// Package user persists platform users and their linked OAuth
// identities. Like the session store, every function takes a
// [postgres.Querier] so the login flow can run lookup and registration
// inside one transaction.
//
// Schema notes: a user row is an anchor with no attributes of its own;
// the address lives in user_email (unique on email), the provider link
// in oauth_identity (unique on provider+subject), and the
// user-visible profile in its own table. A user without a profile row
// is mid-registration.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/stricklysoft-identity/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
)

// emailUniqueConstraint is the unique index registration collides with
// when the email already belongs to another user.
const emailUniqueConstraint = "user_email_email_key"

// FindByOAuthIdentity resolves the user linked to an OAuth
// (provider, subject) pair. Returns [sserr.CodeNotFoundUser] when no
// link exists, which during login means the subject is registering.
func FindByOAuthIdentity(ctx context.Context, q postgres.Querier, provider, subject string) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		SELECT user_id FROM oauth_identity
		WHERE provider = $1 AND subject = $2`,
		provider, subject,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, sserr.Newf(sserr.CodeNotFoundUser,
				"user: no user linked to %s identity", provider)
		}
		return uuid.Nil, sserr.Wrap(err, sserr.CodeInternalDatabase,
			"user: failed to look up oauth identity")
	}
	return id, nil
}

// HasProfile reports whether the user has completed registration by
// creating a profile.
func HasProfile(ctx context.Context, q postgres.Querier, userID uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM profile WHERE user_id = $1)`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, sserr.Wrap(err, sserr.CodeInternalDatabase,
			"user: failed to check profile")
	}
	return exists, nil
}

// CreateParams describes a user to register from a verified OAuth
// identity.
type CreateParams struct {
	Provider  string
	Subject   string
	Email     string
	CreatedAt time.Time
}

// CreateWithIdentity inserts a new user together with its OAuth
// identity link and email address. Must run inside a transaction: a
// unique-violation on the email index maps to
// [sserr.CodeConflictEmail] and the caller's rollback discards the
// partial inserts.
func CreateWithIdentity(ctx context.Context, q postgres.Querier, params CreateParams) (uuid.UUID, error) {
	id := uuid.New()

	if _, err := q.Exec(ctx, `
		INSERT INTO "user" (id, created_at) VALUES ($1, $2)`,
		id, params.CreatedAt,
	); err != nil {
		return uuid.Nil, sserr.Wrap(err, sserr.CodeInternalDatabase,
			"user: failed to create user")
	}

	if _, err := q.Exec(ctx, `
		INSERT INTO oauth_identity (user_id, provider, subject, created_at)
		VALUES ($1, $2, $3, $4)`,
		id, params.Provider, params.Subject, params.CreatedAt,
	); err != nil {
		return uuid.Nil, sserr.Wrap(err, sserr.CodeInternalDatabase,
			"user: failed to link oauth identity")
	}

	if _, err := q.Exec(ctx, `
		INSERT INTO user_email (user_id, email, created_at)
		VALUES ($1, $2, $3)`,
		id, params.Email, params.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == emailUniqueConstraint {
			return uuid.Nil, sserr.Wrap(err, sserr.CodeConflictEmail,
				"user: email already registered")
		}
		return uuid.Nil, sserr.Wrap(err, sserr.CodeInternalDatabase,
			"user: failed to record email")
	}

	return id, nil
}
