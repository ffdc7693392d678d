//go:build integration

// Package session_test contains integration tests for the session and
// user stores that require a running PostgreSQL instance. They are
// gated behind the "integration" build tag and executed in CI with
// Docker via testcontainers.
//
// Run locally with:
//
//	go test -v -race -tags=integration ./pkg/session/...
package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-identity/internal/testutil"
	"github.com/StricklySoft/stricklysoft-identity/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-identity/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-identity/pkg/errors"
	"github.com/StricklySoft/stricklysoft-identity/pkg/session"
	"github.com/StricklySoft/stricklysoft-identity/pkg/user"
)

// schema mirrors the production identity tables. "user" is quoted
// because it is a reserved word in PostgreSQL.
const schema = `
CREATE TABLE "user" (
    id          UUID PRIMARY KEY,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE user_email (
    user_id     UUID NOT NULL REFERENCES "user" (id),
    email       TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    CONSTRAINT user_email_email_key UNIQUE (email)
);

CREATE TABLE oauth_identity (
    user_id     UUID NOT NULL REFERENCES "user" (id),
    provider    TEXT NOT NULL,
    subject     TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    UNIQUE (provider, subject)
);

CREATE TABLE profile (
    user_id     UUID PRIMARY KEY REFERENCES "user" (id),
    name        TEXT NOT NULL
);

CREATE TABLE session (
    id                    UUID PRIMARY KEY,
    user_id               UUID NOT NULL REFERENCES "user" (id),
    mask                  SMALLINT NOT NULL,
    created_at            TIMESTAMPTZ NOT NULL,
    valid_until           TIMESTAMPTZ,
    revoked               BOOLEAN NOT NULL DEFAULT FALSE,
    impersonator_user_id  UUID
);
`

// setupStore starts a PostgreSQL container, applies the identity schema,
// and returns a connected client. Cleanup runs automatically when the
// test completes.
func setupStore(t *testing.T) *postgres.Client {
	t.Helper()

	ctx := context.Background()

	result, err := containers.StartPostgres(ctx)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if termErr := result.Container.Terminate(ctx); termErr != nil {
			t.Logf("failed to terminate postgres container: %v", termErr)
		}
	})

	cfg := postgres.Config{URI: result.ConnString, MaxConns: 5, MinConns: 1}
	client, err := postgres.NewClient(ctx, cfg)
	require.NoError(t, err, "failed to create client")
	t.Cleanup(client.Close)

	_, err = client.Exec(ctx, schema)
	require.NoError(t, err, "failed to apply schema")

	return client
}

// createTestUser inserts a bare user row and returns its id.
func createTestUser(t *testing.T, db *postgres.Client, params user.CreateParams) uuid.UUID {
	t.Helper()

	ctx := context.Background()
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := user.CreateWithIdentity(ctx, tx, params)
	testutil.RequireNoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return id
}

func TestIntegration_SessionLifecycle(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	userID := createTestUser(t, db, user.CreateParams{
		Provider:  "google",
		Subject:   "sub-lifecycle",
		Email:     "lifecycle@example.com",
		CreatedAt: now,
	})

	validUntil := now.Add(time.Hour)
	id, err := session.Create(ctx, db, session.CreateParams{
		UserID:     userID,
		Mask:       session.General,
		CreatedAt:  now,
		ValidUntil: &validUntil,
	})
	testutil.RequireNoError(t, err)

	rec, err := session.Get(ctx, db, id)
	testutil.RequireNoError(t, err)
	assert.Equal(t, userID, rec.UserID)
	assert.Equal(t, session.General, rec.Mask)
	assert.True(t, rec.ActiveAt(now))
	assert.Nil(t, rec.ImpersonatorID)
	require.NotNil(t, rec.ValidUntil)
	assert.WithinDuration(t, validUntil, *rec.ValidUntil, time.Millisecond)

	testutil.RequireNoError(t, session.Revoke(ctx, db, id))

	rec, err = session.Get(ctx, db, id)
	testutil.RequireNoError(t, err)
	assert.True(t, rec.Revoked)
	assert.False(t, rec.ActiveAt(now))
}

func TestIntegration_SessionGet_Missing(t *testing.T) {
	db := setupStore(t)

	_, err := session.Get(context.Background(), db, uuid.New())
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundSession)
}

func TestIntegration_SessionReap(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	userID := createTestUser(t, db, user.CreateParams{
		Provider:  "google",
		Subject:   "sub-reap",
		Email:     "reap@example.com",
		CreatedAt: now,
	})

	lapsed := now.Add(-time.Minute)
	live := now.Add(time.Hour)

	lapsedID, err := session.Create(ctx, db, session.CreateParams{
		UserID: userID, Mask: session.General, CreatedAt: now.Add(-2 * time.Hour), ValidUntil: &lapsed,
	})
	testutil.RequireNoError(t, err)
	liveID, err := session.Create(ctx, db, session.CreateParams{
		UserID: userID, Mask: session.General, CreatedAt: now, ValidUntil: &live,
	})
	testutil.RequireNoError(t, err)
	openEndedID, err := session.Create(ctx, db, session.CreateParams{
		UserID: userID, Mask: session.General, CreatedAt: now,
	})
	testutil.RequireNoError(t, err)

	removed, err := session.Reap(ctx, db, now)
	testutil.RequireNoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = session.Get(ctx, db, lapsedID)
	testutil.AssertErrorCode(t, err, sserr.CodeNotFoundSession)
	_, err = session.Get(ctx, db, liveID)
	assert.NoError(t, err)
	_, err = session.Get(ctx, db, openEndedID)
	assert.NoError(t, err, "sessions without an expiry are never reaped")
}

func TestIntegration_UserStore(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	userID := createTestUser(t, db, user.CreateParams{
		Provider:  "google",
		Subject:   "sub-user",
		Email:     "user@example.com",
		CreatedAt: now,
	})

	found, err := user.FindByOAuthIdentity(ctx, db, "google", "sub-user")
	testutil.RequireNoError(t, err)
	assert.Equal(t, userID, found)

	_, err = user.FindByOAuthIdentity(ctx, db, "google", "sub-unknown")
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundUser)

	has, err := user.HasProfile(ctx, db, userID)
	testutil.RequireNoError(t, err)
	assert.False(t, has)

	_, err = db.Exec(ctx, `INSERT INTO profile (user_id, name) VALUES ($1, $2)`, userID, "Test User")
	require.NoError(t, err)

	has, err = user.HasProfile(ctx, db, userID)
	testutil.RequireNoError(t, err)
	assert.True(t, has)
}

func TestIntegration_UserStore_EmailConflictRollsBack(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	createTestUser(t, db, user.CreateParams{
		Provider:  "google",
		Subject:   "sub-first",
		Email:     "taken@example.com",
		CreatedAt: now,
	})

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = user.CreateWithIdentity(ctx, tx, user.CreateParams{
		Provider:  "github",
		Subject:   "sub-second",
		Email:     "taken@example.com",
		CreatedAt: now,
	})
	testutil.RequireErrorCode(t, err, sserr.CodeConflictEmail)
	require.NoError(t, tx.Rollback(ctx))

	// The rollback discards the partial user and identity inserts.
	_, err = user.FindByOAuthIdentity(ctx, db, "github", "sub-second")
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundUser)
}
