package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sln-repo/strongline/internal/errs"
	"github.com/sln-repo/strongline/internal/repo"
)

func openTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Open(t.TempDir(), true)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestAuthenticateSuccess(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateUser(ctx, "alice", "hunter2", repo.ModeReadWrite)
	require.NoError(t, err)

	cookie, sess, err := Authenticate(ctx, r, "alice", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, cookie)
	require.Equal(t, repo.ModeReadWrite, sess.Mode)
}

func TestAuthenticateBadPassword(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateUser(ctx, "alice", "hunter2", repo.ModeReadWrite)
	require.NoError(t, err)

	_, _, err = Authenticate(ctx, r, "alice", "wrong")
	require.True(t, errs.Is(err, errs.EACCES))
}

func TestAuthenticateUnknownUser(t *testing.T) {
	r := openTestRepo(t)
	_, _, err := Authenticate(context.Background(), r, "nobody", "x")
	require.True(t, errs.Is(err, errs.EACCES))
}

func TestResolveRoundTrip(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateUser(ctx, "alice", "hunter2", repo.ModeReadWrite)
	require.NoError(t, err)
	cookie, _, err := Authenticate(ctx, r, "alice", "hunter2")
	require.NoError(t, err)

	sess := Resolve(ctx, r, cookie)
	require.False(t, sess.Anonymous())
	require.Equal(t, repo.ModeReadWrite, sess.Mode)
}

func TestResolveFallsBackToAnonymous(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	for _, bad := range []string{"", "not-a-cookie", "7:unknown-secret"} {
		sess := Resolve(ctx, r, bad)
		require.True(t, sess.Anonymous())
		require.Equal(t, repo.ModeReadOnly, sess.Mode)
	}
}

func TestRequireReadWrite(t *testing.T) {
	require.NoError(t, RequireReadWrite(repo.Session{Mode: repo.ModeReadWrite}))
	require.True(t, errs.Is(RequireReadWrite(repo.Session{Mode: repo.ModeReadOnly}), errs.EACCES))
}
