package httpapi

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/sln-repo/strongline/internal/repo"
	"github.com/sln-repo/strongline/internal/session"
)

func openTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Open(t.TempDir(), true)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func newCtx(method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	return &ctx
}

// readWriteCookie creates a read-write user and session and returns the
// session's cookie value, since anonymous sessions cannot submit.
func readWriteCookie(t *testing.T, r *repo.Repository) string {
	t.Helper()
	ctx := context.Background()
	u, err := r.CreateUser(ctx, "writer", "writer-verifier", repo.ModeReadWrite)
	require.NoError(t, err)
	sess, err := r.CreateSession(ctx, u.ID, u.Mode)
	require.NoError(t, err)
	return session.EncodeCookie(u.ID, sess.Secret)
}

func drainStream(t *testing.T, ctx *fasthttp.RequestCtx) string {
	t.Helper()
	stream := ctx.Response.BodyStream()
	require.NotNil(t, stream)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	return string(data)
}

func TestAuthRejectsUnknownUser(t *testing.T) {
	r := openTestRepo(t)
	srv := New(r)

	ctx := newCtx(fasthttp.MethodPost, "/sln/auth")
	ctx.Request.Header.SetContentType("application/x-www-form-urlencoded")
	ctx.Request.SetBodyString("user=nobody&pass=wrong")

	srv.Handler()(ctx)
	require.Equal(t, 403, ctx.Response.StatusCode())
}

func TestAuthSucceedsAndSetsCookie(t *testing.T) {
	r := openTestRepo(t)
	_, err := r.CreateUser(context.Background(), "alice", "hunter2", repo.ModeReadWrite)
	require.NoError(t, err)
	srv := New(r)

	ctx := newCtx(fasthttp.MethodPost, "/sln/auth")
	ctx.Request.Header.SetContentType("application/x-www-form-urlencoded")
	ctx.Request.SetBodyString("user=alice&pass=hunter2")

	srv.Handler()(ctx)
	require.Equal(t, 200, ctx.Response.StatusCode())
	require.NotEmpty(t, ctx.Response.Header.PeekCookie("s"))
}

func TestFilePostThenGetRoundTrip(t *testing.T) {
	r := openTestRepo(t)
	srv := New(r)

	post := newCtx(fasthttp.MethodPost, "/sln/file")
	post.Request.Header.SetCookie(session.CookieName, readWriteCookie(t, r))
	post.Request.Header.SetContentType("text/plain")
	post.Request.SetBodyString("hello\n")
	srv.Handler()(post)

	require.Equal(t, 201, post.Response.StatusCode())
	loc := string(post.Response.Header.Peek("X-Location"))
	require.Equal(t, "hash://sha256/5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03", loc)

	hash := loc[len("hash://sha256/"):]
	get := newCtx(fasthttp.MethodGet, "/sln/file/sha256/"+hash)
	srv.Handler()(get)
	require.Equal(t, 200, get.Response.StatusCode())
	require.Equal(t, "text/plain", string(get.Response.Header.ContentType()))
}

func TestFilePostRequiresContentType(t *testing.T) {
	r := openTestRepo(t)
	srv := New(r)

	post := newCtx(fasthttp.MethodPost, "/sln/file")
	post.Request.SetBodyString("hello\n")
	srv.Handler()(post)
	require.Equal(t, 400, post.Response.StatusCode())
}

func TestFileGetUnknownHashReturns404(t *testing.T) {
	r := openTestRepo(t)
	srv := New(r)

	get := newCtx(fasthttp.MethodGet, "/sln/file/sha256/deadbeef")
	srv.Handler()(get)
	require.Equal(t, 404, get.Response.StatusCode())
}

func TestQueryGetStreamsStoredURI(t *testing.T) {
	r := openTestRepo(t)
	srv := New(r)

	post := newCtx(fasthttp.MethodPost, "/sln/file")
	post.Request.Header.SetCookie(session.CookieName, readWriteCookie(t, r))
	post.Request.Header.SetContentType("text/plain")
	post.Request.SetBodyString("world\n")
	srv.Handler()(post)
	require.Equal(t, 201, post.Response.StatusCode())

	q := newCtx(fasthttp.MethodGet, "/sln/query?q=*&dir=backward&sortID=18446744073709551615&fileID=18446744073709551615")
	srv.Handler()(q)
	require.Equal(t, 200, q.Response.StatusCode())
	require.Equal(t, "text/uri-list", string(q.Response.Header.ContentType()))

	body := drainStream(t, q)
	require.Contains(t, body, "hash://sha256/")
}

func TestQueryPostMalformedJSONIsRejected(t *testing.T) {
	r := openTestRepo(t)
	srv := New(r)

	q := newCtx(fasthttp.MethodPost, "/sln/query")
	q.Request.SetBodyString("{not json")
	srv.Handler()(q)
	require.NotEqual(t, 200, q.Response.StatusCode())
}

func TestUnknownRouteReturns404(t *testing.T) {
	r := openTestRepo(t)
	srv := New(r)

	ctx := newCtx(fasthttp.MethodGet, "/sln/nope")
	srv.Handler()(ctx)
	require.Equal(t, 404, ctx.Response.StatusCode())
}
