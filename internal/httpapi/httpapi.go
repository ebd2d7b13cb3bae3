// Package httpapi implements the HTTP Dispatch Adapter: the fixed
// `/sln/` route table, built on fasthttp in a single RequestCtx
// handler with a method/path switch and a plain-text error writer.
package httpapi

import (
	"bufio"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	logging "github.com/ipfs/go-log/v2"
	"github.com/valyala/fasthttp"

	"github.com/sln-repo/strongline/internal/errs"
	"github.com/sln-repo/strongline/internal/filter"
	"github.com/sln-repo/strongline/internal/metrics"
	"github.com/sln-repo/strongline/internal/query"
	"github.com/sln-repo/strongline/internal/repo"
	"github.com/sln-repo/strongline/internal/session"
	"github.com/sln-repo/strongline/internal/submission"
)

var log = logging.Logger("httpapi")

// maxAuthBodyBytes bounds the POST /sln/auth body; larger bodies get a
// 413 response instead of being parsed.
const maxAuthBodyBytes = 1023

// Server dispatches the fixed `/sln/` route table against a Repository.
type Server struct {
	Repo *repo.Repository
}

func New(r *repo.Repository) *Server {
	return &Server{Repo: r}
}

// Handler returns the fasthttp entry point for fasthttp.ListenAndServe.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		startedAt := time.Now()
		path := string(ctx.Path())
		method := string(ctx.Method())

		defer func() {
			elapsed := time.Since(startedAt)
			size := "unknown"
			if n := ctx.Response.Header.ContentLength(); n >= 0 {
				size = humanize.Bytes(uint64(n))
			}
			log.Infof("%s %s took %s, %s body", method, path, elapsed, size)
			code := strconv.Itoa(ctx.Response.StatusCode())
			metrics.RequestsByRoute.WithLabelValues(path).Inc()
			metrics.StatusCode.WithLabelValues(code).Inc()
			metrics.RouteToCode.WithLabelValues(path, code).Inc()
			metrics.RequestDuration.WithLabelValues(path).Observe(elapsed.Seconds())
		}()

		switch {
		case path == "/sln/auth" && method == fasthttp.MethodPost:
			s.handleAuth(ctx)
		case strings.HasPrefix(path, "/sln/file/") && (method == fasthttp.MethodGet || method == fasthttp.MethodHead):
			s.handleFileGet(ctx)
		case path == "/sln/file" && method == fasthttp.MethodPost:
			s.handleFilePost(ctx)
		case path == "/sln/query" && method == fasthttp.MethodGet:
			s.handleQueryGet(ctx)
		case path == "/sln/query" && method == fasthttp.MethodPost:
			s.handleQueryPost(ctx)
		case path == "/sln/metafiles" && method == fasthttp.MethodGet:
			s.handleMetaFiles(ctx)
		case path == "/sln/query-obsolete" && method == fasthttp.MethodGet:
			s.handleQueryObsolete(ctx)
		default:
			writeError(ctx, errs.Wrap(errs.NOTFOUND, "no such route"))
		}
	}
}

func (s *Server) sessionFor(ctx *fasthttp.RequestCtx) repo.Session {
	cookie := string(ctx.Request.Header.Cookie(session.CookieName))
	return session.Resolve(ctx, s.Repo, cookie)
}

// handleAuth implements POST /sln/auth: form-urlencoded user/pass, a new
// session cookie (carrying the user's mode) on success.
func (s *Server) handleAuth(ctx *fasthttp.RequestCtx) {
	if ctx.Request.Header.ContentLength() > maxAuthBodyBytes {
		writeStatus(ctx, 413, "request entity too large")
		return
	}

	user := string(ctx.PostArgs().Peek("user"))
	pass := string(ctx.PostArgs().Peek("pass"))

	cookie, _, err := session.Authenticate(ctx, s.Repo, user, pass)
	if err != nil {
		writeError(ctx, err)
		return
	}

	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)
	c.SetKey(session.CookieName)
	c.SetValue(cookie)
	c.SetHTTPOnly(true)
	c.SetPath("/")
	ctx.Response.Header.SetCookie(c)
	ctx.SetStatusCode(200)
}

// handleFileGet implements GET/HEAD /sln/file/<algo>/<hash>.
func (s *Server) handleFileGet(ctx *fasthttp.RequestCtx) {
	rest := strings.TrimPrefix(string(ctx.Path()), "/sln/file/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(ctx, errs.Wrap(errs.EINVAL, "malformed file path"))
		return
	}
	algo, hash := parts[0], parts[1]

	sess := s.sessionFor(ctx)

	f, err := s.Repo.GetFileByURI(ctx, "hash://"+algo+"/"+hash)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if !repo.CanRead(sess, f) && !s.Repo.PublicRead {
		writeError(ctx, errs.Wrap(errs.EACCES, "not permitted"))
		return
	}

	path := s.Repo.Dirs.DataPath(f.InternalHash)
	ctx.Response.Header.Set("Cache-Control", "max-age=31536000")
	ctx.Response.Header.Set("Content-Security-Policy", "default-src 'none'")
	ctx.Response.Header.Set("X-Content-Type-Options", "nosniff")
	ctx.SetContentType(f.MIMEType)

	if ctx.IsHead() {
		ctx.Response.Header.SetContentLength(int(f.Size))
		ctx.SetStatusCode(200)
		return
	}

	if err := ctx.Response.SendFile(path); err != nil {
		writeStatus(ctx, 410, "gone")
	}
}

// handleFilePost implements POST /sln/file: ingest body, respond 201
// with X-Location set to the stored primary URI.
func (s *Server) handleFilePost(ctx *fasthttp.RequestCtx) {
	sess := s.sessionFor(ctx)

	claimedType := string(ctx.Request.Header.ContentType())
	if claimedType == "" {
		writeError(ctx, errs.Wrap(errs.EINVAL, "Content-Type required"))
		return
	}

	sub, err := submission.Create(s.Repo, sess, claimedType, "")
	if err != nil {
		writeError(ctx, err)
		return
	}
	if err := sub.Write(ctx.PostBody()); err != nil {
		_ = sub.Abort()
		metrics.SubmissionsAborted.WithLabelValues("http").Inc()
		writeError(ctx, err)
		return
	}
	if err := sub.End(); err != nil {
		_ = sub.Abort()
		metrics.SubmissionsAborted.WithLabelValues("http").Inc()
		writeError(ctx, err)
		return
	}

	if _, err := submission.StoreBatch(ctx, s.Repo, []*submission.Submission{sub}); err != nil {
		metrics.SubmissionsAborted.WithLabelValues("http").Inc()
		writeError(ctx, err)
		return
	}
	metrics.SubmissionsAccepted.WithLabelValues("http").Inc()

	primaryURI, err := sub.GetPrimaryURI()
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Response.Header.Set("X-Location", primaryURI)
	ctx.SetStatusCode(201)
}

// handleQueryGet implements GET /sln/query?q=<expr>. An unparseable
// expression falls back to the All filter.
func (s *Server) handleQueryGet(ctx *fasthttp.RequestCtx) {
	q := string(ctx.QueryArgs().Peek("q"))
	f, err := filter.ParseUserFilter(q)
	if err != nil {
		f = filter.All()
	}
	s.stream(ctx, f)
}

// handleQueryPost implements POST /sln/query: the same stream, selected
// by a JSON filter body instead of the surface-syntax string.
func (s *Server) handleQueryPost(ctx *fasthttp.RequestCtx) {
	f, err := filter.BuildFromJSON(ctx.PostBody())
	if err != nil {
		writeError(ctx, err)
		return
	}
	s.stream(ctx, f)
}

// handleMetaFiles implements GET /sln/metafiles: stream URIs of every
// stored meta-file.
func (s *Server) handleMetaFiles(ctx *fasthttp.RequestCtx) {
	s.stream(ctx, filter.MetaFile())
}

// handleQueryObsolete implements GET /sln/query-obsolete: a thin,
// deprecated alias of the MetaFile filter scan, kept for wire
// compatibility with older clients.
func (s *Server) handleQueryObsolete(ctx *fasthttp.RequestCtx) {
	s.stream(ctx, filter.MetaFile())
}

func (s *Server) stream(ctx *fasthttp.RequestCtx, f *filter.Filter) {
	sess := s.sessionFor(ctx)
	if sess.Anonymous() && !s.Repo.PublicRead {
		writeError(ctx, errs.Wrap(errs.EACCES, "not permitted"))
		return
	}

	opts := parseQueryOptions(ctx)

	ctx.SetContentType("text/uri-list")
	ctx.Response.Header.Set("Vary", "*")
	ctx.SetStatusCode(200)

	reqCtx, cancel := context.WithCancel(context.Background())
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		go func() {
			<-ctx.Done()
			cancel()
		}()
		if err := query.Stream(reqCtx, s.Repo, f, opts, w); err != nil {
			log.Warnf("query stream: %v", err)
		}
		w.Flush()
	})
}

func parseQueryOptions(ctx *fasthttp.RequestCtx) query.Options {
	var opts query.Options
	opts.SortID = parseUintArg(ctx, "sortID")
	opts.FileID = parseUintArg(ctx, "fileID")
	opts.Dir = filter.Forward
	if string(ctx.QueryArgs().Peek("dir")) == "backward" {
		opts.Dir = filter.Backward
	}
	if n := parseUintArg(ctx, "count"); n > 0 {
		opts.BatchSize = int(n)
	}
	return opts
}

func parseUintArg(ctx *fasthttp.RequestCtx, name string) uint64 {
	raw := string(ctx.QueryArgs().Peek(name))
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// writeError maps err's Kind to an HTTP status code and writes the
// plain-text "<status> <reason>\n" body.
func writeError(ctx *fasthttp.RequestCtx, err error) {
	status := errs.HTTPStatus(err)
	if status == 200 {
		status = 409 // EEXIST at this layer is a conflict, not success
	}
	writeStatus(ctx, status, err.Error())
}

func writeStatus(ctx *fasthttp.RequestCtx, status int, reason string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.SetBodyString(strconv.Itoa(status) + " " + reason + "\n")
}
