// Package session authenticates a user against a Repository, mints the
// "user-id:random-secret" cookie, and resolves an inbound cookie back to
// a Session value.
package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sln-repo/strongline/internal/errs"
	"github.com/sln-repo/strongline/internal/repo"
)

// CookieName is the name of the session cookie the HTTP adapter sets.
const CookieName = "s"

// Authenticate verifies (user, pass) against the repository's user
// table and, on success, creates a new Session with the user's own mode
// and returns its cookie value. Transport security (TLS) is left to the
// HTTP layer — the verifier stored at signup is compared directly here.
func Authenticate(ctx context.Context, r *repo.Repository, user, pass string) (cookie string, sess repo.Session, err error) {
	u, err := r.UserByName(ctx, user)
	if err != nil {
		if errs.Is(err, errs.NOTFOUND) {
			return "", repo.Session{}, errs.Wrap(errs.EACCES, "bad credentials")
		}
		return "", repo.Session{}, err
	}
	if u.PasswordVerifier != pass {
		return "", repo.Session{}, errs.Wrap(errs.EACCES, "bad credentials")
	}

	sess, err = r.CreateSession(ctx, u.ID, u.Mode)
	if err != nil {
		return "", repo.Session{}, err
	}
	return EncodeCookie(u.ID, sess.Secret), sess, nil
}

// EncodeCookie formats the user-id:random-secret cookie value.
func EncodeCookie(userID uint64, secret string) string {
	return fmt.Sprintf("%d:%s", userID, secret)
}

// Resolve parses an inbound cookie value and looks up the bound Session.
// A missing or malformed cookie, or an unknown secret, yields the
// repository's anonymous read-only session rather than an error — the
// HTTP layer decides whether anonymous access is itself permitted for
// the requested route.
func Resolve(ctx context.Context, r *repo.Repository, cookieValue string) repo.Session {
	if cookieValue == "" {
		return r.AnonymousSession()
	}
	idx := strings.IndexByte(cookieValue, ':')
	if idx < 0 {
		return r.AnonymousSession()
	}
	wantUserID, err := strconv.ParseUint(cookieValue[:idx], 10, 64)
	if err != nil {
		return r.AnonymousSession()
	}
	secret := cookieValue[idx+1:]

	sess, err := r.LookupSession(ctx, secret)
	if err != nil || sess.UserID != wantUserID {
		return r.AnonymousSession()
	}
	return sess
}

// RequireReadWrite returns EACCES unless sess has read-write mode.
func RequireReadWrite(sess repo.Session) error {
	if !repo.CanWrite(sess) {
		return errs.Wrap(errs.EACCES, "session is read-only")
	}
	return nil
}
