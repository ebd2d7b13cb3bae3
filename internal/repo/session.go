package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sln-repo/strongline/internal/errs"
	"github.com/sln-repo/strongline/internal/kvstore"
	"github.com/sln-repo/strongline/internal/schema"
)

// CreateUser persists a new account. passwordVerifier is whatever
// externally-produced verifier the caller has already computed; hashing
// policy is left entirely to the caller.
func (r *Repository) CreateUser(ctx context.Context, name, passwordVerifier string, mode Mode) (User, error) {
	var u User
	err := r.env.Update(ctx, func(tx *kvstore.Tx) error {
		b := tx.Bucket(kvBucket)
		byName, entry := schema.NewKey(schema.TableUsersByName).WithString(name)
		if entry != nil {
			if err := (txSideTable{tx: tx}).Put(schema.SideTableEntry{Key: sideTableKey(entry.Key), Value: entry.Value}); err != nil {
				return err
			}
		}
		if b.Get(byName.Bytes()) != nil {
			return errs.Wrap(errs.EEXIST, "user %q", name)
		}

		id, err := nextID(tx, schema.TableUsers)
		if err != nil {
			return err
		}
		u = User{ID: id, Name: name, PasswordVerifier: passwordVerifier, Mode: mode}
		enc, err := json.Marshal(u)
		if err != nil {
			return err
		}
		if err := b.Put(schema.NewKey(schema.TableUsers).WithUint(id).Bytes(), enc); err != nil {
			return err
		}
		return b.Put(byName.Bytes(), schema.AppendUvarint(nil, id))
	})
	return u, err
}

// UserByName resolves a user record, or NOTFOUND.
func (r *Repository) UserByName(ctx context.Context, name string) (User, error) {
	var u User
	err := r.env.View(ctx, func(tx *kvstore.Tx) error {
		b := tx.Bucket(kvBucket)
		byName, _ := schema.NewKey(schema.TableUsersByName).WithString(name)
		v := b.Get(byName.Bytes())
		if v == nil {
			return errs.Wrap(errs.NOTFOUND, "user %q", name)
		}
		id, _ := schema.Uvarint(v)
		uv := b.Get(schema.NewKey(schema.TableUsers).WithUint(id).Bytes())
		if uv == nil {
			return AssertInvariant("dangling user-by-name entry for %q", name)
		}
		return json.Unmarshal(uv, &u)
	})
	return u, err
}

// CreateSession mints a new cookie secret for userID and stores it both
// persistently and in the in-process cache. The cookie format is
// user-id:random-secret, the random half from google/uuid.
func (r *Repository) CreateSession(ctx context.Context, userID uint64, mode Mode) (Session, error) {
	sess := Session{
		Secret:    uuid.NewString(),
		UserID:    userID,
		Mode:      mode,
		CreatedAt: time.Now(),
	}

	err := r.env.Update(ctx, func(tx *kvstore.Tx) error {
		b := tx.Bucket(kvBucket)
		kb, entry := schema.NewKey(schema.TableSessions).WithString(sess.Secret)
		if entry != nil {
			if err := (txSideTable{tx: tx}).Put(schema.SideTableEntry{Key: sideTableKey(entry.Key), Value: entry.Value}); err != nil {
				return err
			}
		}
		enc, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return b.Put(kb.Bytes(), enc)
	})
	if err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	r.sessions[sess.Secret] = sess
	r.mu.Unlock()
	return sess, nil
}

// AnonymousSession returns the read-only session used when no cookie is
// present and public-read policy is on.
func (r *Repository) AnonymousSession() Session {
	return Session{Mode: ModeReadOnly}
}

// LookupSession resolves a cookie secret, checking the in-process cache
// before falling back to the persisted record.
func (r *Repository) LookupSession(ctx context.Context, secret string) (Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[secret]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	var sess Session
	err := r.env.View(ctx, func(tx *kvstore.Tx) error {
		b := tx.Bucket(kvBucket)
		kb, _ := schema.NewKey(schema.TableSessions).WithString(secret)
		v := b.Get(kb.Bytes())
		if v == nil {
			return errs.Wrap(errs.NOTFOUND, "session")
		}
		return json.Unmarshal(v, &sess)
	})
	if err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	r.sessions[secret] = sess
	r.mu.Unlock()
	return sess, nil
}

// CanRead reports whether sess may read f: either f is public, or sess
// owns it.
func CanRead(sess Session, f File) bool {
	if f.Public {
		return true
	}
	if sess.Anonymous() {
		return false
	}
	return sess.UserID == f.OwnerID
}

// CanWrite reports whether sess may submit content.
func CanWrite(sess Session) bool {
	return sess.Mode == ModeReadWrite
}
