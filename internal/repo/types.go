package repo

import "time"

// Mode gates what operations a Session may perform.
type Mode int

const (
	ModeReadOnly Mode = iota
	ModeReadWrite
)

// File is a stored object: one canonical internal hash, a MIME type, a
// size, and the alias URI set that names it (always including at least
// one hash:// URI under the primary algorithm).
type File struct {
	ID           uint64 `json:"id"`
	InternalHash string `json:"internal_hash"`
	MIMEType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	Seq          uint64 `json:"seq"`
	OwnerID      uint64 `json:"owner_id"`
	Public       bool   `json:"public"`
}

// URI is an interned byte string naming a File.
type URI struct {
	ID    uint64 `json:"id"`
	Value string `json:"value"`
}

// User is an account capable of authenticating a Session.
type User struct {
	ID               uint64 `json:"id"`
	Name             string `json:"name"`
	PasswordVerifier string `json:"password_verifier"`
	Mode             Mode   `json:"mode"`
}

// Session is an ephemeral authenticated (or anonymous) identity bound to
// a cookie secret.
type Session struct {
	Secret    string    `json:"secret"`
	UserID    uint64    `json:"user_id"`
	Mode      Mode      `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Session) Anonymous() bool { return s.UserID == 0 }

// TagTriple is a (target, field, value) fact extracted from a meta-file.
type TagTriple struct {
	TargetURIID      uint64 `json:"target_uri_id"`
	Field            string `json:"field"`
	Value            string `json:"value"`
	SourceMetaFileID uint64 `json:"source_meta_file_id"`
}

// SubmittedFile records that a session has already observed a URI, used
// by the sync scheduler to avoid re-pulling content.
type SubmittedFile struct {
	SessionSecret string `json:"session_secret"`
	URIID         uint64 `json:"uri_id"`
}

// MetaMap is a deferred (observed meta-URI, target-URI) association kept
// until the target is locally present.
type MetaMap struct {
	ObservedURIID uint64 `json:"observed_uri_id"`
	TargetURIID   uint64 `json:"target_uri_id"`
}
