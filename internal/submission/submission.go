// Package submission implements the per-write state machine:
// write-temp -> hash -> link-into-place -> index, within a single
// transaction at Store time.
package submission

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sln-repo/strongline/internal/errs"
	"github.com/sln-repo/strongline/internal/hasher"
	"github.com/sln-repo/strongline/internal/metafile"
	"github.com/sln-repo/strongline/internal/repo"
	"github.com/sln-repo/strongline/internal/uri"
)

type State int

const (
	Open State = iota
	Writing
	Hashed
	Stored
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case Writing:
		return "Writing"
	case Hashed:
		return "Hashed"
	case Stored:
		return "Stored"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Submission tracks one in-flight ingestion from Create through Store.
type Submission struct {
	repo    *repo.Repository
	session repo.Session

	state       State
	claimedType string
	targetURI   string // caller-declared target, used only for a recognized meta-file whose payload names no target

	tempPath string
	tempFile *os.File
	hasher   *hasher.MultiHasher
	size     int64

	bufferMeta bool
	metaBuf    bytes.Buffer

	primaryURI   string
	internalHash string
	uris         uri.List
	target       string
	tags         []metafile.Tag
}

// Create opens a new Submission's temp file under the repository's temp
// directory. It fails with EACCES if the session lacks read-write mode.
func Create(r *repo.Repository, sess repo.Session, claimedType, targetURI string) (*Submission, error) {
	if !repo.CanWrite(sess) {
		return nil, errs.Wrap(errs.EACCES, "session is read-only")
	}

	path := filepath.Join(r.Dirs.Tmp, uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errs.Wrap(errs.EIO, "create temp file: %v", err)
	}

	return &Submission{
		repo:        r,
		session:     sess,
		state:       Open,
		claimedType: claimedType,
		targetURI:   targetURI,
		tempPath:    path,
		tempFile:    f,
		hasher:      hasher.New(hasher.SHA256, hasher.SHA1),
		bufferMeta:  metafile.IsMetaFileType(claimedType),
	}, nil
}

func (s *Submission) State() State { return s.state }

// Write appends p to the temp file and feeds the hasher (and, for
// recognized meta-file content types, the in-memory buffer the
// meta-file extractor parses at End).
func (s *Submission) Write(p []byte) error {
	if s.state != Open && s.state != Writing {
		return errs.Wrap(errs.EINVAL, "write on submission in state %s", s.state)
	}
	if len(p) == 0 {
		s.state = Writing
		return nil
	}
	if _, err := s.tempFile.Write(p); err != nil {
		return errs.Wrap(errs.EIO, "write temp file: %v", err)
	}
	if _, err := s.hasher.Write(p); err != nil {
		return errs.Wrap(errs.EIO, "hash: %v", err)
	}
	if s.bufferMeta {
		s.metaBuf.Write(p)
	}
	s.size += int64(len(p))
	s.state = Writing
	return nil
}

// ErrEmptySubmission is returned by End for a submission that never
// received any bytes.
var ErrEmptySubmission = errs.Wrap(errs.EINVAL, "empty submission")

// End finalizes hashing and meta-file extraction. It fails with
// ErrEmptySubmission if Write was never called with non-empty content.
func (s *Submission) End() error {
	if s.state != Open && s.state != Writing {
		return errs.Wrap(errs.EINVAL, "end on submission in state %s", s.state)
	}
	if err := s.tempFile.Close(); err != nil {
		return errs.Wrap(errs.EIO, "close temp file: %v", err)
	}
	if s.size == 0 {
		return ErrEmptySubmission
	}

	hex, _ := s.hasher.Sum(hasher.Primary)
	s.internalHash = hex
	s.primaryURI = s.hasher.PrimaryURI()

	var list uri.List
	for _, u := range s.hasher.URIs() {
		list.Add(uri.New(u))
	}
	s.uris = list

	if s.bufferMeta {
		target, tags := metafile.Parse(s.claimedType, s.metaBuf.Bytes())
		if target == "" {
			target = s.targetURI
		}
		s.target = target
		s.tags = tags
	}

	s.state = Hashed
	return nil
}

// GetPrimaryURI returns the canonical hash:// URI, defined only after End.
func (s *Submission) GetPrimaryURI() (string, error) {
	if s.state != Hashed && s.state != Stored && s.state != Committed {
		return "", errs.Wrap(errs.EINVAL, "GetPrimaryURI before End")
	}
	return s.primaryURI, nil
}

// IsMetaFile reports whether this submission's content type was
// recognized as a meta-file.
func (s *Submission) IsMetaFile() bool { return s.bufferMeta }

// Abort removes the temp file and marks the submission Aborted. Valid
// from any non-terminal state.
func (s *Submission) Abort() error {
	if s.state == Committed || s.state == Aborted {
		return nil
	}
	s.tempFile.Close()
	os.Remove(s.tempPath)
	s.state = Aborted
	return nil
}

func (s *Submission) toFileSubmission() repo.FileSubmission {
	fs := repo.FileSubmission{
		TempPath:     s.tempPath,
		InternalHash: s.internalHash,
		MIMEType:     s.claimedType,
		Size:         s.size,
		URIs:         s.uris.Strings(),
		OwnerID:      s.session.UserID,
		Public:       true,
	}
	if s.bufferMeta && s.target != "" {
		for _, tag := range s.tags {
			fs.Tags = append(fs.Tags, repo.PendingTag{
				TargetURI: s.target,
				Field:     tag.Field,
				Value:     tag.Value,
			})
		}
	}
	return fs
}

// StoreBatch commits every submission in subs within a single
// transaction, transitioning each to Stored then Committed on success.
// The at-most-one-concurrent guarantee comes from the repository's
// single writer transaction.
func StoreBatch(ctx context.Context, r *repo.Repository, subs []*Submission) ([]repo.File, error) {
	fileSubs := make([]repo.FileSubmission, len(subs))
	for i, s := range subs {
		if s.state != Hashed {
			return nil, errs.Wrap(errs.EINVAL, "store on submission in state %s", s.state)
		}
		fileSubs[i] = s.toFileSubmission()
		s.state = Stored
	}

	files, err := r.CommitBatch(ctx, fileSubs)
	if err != nil {
		for _, s := range subs {
			s.state = Aborted
		}
		return nil, err
	}

	for _, s := range subs {
		s.state = Committed
	}
	return files, nil
}
