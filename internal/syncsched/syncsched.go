// Package syncsched implements the two-queue sync scheduler: a fileq and
// a metaq, each with ingest/work/done counting semaphores, coordinated
// by a shared semaphore that wakes the single consumer.
package syncsched

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/sln-repo/strongline/internal/metrics"
	"github.com/sln-repo/strongline/internal/repo"
	"github.com/sln-repo/strongline/internal/submission"
)

var log = logging.Logger("syncsched")

// Queue is one of fileq/metaq: a single-slot mailbox guarded by its own
// ingest/work/done semaphores.
type Queue struct {
	name   string
	ingest *countingSemaphore
	work   *countingSemaphore
	done   *countingSemaphore

	mu  sync.Mutex
	sub *submission.Submission
}

func newQueue(name string) *Queue {
	return &Queue{
		name:   name,
		ingest: newCountingSemaphore(1),
		work:   newCountingSemaphore(0),
		done:   newCountingSemaphore(0),
	}
}

// Scheduler coordinates peer-driven file and meta-file ingestion using
// a fixed ingest/work/done/shared semaphore protocol.
type Scheduler struct {
	Repo   *repo.Repository
	FileQ  *Queue
	MetaQ  *Queue
	shared *countingSemaphore
}

func New(r *repo.Repository) *Scheduler {
	return &Scheduler{
		Repo:   r,
		FileQ:  newQueue("fileq"),
		MetaQ:  newQueue("metaq"),
		shared: newCountingSemaphore(0),
	}
}

// Produce offers sub to queue, blocking until a consumer has finished
// with it. Only one outstanding submission per queue is allowed at a
// time, enforced by the queue's ingest semaphore.
func (s *Scheduler) Produce(ctx context.Context, q *Queue, sub *submission.Submission) error {
	if err := q.ingest.Wait(ctx); err != nil {
		return err
	}
	q.mu.Lock()
	q.sub = sub
	q.mu.Unlock()
	metrics.SyncItemsPulled.WithLabelValues(q.name).Inc()

	q.work.Post()
	s.shared.Post()

	if err := q.done.Wait(ctx); err != nil {
		return err
	}
	q.ingest.Post()
	return nil
}

// Consume blocks until either queue has work, then returns that queue
// and its pending submission. At least one of fileq/metaq has work
// available whenever shared wakes, since shared is posted exactly once
// per Produce call alongside that queue's work semaphore; fileq is
// checked first when both do.
func (s *Scheduler) Consume(ctx context.Context) (*Queue, *submission.Submission, error) {
	if err := s.shared.Wait(ctx); err != nil {
		return nil, nil, err
	}

	if s.FileQ.work.TryWait() {
		s.FileQ.mu.Lock()
		sub := s.FileQ.sub
		s.FileQ.mu.Unlock()
		return s.FileQ, sub, nil
	}
	if s.MetaQ.work.TryWait() {
		s.MetaQ.mu.Lock()
		sub := s.MetaQ.sub
		s.MetaQ.mu.Unlock()
		return s.MetaQ, sub, nil
	}

	return nil, nil, repo.AssertInvariant("shared semaphore posted but neither queue had work")
}

// WorkDone stores sub and releases the queue's slot for its next
// producer.
func (s *Scheduler) WorkDone(ctx context.Context, q *Queue, sub *submission.Submission) error {
	_, err := submission.StoreBatch(ctx, s.Repo, []*submission.Submission{sub})
	q.done.Post()
	if err != nil {
		metrics.SubmissionsAborted.WithLabelValues(q.name).Inc()
		log.Errorf("%s: store failed: %v", q.name, err)
		return err
	}
	metrics.SubmissionsAccepted.WithLabelValues(q.name).Inc()
	return nil
}

// Run drains the scheduler until ctx is canceled, routing each consumed
// submission through WorkDone.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		q, sub, err := s.Consume(ctx)
		if err != nil {
			return
		}
		if err := s.WorkDone(ctx, q, sub); err != nil {
			log.Warnf("work item failed: %v", err)
		}
	}
}
