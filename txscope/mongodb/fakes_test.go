//go:build unit

package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"
)

// journal records session calls across every session a starter hands out.
type journal struct {
	mu      sync.Mutex
	events  []string
	next    int
	commits []error
	opts    []*options.TransactionOptions
}

func (j *journal) record(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, fmt.Sprintf(format, args...))
}

func (j *journal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]string(nil), j.events...)
}

// nextCommitResult pops the queued commit outcomes; nil once drained.
func (j *journal) nextCommitResult() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.commits) == 0 {
		return nil
	}

	err := j.commits[0]
	j.commits = j.commits[1:]

	return err
}

func (j *journal) starter() SessionStarter {
	return func(context.Context) (Session, error) {
		j.mu.Lock()
		j.next++
		id := j.next
		j.mu.Unlock()

		j.record("start:%d", id)

		return &fakeSession{id: id, j: j}, nil
	}
}

type fakeSession struct {
	id int
	j  *journal
}

func (s *fakeSession) StartTransaction(opts ...*options.TransactionOptions) error {
	s.j.mu.Lock()
	s.j.opts = append(s.j.opts, opts...)
	s.j.mu.Unlock()

	s.j.record("begin:%d", s.id)

	return nil
}

func (s *fakeSession) CommitTransaction(context.Context) error {
	s.j.record("commit:%d", s.id)

	return s.j.nextCommitResult()
}

func (s *fakeSession) AbortTransaction(context.Context) error {
	s.j.record("abort:%d", s.id)

	return nil
}

func (s *fakeSession) EndSession(context.Context) {
	s.j.record("end:%d", s.id)
}

type labelError struct {
	label string
}

func (e labelError) Error() string {
	return "server error with label " + e.label
}

func (e labelError) HasErrorLabel(label string) bool {
	return e.label == label
}

func maxCommitTime(opts *options.TransactionOptions) time.Duration {
	if opts == nil || opts.MaxCommitTime == nil {
		return 0
	}

	return *opts.MaxCommitTime
}
