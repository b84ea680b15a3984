package kycclient

import (
	"context"
	"fmt"
	"sync"

	"kycchain/internal/normalize"
)

// Store is the single source of truth for the application list shown
// to a signed-in admin or reviewer. It never applies an optimistic
// local change: a decision is visible only after the backend accepted
// it and a full re-fetch succeeded.
type Store struct {
	client *Client

	mu      sync.RWMutex
	apps    []normalize.Application
	lastErr error
}

func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// Applications returns a snapshot of the current list.
func (s *Store) Applications() []normalize.Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]normalize.Application, len(s.apps))
	copy(out, s.apps)
	return out
}

// ReviewQueue filters the snapshot down to records awaiting a human
// decision.
func (s *Store) ReviewQueue() []normalize.Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []normalize.Application
	for _, a := range s.apps {
		if a.InReviewQueue() {
			out = append(out, a)
		}
	}
	return out
}

// Err returns the failure recorded by the last operation, nil after a
// success. The UI renders it next to the stale list.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Fetch replaces the list with the backend's current state. On failure
// the previous list is kept and the error is recorded for the UI.
func (s *Store) Fetch(ctx context.Context) error {
	apps, err := s.client.ListApplications(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		return err
	}
	s.apps = apps
	s.lastErr = nil
	return nil
}

// Approve submits an approval with a comment naming the acting
// reviewer, then resyncs. The list is untouched when the backend
// refuses.
func (s *Store) Approve(ctx context.Context, id, actorLabel string) error {
	return s.decide(ctx, id, actorLabel, "Approved", s.client.Approve)
}

// Reject is symmetric to Approve.
func (s *Store) Reject(ctx context.Context, id, actorLabel string) error {
	return s.decide(ctx, id, actorLabel, "Rejected", s.client.Reject)
}

func (s *Store) decide(ctx context.Context, id, actorLabel, verb string, call func(context.Context, string, string) error) error {
	comment := fmt.Sprintf("%s by %s", verb, actorLabel)
	if err := call(ctx, id, comment); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	return s.Fetch(ctx)
}
