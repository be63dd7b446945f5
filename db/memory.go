package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tywin1104/crew-gatekeeper/types"
)

// MemoryStore is a process local Store. Its content is lost on restart.
type MemoryStore struct {
	mu          sync.Mutex
	submissions map[string]types.Submission
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]types.Submission),
	}
}

// CreateSubmission stores a new pending submission
func (s *MemoryStore) CreateSubmission(ctx context.Context, sub types.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.submissions {
		if existing.Applicant.ID == sub.Applicant.ID && existing.Status == types.StatusPending {
			return ErrPendingExists
		}
	}
	sub.Status = types.StatusPending
	s.submissions[sub.ID] = sub
	return nil
}

// GetSubmission returns the submission with the given id
func (s *MemoryStore) GetSubmission(ctx context.Context, id string) (types.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return types.Submission{}, ErrNotFound
	}
	return sub, nil
}

// GetSubmissions returns the submissions matching status, newest first
func (s *MemoryStore) GetSubmissions(ctx context.Context, status string) ([]types.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	submissions := make([]types.Submission, 0, len(s.submissions))
	for _, sub := range s.submissions {
		if status == "" || sub.Status == status {
			submissions = append(submissions, sub)
		}
	}
	sort.Slice(submissions, func(i, j int) bool {
		return submissions[i].Timestamp.After(submissions[j].Timestamp)
	})
	return submissions, nil
}

// AttachMessage records the outbound notification of a submission
func (s *MemoryStore) AttachMessage(ctx context.Context, id string, ref types.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return ErrNotFound
	}
	sub.Message = ref
	s.submissions[id] = sub
	return nil
}

// Resolve moves a pending submission to its final status
func (s *MemoryStore) Resolve(ctx context.Context, id, status, staff string, at time.Time) (types.Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return types.Submission{}, false, ErrNotFound
	}
	if sub.Status != types.StatusPending {
		return sub, false, nil
	}
	sub.Status = status
	sub.Staff = staff
	sub.DecidedTimestamp = at
	s.submissions[id] = sub
	return sub, true, nil
}

// Reopen moves a decided submission back to pending
func (s *MemoryStore) Reopen(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok || sub.Status != status {
		return ErrNotFound
	}
	for otherID, existing := range s.submissions {
		if otherID != id && existing.Applicant.ID == sub.Applicant.ID && existing.Status == types.StatusPending {
			return ErrPendingExists
		}
	}
	sub.Status = types.StatusPending
	sub.Staff = ""
	sub.DecidedTimestamp = time.Time{}
	s.submissions[id] = sub
	return nil
}

// DeleteSubmission removes a submission
func (s *MemoryStore) DeleteSubmission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[id]; !ok {
		return ErrNotFound
	}
	delete(s.submissions, id)
	return nil
}
