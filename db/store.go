package db

import (
	"context"
	"errors"
	"time"

	"github.com/tywin1104/crew-gatekeeper/types"
)

var (
	// ErrNotFound is returned when no submission matches the given id
	ErrNotFound = errors.New("submission not found")
	// ErrPendingExists is returned when the applicant already has a pending submission
	ErrPendingExists = errors.New("a pending submission already exists for this user")
)

// Store keeps recruitment submissions and their approval state
type Store interface {
	// CreateSubmission stores a new pending submission
	CreateSubmission(ctx context.Context, sub types.Submission) error
	GetSubmission(ctx context.Context, id string) (types.Submission, error)
	// GetSubmissions returns submissions sorted by newest first. An empty
	// status matches all of them.
	GetSubmissions(ctx context.Context, status string) ([]types.Submission, error)
	AttachMessage(ctx context.Context, id string, ref types.MessageRef) error
	// Resolve moves a pending submission to status. The returned bool is false
	// when the submission had already left the pending state, in which case
	// the stored submission is returned unchanged.
	Resolve(ctx context.Context, id, status, staff string, at time.Time) (types.Submission, bool, error)
	// Reopen moves a submission in status back to pending, clearing the
	// decision. It undoes a Resolve whose follow-up work failed.
	Reopen(ctx context.Context, id, status string) error
	DeleteSubmission(ctx context.Context, id string) error
}
