package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tywin1104/crew-gatekeeper/cache"
	"github.com/tywin1104/crew-gatekeeper/db"
	"github.com/tywin1104/crew-gatekeeper/metrics"
	"github.com/tywin1104/crew-gatekeeper/types"
)

var (
	// ErrInvalidForm is returned when required form fields are missing
	ErrInvalidForm = errors.New("invalid application form")
	// ErrInvalidDecision is returned for an unknown decision
	ErrInvalidDecision = errors.New("invalid decision")
)

// Notifier delivers submissions to staff and removes the delivered
// notification once a decision is made
type Notifier interface {
	Notify(ctx context.Context, sub types.Submission) (types.MessageRef, error)
	Retract(ctx context.Context, sub types.Submission) error
}

// Broadcaster pushes decision flags to connected realtime clients
type Broadcaster interface {
	BroadcastDecision(approved bool)
}

// Queue hands new submissions over to the dispatch worker
type Queue interface {
	Publish(sub types.Submission) error
}

// Service is the approval relay. It owns the submission workflow
// (pending -> approved/rejected) and the gate passes granted by approvals.
type Service struct {
	store       db.Store
	passes      cache.PassStore
	notifier    Notifier
	broadcaster Broadcaster
	queue       Queue
	logger      *logrus.Entry
	now         func() time.Time
}

// Option configures a relay Service
type Option func(*Service)

// WithQueue dispatches new submissions through a queue instead of inline
func WithQueue(q Queue) Option {
	return func(svc *Service) {
		svc.queue = q
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		svc.now = now
	}
}

// NewService creates the approval relay
func NewService(store db.Store, passes cache.PassStore, notifier Notifier, broadcaster Broadcaster, logger *logrus.Entry, opts ...Option) *Service {
	svc := &Service{
		store:       store,
		passes:      passes,
		notifier:    notifier,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Submit registers a new pending submission and dispatches its notification
func (svc *Service) Submit(ctx context.Context, applicant types.Applicant, form types.ApplicationForm) (types.Submission, error) {
	if missing := form.MissingFields(); len(missing) > 0 {
		metrics.Submissions.WithLabelValues("invalid").Inc()
		return types.Submission{}, fmt.Errorf("%w: missing %s", ErrInvalidForm, strings.Join(missing, ", "))
	}
	sub := types.Submission{
		ID:        uuid.NewString(),
		Applicant: applicant,
		Form:      form,
		Status:    types.StatusPending,
		Timestamp: svc.now(),
	}
	if err := svc.store.CreateSubmission(ctx, sub); err != nil {
		if errors.Is(err, db.ErrPendingExists) {
			metrics.Submissions.WithLabelValues("duplicate").Inc()
		}
		return types.Submission{}, err
	}

	if svc.queue != nil {
		if err := svc.queue.Publish(sub); err != nil {
			svc.abandon(ctx, sub)
			metrics.Submissions.WithLabelValues("failed").Inc()
			return types.Submission{}, fmt.Errorf("publish submission: %w", err)
		}
		metrics.Submissions.WithLabelValues("queued").Inc()
		return sub, nil
	}

	dispatched, err := svc.Dispatch(ctx, sub)
	if err != nil {
		return types.Submission{}, err
	}
	return dispatched, nil
}

// Dispatch sends the notification of a pending submission and records the
// message reference. A failed dispatch deletes the pending submission so that
// the applicant can submit again.
func (svc *Service) Dispatch(ctx context.Context, sub types.Submission) (types.Submission, error) {
	log := svc.logger
	ref, err := svc.notifier.Notify(ctx, sub)
	if err != nil {
		svc.abandon(ctx, sub)
		metrics.Submissions.WithLabelValues("failed").Inc()
		return types.Submission{}, fmt.Errorf("dispatch notification: %w", err)
	}
	if err := svc.store.AttachMessage(ctx, sub.ID, ref); err != nil {
		// The notification is out, a missing reference only prevents its removal later
		log.WithFields(logrus.Fields{
			"err":          err.Error(),
			"submissionID": sub.ID,
		}).Warn("Unable to record notification reference")
	}
	sub.Message = ref
	metrics.Submissions.WithLabelValues("dispatched").Inc()
	log.WithFields(logrus.Fields{
		"submissionID": sub.ID,
		"userID":       sub.Applicant.ID,
		"messageID":    ref.MessageID,
	}).Info("Notification dispatched")
	return sub, nil
}

func (svc *Service) abandon(ctx context.Context, sub types.Submission) {
	if err := svc.store.DeleteSubmission(ctx, sub.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
		svc.logger.WithFields(logrus.Fields{
			"err":          err.Error(),
			"submissionID": sub.ID,
		}).Error("Unable to delete undelivered submission")
	}
}

// Decide applies a staff decision to a pending submission. Decisions on a
// submission that is no longer pending are ignored and reported with
// applied=false: no pass is granted and nothing is broadcast.
func (svc *Service) Decide(ctx context.Context, submissionID string, decision types.Decision, staff string) (types.Submission, bool, error) {
	log := svc.logger
	if decision != types.DecisionApprove && decision != types.DecisionReject {
		return types.Submission{}, false, ErrInvalidDecision
	}
	sub, applied, err := svc.store.Resolve(ctx, submissionID, decision.Status(), staff, svc.now())
	if err != nil {
		return types.Submission{}, false, err
	}
	metrics.Decisions.WithLabelValues(string(decision), strconv.FormatBool(applied)).Inc()
	if !applied {
		log.WithFields(logrus.Fields{
			"submissionID": submissionID,
			"status":       sub.Status,
			"staff":        staff,
		}).Info("Ignoring decision on a submission that is already closed")
		return sub, false, nil
	}

	approved := decision == types.DecisionApprove
	if approved {
		if _, err := svc.passes.Grant(ctx, sub.Applicant.ID); err != nil {
			log.WithFields(logrus.Fields{
				"err":          err.Error(),
				"submissionID": sub.ID,
				"userID":       sub.Applicant.ID,
			}).Error("Unable to grant gate pass")
			// Put the submission back to pending so that the approval can be retried
			if reopenErr := svc.store.Reopen(ctx, sub.ID, sub.Status); reopenErr != nil {
				log.WithFields(logrus.Fields{
					"err":          reopenErr.Error(),
					"submissionID": sub.ID,
				}).Error("Unable to reopen submission after a failed grant")
			}
			return types.Submission{}, false, fmt.Errorf("grant gate pass: %w", err)
		}
	}
	svc.broadcaster.BroadcastDecision(approved)

	if err := svc.notifier.Retract(ctx, sub); err != nil {
		log.WithFields(logrus.Fields{
			"err":          err.Error(),
			"submissionID": sub.ID,
			"messageID":    sub.Message.MessageID,
		}).Warn("Unable to retract notification")
	}
	log.WithFields(logrus.Fields{
		"submissionID": sub.ID,
		"userID":       sub.Applicant.ID,
		"status":       sub.Status,
		"staff":        staff,
	}).Info("Submission decided")
	return sub, true, nil
}

// Admit performs the gate check for the user, consuming one gate pass
func (svc *Service) Admit(ctx context.Context, userID string) (bool, error) {
	ok, err := svc.passes.Consume(ctx, userID)
	if err != nil {
		metrics.GateChecks.WithLabelValues("error").Inc()
		return false, err
	}
	if ok {
		metrics.GateChecks.WithLabelValues("granted").Inc()
	} else {
		metrics.GateChecks.WithLabelValues("denied").Inc()
	}
	return ok, nil
}

// Submission returns one submission by id
func (svc *Service) Submission(ctx context.Context, id string) (types.Submission, error) {
	return svc.store.GetSubmission(ctx, id)
}

// List returns the submissions with the given status, all when empty
func (svc *Service) List(ctx context.Context, status string) ([]types.Submission, error) {
	return svc.store.GetSubmissions(ctx, status)
}

// Stats summarizes the workflow for the staff dashboard
type Stats struct {
	Pending                      int     `json:"pending"`
	Approved                     int     `json:"approved"`
	Rejected                     int     `json:"rejected"`
	AverageResponseTimeInMinutes float64 `json:"averageResponseTimeInMinutes"`
	// Pending submissions older than 24 hours
	OvertimeCount int `json:"overtimeCount"`
}

// Stats computes aggregate counts over all submissions
func (svc *Service) Stats(ctx context.Context) (Stats, error) {
	submissions, err := svc.store.GetSubmissions(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	var totalResponseTime float64
	now := svc.now()
	for _, sub := range submissions {
		switch sub.Status {
		case types.StatusPending:
			stats.Pending++
			if now.Sub(sub.Timestamp) >= 24*time.Hour {
				stats.OvertimeCount++
			}
		case types.StatusApproved:
			stats.Approved++
			totalResponseTime += sub.DecidedTimestamp.Sub(sub.Timestamp).Minutes()
		case types.StatusRejected:
			stats.Rejected++
			totalResponseTime += sub.DecidedTimestamp.Sub(sub.Timestamp).Minutes()
		}
	}
	if decided := stats.Approved + stats.Rejected; decided > 0 {
		stats.AverageResponseTimeInMinutes = totalResponseTime / float64(decided)
	}
	return stats, nil
}
