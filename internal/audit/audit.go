// Package audit captures an append-only trail of who did what to mission
// orders. Events are enqueued in-process and persisted by a background
// worker so the business path never waits on the trail.
package audit

import (
	"context"
	"log/slog"
	"time"

	"escorte/pkg/requestcontext"
)

// Event is one audit trail entry. Transport-agnostic so stores and sinks
// can fan out.
type Event struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurredAt"`
	ActorID    int64     `json:"actorId"`
	Action     string    `json:"action"`
	Subject    string    `json:"subject"`
	SubjectID  int64     `json:"subjectId"`
	Detail     string    `json:"detail,omitempty"`
	ClientIP   string    `json:"clientIp,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
}

// Store is the persistence port for the trail.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string, subjectID int64) ([]Event, error)
}

// Recorder enriches events from the request context and hands them to the
// worker's inbox. A full inbox drops the event with a warning; the trail is
// best-effort by contract.
type Recorder struct {
	inbox  chan<- Event
	logger *slog.Logger
}

func NewRecorder(inbox chan<- Event, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{inbox: inbox, logger: logger}
}

// Record enqueues one event, pulling actor and client metadata from ctx.
func (r *Recorder) Record(ctx context.Context, action, subject string, subjectID int64, detail string) {
	event := Event{
		OccurredAt: requestcontext.Now(ctx),
		ActorID:    requestcontext.AgentID(ctx),
		Action:     action,
		Subject:    subject,
		SubjectID:  subjectID,
		Detail:     detail,
		ClientIP:   requestcontext.ClientIP(ctx),
		UserAgent:  requestcontext.UserAgent(ctx),
	}
	select {
	case r.inbox <- event:
	default:
		r.logger.WarnContext(ctx, "audit inbox full, event dropped",
			"action", action, "subject", subject, "subject_id", subjectID)
	}
}

// Worker consumes audit events from a channel and persists them. It keeps
// background processing testable without wiring queue implementations.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run drains the inbox until ctx is cancelled. A store failure is logged
// and the worker keeps going; one bad row must not stall the trail.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "audit append failed",
					"action", event.Action, "error", err)
			}
		}
	}
}
