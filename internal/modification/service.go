package modification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"escorte/internal/mission"
	"escorte/internal/platform/metrics"
	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/platform/sentinel"
	"escorte/pkg/requestcontext"
)

// Orders is the slice of the order workflow the request workflow needs.
type Orders interface {
	Get(ctx context.Context, id int64) (*mission.OrderView, error)
}

// ReviewerDirectory resolves who must be told about a new request.
type ReviewerDirectory interface {
	Chiefs(ctx context.Context) (bureau, section int64, err error)
}

// Notifier delivers a message to one agent. Delivery failures are logged,
// never surfaced: a request stands on its own once persisted.
type Notifier interface {
	Notify(ctx context.Context, recipientID int64, subject, body string) error
}

// Service implements the modification-request workflow.
type Service struct {
	store     Store
	orders    Orders
	reviewers ReviewerDirectory
	notifier  Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func New(store Store, orders Orders, reviewers ReviewerDirectory, opts ...Option) *Service {
	s := &Service{
		store:     store,
		orders:    orders,
		reviewers: reviewers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit files a request against an order. At most one request per order may
// be PENDING; a second submission is rejected until the first is decided.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Request, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	order, err := s.orders.Get(ctx, in.MissionOrderID)
	if err != nil {
		return nil, err
	}

	r := &Request{
		MissionOrderID: in.MissionOrderID,
		RequesterID:    requestcontext.AgentID(ctx),
		Status:         StatusPending,
		Type:           in.Type,
		Reason:         in.Reason,
		CreatedAt:      requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, r); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeConflict,
				"mission order %s already has a pending modification request", order.Number)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create modification request")
	}

	s.notifyReviewers(ctx, order, r)
	s.logger.InfoContext(ctx, "modification request submitted",
		"request_id", r.ID,
		"order", order.Number,
		"type", r.Type,
		"requester_id", r.RequesterID,
	)
	return r, nil
}

// Review decides a pending request. Only PENDING requests can move; a
// decision is final. Rejections must carry a reason.
func (s *Service) Review(ctx context.Context, id int64, in ReviewInput) (*Request, error) {
	status := StatusApproved
	if !in.Approve {
		status = StatusRejected
		if in.RejectionReason == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "rejectionReason is required to reject")
		}
	}
	reviewed, err := s.store.Review(ctx, id, requestcontext.AgentID(ctx), status, in.RejectionReason, requestcontext.Now(ctx))
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.Newf(dErrors.CodeNotFound, "modification request %d not found", id)
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.Newf(dErrors.CodeInvalidState, "modification request %d has already been decided", id)
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to review modification request")
		}
	}

	s.metrics.RecordModificationReview(string(status))
	s.notifyRequester(ctx, reviewed)
	s.logger.InfoContext(ctx, "modification request reviewed",
		"request_id", reviewed.ID,
		"decision", status,
		"reviewer_id", requestcontext.AgentID(ctx),
	)
	return reviewed, nil
}

// Get loads one request.
func (s *Service) Get(ctx context.Context, id int64) (*Request, error) {
	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "modification request %d not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load modification request")
	}
	return r, nil
}

// ListByOrder returns the full request history of an order, newest first.
func (s *Service) ListByOrder(ctx context.Context, missionOrderID int64) ([]*Request, error) {
	if _, err := s.orders.Get(ctx, missionOrderID); err != nil {
		return nil, err
	}
	requests, err := s.store.ListByOrder(ctx, missionOrderID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list modification requests")
	}
	return requests, nil
}

func (s *Service) notifyReviewers(ctx context.Context, order *mission.OrderView, r *Request) {
	if s.notifier == nil {
		return
	}
	bureau, section, err := s.reviewers.Chiefs(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "could not resolve reviewers for notification", "error", err)
		return
	}
	recipients := []int64{bureau}
	if section != bureau {
		recipients = append(recipients, section)
	}
	subject := fmt.Sprintf("Demande de modification sur l'ordre %s", order.Number)
	body := fmt.Sprintf("Type %s: %s", r.Type, r.Reason)

	g, gctx := errgroup.WithContext(ctx)
	for _, recipient := range recipients {
		g.Go(func() error {
			return s.notifier.Notify(gctx, recipient, subject, body)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.WarnContext(ctx, "reviewer notification failed", "error", err, "request_id", r.ID)
	}
}

func (s *Service) notifyRequester(ctx context.Context, r *Request) {
	if s.notifier == nil {
		return
	}
	subject := fmt.Sprintf("Demande de modification %d: %s", r.ID, r.Status)
	body := r.Reason
	if r.Status == StatusRejected {
		body = r.RejectionReason
	}
	if err := s.notifier.Notify(ctx, r.RequesterID, subject, body); err != nil {
		s.logger.WarnContext(ctx, "requester notification failed", "error", err, "request_id", r.ID)
	}
}
