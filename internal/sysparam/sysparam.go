// Package sysparam stores office-level system parameters, currently the
// identities of the bureau and section chiefs that get snapshotted onto
// every new mission order.
package sysparam

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/platform/sentinel"
)

const (
	KeyChefBureau  = "chef_bureau_id"
	KeyChefSection = "chef_section_id"

	cacheKey = "escorte:sysparam:chiefs"
)

// Parameters is the resolved chief configuration.
type Parameters struct {
	ChefBureauID  int64 `json:"chefBureauId"`
	ChefSectionID int64 `json:"chefSectionId"`
}

// Store is the persistence port for parameters.
type Store interface {
	Get(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value int64) error
}

// Service reads parameters through a small Redis cache. Chiefs change
// rarely but are read on every order creation, so a short TTL keeps the
// database out of the hot path while still picking up changes quickly.
type Service struct {
	store  Store
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCache enables the Redis read-through cache. A nil client leaves the
// service reading straight from the store.
func WithCache(client *redis.Client, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = client
		s.ttl = ttl
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chiefs resolves the current bureau and section chiefs.
func (s *Service) Chiefs(ctx context.Context) (int64, int64, error) {
	if p, ok := s.cached(ctx); ok {
		return p.ChefBureauID, p.ChefSectionID, nil
	}
	p, err := s.load(ctx)
	if err != nil {
		return 0, 0, err
	}
	s.fill(ctx, p)
	return p.ChefBureauID, p.ChefSectionID, nil
}

// SetChiefs updates both chiefs and drops the cache entry.
func (s *Service) SetChiefs(ctx context.Context, p Parameters) error {
	if p.ChefBureauID <= 0 || p.ChefSectionID <= 0 {
		return dErrors.New(dErrors.CodeValidation, "chief ids must be positive")
	}
	if err := s.store.Set(ctx, KeyChefBureau, p.ChefBureauID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store chef bureau")
	}
	if err := s.store.Set(ctx, KeyChefSection, p.ChefSectionID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store chef section")
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, cacheKey).Err(); err != nil {
			s.logger.WarnContext(ctx, "failed to invalidate sysparam cache", "error", err)
		}
	}
	return nil
}

// Current returns the stored parameters, bypassing the cache.
func (s *Service) Current(ctx context.Context) (Parameters, error) {
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) (Parameters, error) {
	bureau, err := s.store.Get(ctx, KeyChefBureau)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Parameters{}, dErrors.New(dErrors.CodeInvalidState, "chef bureau is not configured")
		}
		return Parameters{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chef bureau")
	}
	section, err := s.store.Get(ctx, KeyChefSection)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Parameters{}, dErrors.New(dErrors.CodeInvalidState, "chef section is not configured")
		}
		return Parameters{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chef section")
	}
	return Parameters{ChefBureauID: bureau, ChefSectionID: section}, nil
}

func (s *Service) cached(ctx context.Context) (Parameters, bool) {
	if s.cache == nil {
		return Parameters{}, false
	}
	raw, err := s.cache.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WarnContext(ctx, "sysparam cache read failed", "error", err)
		}
		return Parameters{}, false
	}
	var p Parameters
	if err := json.Unmarshal(raw, &p); err != nil {
		return Parameters{}, false
	}
	return p, true
}

func (s *Service) fill(ctx context.Context, p Parameters) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey, raw, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "sysparam cache write failed", "error", err)
	}
}
