package alertconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fallguard/fallguard/internal/apperr"
)

// Store persists configurations.
type Store interface {
	// ActiveConfig returns ErrConfigNotFound when no row is active.
	ActiveConfig(ctx context.Context) (Config, error)
	GetConfig(ctx context.Context, id int64) (Config, error)
	ListConfigs(ctx context.Context) ([]Config, error)
	// CreateConfig inserts c. When activate is set the insert clears every
	// other active flag in the same transaction.
	CreateConfig(ctx context.Context, c Config, activate bool) (Config, error)
	// ActivateConfig clears every active flag and sets id's, atomically.
	ActivateConfig(ctx context.Context, id int64, at time.Time) (Config, error)
}

// Service is the AlertConfig store seen by the rest of the system.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
	// ChangeHook runs after the active configuration changed.
	ChangeHook func()

	materialize sync.Mutex
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Active returns the active configuration, creating and activating the
// default one when none exists.
func (s *Service) Active(ctx context.Context) (Config, error) {
	c, err := s.store.ActiveConfig(ctx)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrConfigNotFound) {
		return Config{}, fmt.Errorf("load active alert config: %w", err)
	}

	s.materialize.Lock()
	defer s.materialize.Unlock()
	if c, err := s.store.ActiveConfig(ctx); err == nil {
		return c, nil
	}

	d := Default()
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now
	created, err := s.store.CreateConfig(ctx, d, true)
	if err != nil {
		// another process may have won the race to create it
		if c, rerr := s.store.ActiveConfig(ctx); rerr == nil {
			return c, nil
		}
		return Config{}, fmt.Errorf("materialize default alert config: %w", err)
	}
	s.logger.Info("Default alert config created", "config_id", created.ID)
	return created, nil
}

// Activate makes id the only active configuration.
func (s *Service) Activate(ctx context.Context, id int64) (Config, error) {
	target, err := s.store.GetConfig(ctx, id)
	if err != nil {
		return Config{}, err
	}
	if len(target.Channels) == 0 {
		ve := &apperr.ValidationError{}
		ve.Add("channels", "must not be empty for the active config")
		return Config{}, ve
	}

	c, err := s.store.ActivateConfig(ctx, id, s.now())
	if err != nil {
		return Config{}, err
	}
	s.logger.Info("Alert config activated", "config_id", c.ID, "name", c.Name)
	s.changed()
	return c, nil
}

// Create validates and stores a configuration. It is activated only if it is
// the first one or the caller asked for it.
func (s *Service) Create(ctx context.Context, c Config) (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	activate := c.IsActive
	if activate && len(c.Channels) == 0 {
		ve := &apperr.ValidationError{}
		ve.Add("channels", "must not be empty for the active config")
		return Config{}, ve
	}

	existing, err := s.store.ListConfigs(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("list alert configs: %w", err)
	}
	if len(existing) == 0 && len(c.Channels) > 0 {
		activate = true
	}

	now := s.now()
	c.ID = 0
	c.IsActive = false
	c.CreatedAt, c.UpdatedAt = now, now
	created, err := s.store.CreateConfig(ctx, c, activate)
	if err != nil {
		return Config{}, fmt.Errorf("create alert config: %w", err)
	}
	s.logger.Info("Alert config created", "config_id", created.ID, "active", created.IsActive)
	if created.IsActive {
		s.changed()
	}
	return created, nil
}

func (s *Service) List(ctx context.Context) ([]Config, error) {
	return s.store.ListConfigs(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Config, error) {
	return s.store.GetConfig(ctx, id)
}

func (s *Service) changed() {
	if s.ChangeHook != nil {
		s.ChangeHook()
	}
}
