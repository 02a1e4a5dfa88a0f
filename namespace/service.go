package namespace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arbitra/db"
	"arbitra/journal"
	"arbitra/protocol"
)

// Service exposes the namespace registry.
type Service struct {
	pool    db.TxBeginner
	reader  db.Querier
	repo    Repository
	journal journal.Sink
	logger  zerolog.Logger
}

func NewService(pool db.TxBeginner, reader db.Querier, repo Repository, sink journal.Sink) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:    pool,
		reader:  reader,
		repo:    repo,
		journal: sink,
		logger:  zerolog.Nop(),
	}
}

func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger.With().Str("component", "namespace").Logger()
	return s
}

type InitializeParams struct {
	Caller           protocol.Identity
	Namespace        string
	MinParticipation protocol.Amount
}

// InitializeConfig registers a namespace with the caller as both authority
// and treasury.
func (s *Service) InitializeConfig(ctx context.Context, params InitializeParams) (Config, error) {
	if params.Caller == "" {
		return Config{}, protocol.Reject(protocol.ErrUnauthorized, "", "caller").Withf("caller identity required")
	}
	name := strings.TrimSpace(params.Namespace)
	if name == "" || len(name) > MaxNamespaceLen {
		return Config{}, protocol.Reject(protocol.ErrInvalidParameter, "", "namespace").
			Withf("namespace must be 1-%d characters", MaxNamespaceLen)
	}
	if params.MinParticipation > protocol.MaxAmount {
		return Config{}, protocol.Reject(protocol.ErrAmountOverflow, "", "min_participation").
			Withf("min participation exceeds %d", protocol.MaxAmount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("namespace: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Insert(ctx, tx, Config{
		Address:          protocol.ConfigAddress(name),
		Namespace:        name,
		Authority:        params.Caller,
		Treasury:         params.Caller,
		MinParticipation: params.MinParticipation,
	})
	if err != nil {
		return Config{}, err
	}

	if s.journal != nil {
		ev := journal.Event{
			Account: created.Address,
			Kind:    journal.KindConfigInitialized,
			Actor:   params.Caller,
			Payload: map[string]any{
				"namespace":         created.Namespace,
				"min_participation": uint64(created.MinParticipation),
			},
		}
		if err := s.journal.Append(ctx, tx, ev); err != nil {
			return Config{}, err
		}
		if err := s.journal.Enqueue(ctx, tx, journal.TopicConfigInitialized, map[string]any{
			"namespace": created.Namespace,
			"authority": created.Authority,
		}); err != nil {
			return Config{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Config{}, fmt.Errorf("namespace: commit tx: %w", err)
	}

	s.logger.Info().Str("namespace", created.Namespace).Str("authority", string(created.Authority)).Msg("namespace initialized")
	return created, nil
}

type UpdateParams struct {
	Caller       protocol.Identity
	Namespace    string
	NewAuthority protocol.Identity
	NewTreasury  protocol.Identity
}

// UpdateConfig rotates the authority and/or treasury. Empty fields keep
// their current value.
func (s *Service) UpdateConfig(ctx context.Context, params UpdateParams) (Config, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("namespace: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := s.repo.GetForUpdate(ctx, tx, params.Namespace)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Config{}, protocol.Reject(protocol.ErrNotFound, protocol.ConfigAddress(params.Namespace).String(), "namespace")
		}
		return Config{}, err
	}
	if !cfg.IsAuthority(params.Caller) {
		return Config{}, protocol.Reject(protocol.ErrUnauthorized, cfg.Address.String(), "authority").
			Withf("%s is not the namespace authority", params.Caller)
	}

	previous := cfg
	if params.NewAuthority != "" {
		cfg.Authority = params.NewAuthority
	}
	if params.NewTreasury != "" {
		cfg.Treasury = params.NewTreasury
	}

	updated, err := s.repo.Update(ctx, tx, cfg)
	if err != nil {
		return Config{}, err
	}

	if s.journal != nil {
		ev := journal.Event{
			Account: updated.Address,
			Kind:    journal.KindConfigUpdated,
			Actor:   params.Caller,
			Payload: map[string]any{
				"previous_authority": previous.Authority,
				"authority":          updated.Authority,
				"previous_treasury":  previous.Treasury,
				"treasury":           updated.Treasury,
			},
		}
		if err := s.journal.Append(ctx, tx, ev); err != nil {
			return Config{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Config{}, fmt.Errorf("namespace: commit tx: %w", err)
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, namespace string) (Config, error) {
	return s.repo.Get(ctx, s.reader, namespace)
}

func (s *Service) GetByAddress(ctx context.Context, address uuid.UUID) (Config, error) {
	return s.repo.GetByAddress(ctx, s.reader, address)
}

func (s *Service) List(ctx context.Context, limit int) ([]Config, error) {
	return s.repo.List(ctx, s.reader, limit)
}
