package namespace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"arbitra/db"
	"arbitra/internal/testutil/journaltest"
	"arbitra/internal/testutil/pgxfake"
	"arbitra/protocol"
)

func TestService_InitializeConfig(t *testing.T) {
	repo := newFakeRepository()
	rec := &journaltest.Recorder{}
	beginner := &pgxfake.Beginner{}
	svc := NewService(beginner, nil, repo, rec)
	ctx := context.Background()

	cfg, err := svc.InitializeConfig(ctx, InitializeParams{Caller: "platform", Namespace: "market", MinParticipation: 2})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if cfg.Authority != "platform" || cfg.Treasury != "platform" {
		t.Fatalf("expected caller as authority and treasury, got %+v", cfg)
	}
	if cfg.Address != protocol.ConfigAddress("market") {
		t.Fatal("expected config at derived address")
	}
	if !beginner.Last().Committed {
		t.Fatal("expected commit")
	}
	if !rec.Has("CONFIG_INITIALIZED") {
		t.Fatalf("expected config event, got %v", rec.Kinds())
	}

	_, err = svc.InitializeConfig(ctx, InitializeParams{Caller: "other", Namespace: "market"})
	if !errors.Is(err, protocol.ErrDuplicateNamespace) {
		t.Fatalf("expected DuplicateNamespace, got %v", err)
	}
	if tx := beginner.Last(); tx.Committed || !tx.RolledBack {
		t.Fatal("expected duplicate to roll back")
	}
	if got := repo.configs["market"]; got.Authority != "platform" {
		t.Fatalf("duplicate must not overwrite the config, got %+v", got)
	}
}

func TestService_InitializeConfigValidates(t *testing.T) {
	svc := NewService(&pgxfake.Beginner{}, nil, newFakeRepository(), nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		params InitializeParams
		want   protocol.Code
	}{
		{"no caller", InitializeParams{Namespace: "x"}, protocol.ErrUnauthorized},
		{"blank namespace", InitializeParams{Caller: "a", Namespace: "   "}, protocol.ErrInvalidParameter},
		{"long namespace", InitializeParams{Caller: "a", Namespace: string(make([]byte, MaxNamespaceLen+1))}, protocol.ErrInvalidParameter},
		{"min participation overflow", InitializeParams{Caller: "a", Namespace: "x", MinParticipation: protocol.MaxAmount + 1}, protocol.ErrAmountOverflow},
	}
	for _, tc := range cases {
		if _, err := svc.InitializeConfig(ctx, tc.params); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.want, err)
		}
	}
}

func TestService_UpdateConfig(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(&pgxfake.Beginner{}, nil, repo, nil)
	ctx := context.Background()

	if _, err := svc.InitializeConfig(ctx, InitializeParams{Caller: "platform", Namespace: "market"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err := svc.UpdateConfig(ctx, UpdateParams{Caller: "mallory", Namespace: "market", NewAuthority: "mallory"})
	if !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}

	updated, err := svc.UpdateConfig(ctx, UpdateParams{Caller: "platform", Namespace: "market", NewTreasury: "vault"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Authority != "platform" || updated.Treasury != "vault" {
		t.Fatalf("expected treasury rotation only, got %+v", updated)
	}

	if _, err := svc.UpdateConfig(ctx, UpdateParams{Caller: "platform", Namespace: "missing"}); !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestPGRepository_InsertMapsUniqueViolation(t *testing.T) {
	tx := &pgxfake.Tx{}
	tx.Queue(pgxfake.Result{Err: &pgconn.PgError{Code: "23505", ConstraintName: "protocol_configs_namespace_key"}})

	_, err := NewRepository().Insert(context.Background(), tx, Config{Address: protocol.ConfigAddress("dup"), Namespace: "dup"})
	var rej *protocol.Rejection
	if !errors.As(err, &rej) || rej.Code != protocol.ErrDuplicateNamespace || rej.Field != "namespace" {
		t.Fatalf("expected DuplicateNamespace rejection, got %v", err)
	}
}

func TestPGRepository_ScansConfig(t *testing.T) {
	now := time.Now()
	addr := protocol.ConfigAddress("market")
	tx := &pgxfake.Tx{}
	tx.Queue(pgxfake.Result{Rows: [][]any{{addr, "market", "platform", "vault", int64(3), now, now}}})

	cfg, err := NewRepository().GetForShare(context.Background(), tx, "market")
	if err != nil {
		t.Fatalf("get for share: %v", err)
	}
	if cfg.Treasury != "vault" || cfg.MinParticipation != 3 || cfg.Address != addr {
		t.Fatalf("unexpected config %+v", cfg)
	}

	tx.Queue(pgxfake.Result{})
	if _, err := NewRepository().GetForUpdate(context.Background(), tx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeRepository struct {
	configs map[string]Config
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{configs: make(map[string]Config)}
}

func (f *fakeRepository) Insert(_ context.Context, _ pgx.Tx, cfg Config) (Config, error) {
	if _, ok := f.configs[cfg.Namespace]; ok {
		return Config{}, protocol.Reject(protocol.ErrDuplicateNamespace, cfg.Address.String(), "namespace")
	}
	f.configs[cfg.Namespace] = cfg
	return cfg, nil
}

func (f *fakeRepository) Update(_ context.Context, _ pgx.Tx, cfg Config) (Config, error) {
	if _, ok := f.configs[cfg.Namespace]; !ok {
		return Config{}, ErrNotFound
	}
	f.configs[cfg.Namespace] = cfg
	return cfg, nil
}

func (f *fakeRepository) GetForUpdate(ctx context.Context, _ pgx.Tx, namespace string) (Config, error) {
	return f.Get(ctx, nil, namespace)
}

func (f *fakeRepository) GetForShare(ctx context.Context, _ pgx.Tx, namespace string) (Config, error) {
	return f.Get(ctx, nil, namespace)
}

func (f *fakeRepository) Get(_ context.Context, _ db.Querier, namespace string) (Config, error) {
	cfg, ok := f.configs[namespace]
	if !ok {
		return Config{}, ErrNotFound
	}
	return cfg, nil
}

func (f *fakeRepository) GetByAddress(_ context.Context, _ db.Querier, address uuid.UUID) (Config, error) {
	for _, cfg := range f.configs {
		if cfg.Address == address {
			return cfg, nil
		}
	}
	return Config{}, ErrNotFound
}

func (f *fakeRepository) List(_ context.Context, _ db.Querier, _ int) ([]Config, error) {
	out := make([]Config, 0, len(f.configs))
	for _, cfg := range f.configs {
		out = append(out, cfg)
	}
	return out, nil
}
