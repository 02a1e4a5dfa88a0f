// Package memstore keeps every ledger repository in memory so services can
// be exercised end to end without Postgres. Transactions are ignored: a
// write is visible as soon as it is made.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"arbitra/db"
	"arbitra/dispute"
	"arbitra/escrow"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/reward"
	"arbitra/subject"
)

// Store groups one in-memory repository per account type.
type Store struct {
	Namespaces *Namespaces
	Subjects   *Subjects
	Pools      *Pools
	Escrows    *Escrows
	Disputes   *Disputes
}

func New() *Store {
	return &Store{
		Namespaces: &Namespaces{rows: map[string]namespace.Config{}},
		Subjects:   &Subjects{rows: map[uuid.UUID]subject.Subject{}},
		Pools:      &Pools{rows: map[uuid.UUID]pool.Pool{}},
		Escrows:    &Escrows{rows: map[uuid.UUID]escrow.Escrow{}, records: map[uuid.UUID]escrow.Record{}},
		Disputes:   &Disputes{rows: map[uuid.UUID]dispute.Dispute{}},
	}
}

// DisputeRepos wires the store into the dispute engine.
func (s *Store) DisputeRepos() dispute.Repos {
	return dispute.Repos{
		Disputes:   s.Disputes,
		Subjects:   s.Subjects,
		Namespaces: s.Namespaces,
		Pools:      s.Pools,
		Escrows:    s.Escrows,
	}
}

// RewardRepos wires the store into the reward distributor.
func (s *Store) RewardRepos() reward.Repos {
	return reward.Repos{
		Subjects: s.Subjects,
		Escrows:  s.Escrows,
		Pools:    s.Pools,
	}
}

// SubjectRepos wires the store into the subject registry.
func (s *Store) SubjectRepos() subject.Repos {
	return subject.Repos{
		Subjects:   s.Subjects,
		Namespaces: s.Namespaces,
		Pools:      s.Pools,
		Escrows:    s.Escrows,
	}
}

type Namespaces struct {
	mu   sync.Mutex
	rows map[string]namespace.Config
}

func (n *Namespaces) Insert(_ context.Context, _ pgx.Tx, cfg namespace.Config) (namespace.Config, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.rows[cfg.Namespace]; ok {
		return namespace.Config{}, protocol.Reject(protocol.ErrDuplicateNamespace, cfg.Address.String(), "namespace")
	}
	n.rows[cfg.Namespace] = cfg
	return cfg, nil
}

func (n *Namespaces) Update(_ context.Context, _ pgx.Tx, cfg namespace.Config) (namespace.Config, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.rows[cfg.Namespace]; !ok {
		return namespace.Config{}, namespace.ErrNotFound
	}
	n.rows[cfg.Namespace] = cfg
	return cfg, nil
}

func (n *Namespaces) GetForUpdate(ctx context.Context, _ pgx.Tx, name string) (namespace.Config, error) {
	return n.Get(ctx, nil, name)
}

func (n *Namespaces) GetForShare(ctx context.Context, _ pgx.Tx, name string) (namespace.Config, error) {
	return n.Get(ctx, nil, name)
}

func (n *Namespaces) Get(_ context.Context, _ db.Querier, name string) (namespace.Config, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cfg, ok := n.rows[name]
	if !ok {
		return namespace.Config{}, namespace.ErrNotFound
	}
	return cfg, nil
}

func (n *Namespaces) GetByAddress(_ context.Context, _ db.Querier, address uuid.UUID) (namespace.Config, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, cfg := range n.rows {
		if cfg.Address == address {
			return cfg, nil
		}
	}
	return namespace.Config{}, namespace.ErrNotFound
}

func (n *Namespaces) List(_ context.Context, _ db.Querier, _ int) ([]namespace.Config, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]namespace.Config, 0, len(n.rows))
	for _, cfg := range n.rows {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out, nil
}

type Subjects struct {
	mu   sync.Mutex
	rows map[uuid.UUID]subject.Subject
}

func (s *Subjects) Insert(_ context.Context, _ pgx.Tx, subj subject.Subject) (subject.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[subj.Address]; ok {
		return subject.Subject{}, protocol.Reject(protocol.ErrDuplicateSubject, subj.Address.String(), "subject_id")
	}
	s.rows[subj.Address] = subj
	return subj, nil
}

func (s *Subjects) Save(_ context.Context, _ pgx.Tx, subj subject.Subject) (subject.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[subj.Address]; !ok {
		return subject.Subject{}, subject.ErrNotFound
	}
	s.rows[subj.Address] = subj
	return subj, nil
}

func (s *Subjects) GetForUpdate(ctx context.Context, _ pgx.Tx, subjectID string) (subject.Subject, error) {
	return s.GetByAddress(ctx, nil, protocol.SubjectAddress(subjectID))
}

func (s *Subjects) Get(ctx context.Context, _ db.Querier, subjectID string) (subject.Subject, error) {
	return s.GetByAddress(ctx, nil, protocol.SubjectAddress(subjectID))
}

func (s *Subjects) GetByAddress(_ context.Context, _ db.Querier, address uuid.UUID) (subject.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subj, ok := s.rows[address]
	if !ok {
		return subject.Subject{}, subject.ErrNotFound
	}
	return subj, nil
}

func (s *Subjects) List(_ context.Context, _ db.Querier, filter subject.Filter) ([]subject.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subject.Subject, 0, len(s.rows))
	for _, subj := range s.rows {
		if filter.Namespace != "" && subj.Namespace != filter.Namespace {
			continue
		}
		if filter.Status != "" && subj.Status != filter.Status {
			continue
		}
		out = append(out, subj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}

type Pools struct {
	mu   sync.Mutex
	rows map[uuid.UUID]pool.Pool
}

func (p *Pools) GetForUpdate(ctx context.Context, _ pgx.Tx, owner protocol.Identity, role protocol.Role) (pool.Pool, error) {
	return p.Get(ctx, nil, protocol.PoolAddress(role, owner))
}

func (p *Pools) Create(_ context.Context, _ pgx.Tx, row pool.Pool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rows[row.Address]; ok {
		return false, nil
	}
	row.Balance = 0
	p.rows[row.Address] = row
	return true, nil
}

func (p *Pools) Save(_ context.Context, _ pgx.Tx, row pool.Pool) (pool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows[row.Address] = row
	return row, nil
}

func (p *Pools) Get(_ context.Context, _ db.Querier, address uuid.UUID) (pool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.rows[address]
	if !ok {
		return pool.Pool{}, pool.ErrNotFound
	}
	return row, nil
}

func (p *Pools) List(_ context.Context, _ db.Querier, filter pool.Filter) ([]pool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pool.Pool, 0, len(p.rows))
	for _, row := range p.rows {
		if filter.Owner != "" && row.Owner != filter.Owner {
			continue
		}
		if filter.Role != "" && row.Role != filter.Role {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// Balance returns the owner's pool balance for role, zero when absent.
func (p *Pools) Balance(owner protocol.Identity, role protocol.Role) protocol.Amount {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows[protocol.PoolAddress(role, owner)].Balance
}

type Escrows struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]escrow.Escrow
	records map[uuid.UUID]escrow.Record
}

func (e *Escrows) GetForUpdate(ctx context.Context, _ pgx.Tx, subjectID string, round uint32) (escrow.Escrow, error) {
	return e.Get(ctx, nil, protocol.EscrowAddress(subjectID, round))
}

func (e *Escrows) Save(_ context.Context, _ pgx.Tx, row escrow.Escrow) (escrow.Escrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if row.Settlement != nil {
		s := *row.Settlement
		row.Settlement = &s
	}
	e.rows[row.Address] = row
	return row, nil
}

func (e *Escrows) Get(_ context.Context, _ db.Querier, address uuid.UUID) (escrow.Escrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	row, ok := e.rows[address]
	if !ok {
		return escrow.Escrow{}, escrow.ErrNotFound
	}
	if row.Settlement != nil {
		s := *row.Settlement
		row.Settlement = &s
	}
	return row, nil
}

func (e *Escrows) ListBySubject(_ context.Context, _ db.Querier, subjectID string) ([]escrow.Escrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]escrow.Escrow, 0, 4)
	for _, row := range e.rows {
		if row.SubjectID == subjectID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out, nil
}

func (e *Escrows) GetRecordForUpdate(ctx context.Context, _ pgx.Tx, role protocol.Role, subjectID string, owner protocol.Identity, round uint32) (escrow.Record, error) {
	return e.GetRecord(ctx, nil, protocol.RecordAddress(role, subjectID, owner, round))
}

// SaveRecord stores the record as it would come back from a database read,
// which drops its uncommitted marker.
func (e *Escrows) SaveRecord(_ context.Context, _ pgx.Tx, rec escrow.Record) (escrow.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stored := reload(rec)
	e.records[rec.Address] = stored
	return stored, nil
}

func (e *Escrows) GetRecord(_ context.Context, _ db.Querier, address uuid.UUID) (escrow.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[address]
	if !ok {
		return escrow.Record{}, escrow.ErrRecordNotFound
	}
	return rec, nil
}

func (e *Escrows) RoundRecords(ctx context.Context, _ pgx.Tx, subjectID string, round uint32) ([]escrow.Record, error) {
	return e.ListRecords(ctx, nil, escrow.RecordFilter{SubjectID: subjectID, Round: round})
}

func (e *Escrows) ListRecords(_ context.Context, _ db.Querier, filter escrow.RecordFilter) ([]escrow.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]escrow.Record, 0, len(e.records))
	for _, rec := range e.records {
		if filter.SubjectID != "" && rec.SubjectID != filter.SubjectID {
			continue
		}
		if filter.Round > 0 && rec.Round != filter.Round {
			continue
		}
		if filter.Owner != "" && rec.Owner != filter.Owner {
			continue
		}
		if filter.Role != "" && rec.Role != filter.Role {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out, nil
}

// reload copies the exported fields of rec, as a database round trip would.
func reload(rec escrow.Record) escrow.Record {
	return escrow.Record{
		Address:        rec.Address,
		Role:           rec.Role,
		SubjectAddress: rec.SubjectAddress,
		SubjectID:      rec.SubjectID,
		Round:          rec.Round,
		Owner:          rec.Owner,
		Stake:          rec.Stake,
		Source:         rec.Source,
		Side:           rec.Side,
		Choice:         rec.Choice,
		DetailsRef:     rec.DetailsRef,
		Claimed:        rec.Claimed,
		Payout:         rec.Payout,
		ClaimedAt:      rec.ClaimedAt,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

type Disputes struct {
	mu   sync.Mutex
	rows map[uuid.UUID]dispute.Dispute
}

func (d *Disputes) Save(_ context.Context, _ pgx.Tx, row dispute.Dispute) (dispute.Dispute, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if row.Status == protocol.DisputeVoting {
		for addr, other := range d.rows {
			if addr != row.Address && other.SubjectAddress == row.SubjectAddress && other.Status == protocol.DisputeVoting {
				return dispute.Dispute{}, protocol.Reject(protocol.ErrSubjectNotDisputable, row.SubjectAddress.String(), "dispute")
			}
		}
	}
	d.rows[row.Address] = row
	return row, nil
}

func (d *Disputes) GetForUpdate(ctx context.Context, _ pgx.Tx, subjectID string, round uint32) (dispute.Dispute, error) {
	return d.Get(ctx, nil, protocol.DisputeAddress(subjectID, round))
}

func (d *Disputes) Get(_ context.Context, _ db.Querier, address uuid.UUID) (dispute.Dispute, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, ok := d.rows[address]
	if !ok {
		return dispute.Dispute{}, dispute.ErrNotFound
	}
	return row, nil
}

func (d *Disputes) List(_ context.Context, _ db.Querier, filter dispute.Filter) ([]dispute.Dispute, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dispute.Dispute, 0, len(d.rows))
	for _, row := range d.rows {
		if filter.SubjectID != "" && row.SubjectID != filter.SubjectID {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && row.Kind != filter.Kind {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID < out[j].SubjectID
		}
		return out[i].Round < out[j].Round
	})
	return out, nil
}
