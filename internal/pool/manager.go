// Package pool manages the staked, reputation-bearing verifier pool and
// draws juries from it.
package pool

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/store"
)

// Selection strategies for SelectJury.
const (
	SelectWeighted   = "weighted"
	SelectRoundRobin = "round_robin"
)

// Config tunes the pool.
type Config struct {
	MinStake               int64
	InitialReputation      int64
	SlashReputationPenalty int64
	Selection              string
	// Council is the only address allowed to slash.
	Council string
}

// Manager is the sole writer of VerifierRecord.
type Manager struct {
	cfg    Config
	store  store.Store
	events *events.Recorder
	Now    func() time.Time

	mu      sync.RWMutex
	writers map[string]bool
}

// NewManager returns a Manager backed by s.
func NewManager(cfg Config, s store.Store, rec *events.Recorder) *Manager {
	if cfg.Selection == "" {
		cfg.Selection = SelectWeighted
	}
	cfg.InitialReputation = min(max(cfg.InitialReputation, 0), model.MaxReputation)
	return &Manager{
		cfg:     cfg,
		store:   s,
		events:  rec,
		Now:     time.Now,
		writers: make(map[string]bool),
	}
}

// AuthorizeWriter allows addr to adjust reputation. The council is always
// allowed.
func (m *Manager) AuthorizeWriter(addr string) {
	m.mu.Lock()
	m.writers[addr] = true
	m.mu.Unlock()
}

func (m *Manager) canWrite(addr string) bool {
	if addr != "" && addr == m.cfg.Council {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writers[addr]
}

// Get returns the verifier record or NotFound.
func (m *Manager) Get(ctx context.Context, addr string) (*model.VerifierRecord, error) {
	v, err := store.Load[model.VerifierRecord](ctx, m.store, model.KindVerifier, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "verifier", addr)
	}
	return v, err
}

// Stake adds amount to caller's bond, joining the pool on first stake.
func (m *Manager) Stake(ctx context.Context, caller string, amount int64) (*model.VerifierRecord, error) {
	if caller == "" {
		return nil, apperr.New(apperr.ZeroAddress, "verifier", "")
	}
	if amount <= 0 {
		return nil, apperr.New(apperr.ZeroAmount, "verifier", caller)
	}
	now := m.Now().UTC()
	v, err := m.Get(ctx, caller)
	if apperr.Is(err, apperr.NotFound) {
		v = &model.VerifierRecord{Address: caller, Reputation: m.cfg.InitialReputation, JoinedAt: now}
	} else if err != nil {
		return nil, err
	}
	stake, ok := model.AddAmount(v.Stake, amount)
	if !ok {
		return nil, apperr.Newf(apperr.OutOfBounds, "verifier", caller, "stake %d plus %d overflows", v.Stake, amount)
	}
	v.Stake = stake
	v.IsActive = v.Stake >= m.cfg.MinStake
	v.UpdatedAt = now
	if err := m.save(ctx, v); err != nil {
		return nil, err
	}
	return v, m.events.Append(ctx, events.VerifierStaked, model.KindVerifier, caller, caller,
		events.Payload{"amount": amount, "stake": v.Stake, "active": v.IsActive})
}

// Unstake withdraws amount from caller's bond. Falling below the minimum
// stake deactivates the verifier.
func (m *Manager) Unstake(ctx context.Context, caller string, amount int64) (*model.VerifierRecord, error) {
	if amount <= 0 {
		return nil, apperr.New(apperr.ZeroAmount, "verifier", caller)
	}
	v, err := m.Get(ctx, caller)
	if err != nil {
		return nil, err
	}
	if amount > v.Stake {
		return nil, apperr.Newf(apperr.InsufficientStake, "verifier", caller, "stake %d, requested %d", v.Stake, amount)
	}
	v.Stake -= amount
	if v.Stake < m.cfg.MinStake || v.Stake == 0 {
		v.IsActive = false
	}
	v.UpdatedAt = m.Now().UTC()
	if err := m.save(ctx, v); err != nil {
		return nil, err
	}
	return v, m.events.Append(ctx, events.VerifierUnstaked, model.KindVerifier, caller, caller,
		events.Payload{"amount": amount, "stake": v.Stake, "active": v.IsActive})
}

// Slash removes up to amount of the verifier's stake and lowers its
// reputation. Council only. Returns the stake actually removed.
func (m *Manager) Slash(ctx context.Context, caller, verifier string, amount int64) (int64, error) {
	if caller == "" || caller != m.cfg.Council {
		return 0, apperr.Newf(apperr.Unauthorized, "verifier", verifier, "only the council may slash")
	}
	if amount <= 0 {
		return 0, apperr.New(apperr.ZeroAmount, "verifier", verifier)
	}
	v, err := m.Get(ctx, verifier)
	if err != nil {
		return 0, err
	}
	slashed := min(amount, v.Stake)
	v.Stake -= slashed
	v.Reputation = max(v.Reputation-m.cfg.SlashReputationPenalty, 0)
	if v.Stake < m.cfg.MinStake || v.Stake == 0 {
		v.IsActive = false
	}
	v.UpdatedAt = m.Now().UTC()
	if err := m.save(ctx, v); err != nil {
		return 0, err
	}
	zap.L().Warn("pool: verifier slashed",
		zap.String("verifier", verifier),
		zap.Int64("amount", slashed),
		zap.Int64("stake", v.Stake),
	)
	return slashed, m.events.Append(ctx, events.VerifierSlashed, model.KindVerifier, verifier, caller,
		events.Payload{"amount": slashed, "stake": v.Stake, "reputation": v.Reputation})
}

// AdjustReputation adds delta to the verifier's reputation, clamped to
// [0, model.MaxReputation].
// Only authorized modules and the council may call it.
func (m *Manager) AdjustReputation(ctx context.Context, caller, verifier string, delta int64) (*model.VerifierRecord, error) {
	if !m.canWrite(caller) {
		return nil, apperr.Newf(apperr.Unauthorized, "verifier", verifier, "caller may not adjust reputation")
	}
	v, err := m.Get(ctx, verifier)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return v, nil
	}
	rep, ok := model.AddAmount(v.Reputation, delta)
	if !ok {
		rep = model.MaxReputation
	}
	v.Reputation = min(max(rep, 0), model.MaxReputation)
	v.UpdatedAt = m.Now().UTC()
	if err := m.save(ctx, v); err != nil {
		return nil, err
	}
	return v, m.events.Append(ctx, events.ReputationAdjusted, model.KindVerifier, verifier, caller,
		events.Payload{"delta": delta, "reputation": v.Reputation})
}

// GetAllVerifiers returns every verifier that ever staked.
func (m *Manager) GetAllVerifiers(ctx context.Context) ([]model.VerifierRecord, error) {
	return store.LoadAll[model.VerifierRecord](ctx, m.store, model.KindVerifier, "")
}

// GetStake returns the verifier's bond, zero if unknown.
func (m *Manager) GetStake(ctx context.Context, addr string) (int64, error) {
	v, err := m.Get(ctx, addr)
	if apperr.Is(err, apperr.NotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v.Stake, nil
}

// GetReputation returns the verifier's reputation, zero if unknown.
func (m *Manager) GetReputation(ctx context.Context, addr string) (int64, error) {
	v, err := m.Get(ctx, addr)
	if apperr.Is(err, apperr.NotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v.Reputation, nil
}

// IsVerifier reports whether addr is an active pool member.
func (m *Manager) IsVerifier(ctx context.Context, addr string) (bool, error) {
	v, err := m.Get(ctx, addr)
	if apperr.Is(err, apperr.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v.IsActive, nil
}

// Eligible returns jury-eligible verifiers not in exclude, sorted by address.
func (m *Manager) Eligible(ctx context.Context, exclude []string) ([]model.VerifierRecord, error) {
	all, err := m.GetAllVerifiers(ctx)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	var out []model.VerifierRecord
	for _, v := range all {
		if v.EligibleForJury() && !skip[v.Address] {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (m *Manager) save(ctx context.Context, v *model.VerifierRecord) error {
	return store.Save(ctx, m.store, model.KindVerifier, v.Address, v)
}

// seeded returns a deterministic generator for seed.
func seeded(seed string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	s := h.Sum64()
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}
