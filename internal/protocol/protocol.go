// Package protocol wires the registries, modules, orchestrator, council and
// ledger together and is the single entry point for top-level operations.
// Each operation runs serialized inside one store transaction; metrics and
// deadline scheduling happen only after commit.
package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/access"
	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/arbitration"
	"github.com/sells-group/dmrv/internal/config"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/ledger"
	"github.com/sells-group/dmrv/internal/methodology"
	"github.com/sells-group/dmrv/internal/metrics"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module"
	"github.com/sells-group/dmrv/internal/module/delegated"
	"github.com/sells-group/dmrv/internal/module/oracle"
	"github.com/sells-group/dmrv/internal/module/reputation"
	"github.com/sells-group/dmrv/internal/orchestrator"
	"github.com/sells-group/dmrv/internal/pool"
	"github.com/sells-group/dmrv/internal/project"
	"github.com/sells-group/dmrv/internal/resilience"
	"github.com/sells-group/dmrv/internal/store"
)

// DeadlineScheduler arranges for a dispute to be resolved at its deadline.
type DeadlineScheduler interface {
	ScheduleResolution(ctx context.Context, disputeID string, deadline time.Time) error
}

// Options carries optional collaborators.
type Options struct {
	Metrics   *metrics.Metrics
	Scheduler DeadlineScheduler
}

// Protocol owns every component and serializes access to them.
type Protocol struct {
	mu        sync.Mutex
	cfg       *config.Config
	store     store.Store
	retry     resilience.RetryConfig
	metrics   *metrics.Metrics
	scheduler DeadlineScheduler

	Events       *events.Recorder
	Roles        *access.Authorizer
	Projects     *project.Registry
	Registries   *methodology.Directory
	Pool         *pool.Manager
	Router       *module.Router
	Reputation   *reputation.Module
	Oracle       *oracle.Module
	Delegated    map[string]*delegated.Module
	Orchestrator *orchestrator.Orchestrator
	Council      *arbitration.Council
	Ledger       *ledger.Ledger
}

// New constructs and wires every component over s.
func New(cfg *config.Config, s store.Store, opts Options) *Protocol {
	rec := events.NewRecorder(s)
	roles := access.New(s, rec)
	projects := project.NewRegistry(s, roles, rec)

	dir := methodology.NewDirectory()
	registry := methodology.NewRegistry(cfg.Addresses.MethodologyRegistry, s, roles, rec)
	dir.Add(registry)

	verifiers := pool.NewManager(pool.Config{
		MinStake:               cfg.Pool.MinStake,
		InitialReputation:      cfg.Pool.InitialReputation,
		SlashReputationPenalty: cfg.Pool.SlashReputationPenalty,
		Selection:              cfg.Pool.Selection,
		Council:                cfg.Addresses.Council,
	}, s, rec)

	router := module.NewRouter()
	led := ledger.New(cfg.Addresses.Orchestrator, s, rec)

	orch := orchestrator.New(orchestrator.Config{
		Address:         cfg.Addresses.Orchestrator,
		Council:         cfg.Addresses.Council,
		DefaultRegistry: cfg.Addresses.MethodologyRegistry,
		ReversalPolicy:  cfg.Ledger.ReversalPolicy,
	}, s, projects, dir, router, led, roles, rec)
	router.RegisterReceiver(orch.Address(), orch)
	registry.SetUsageChecker(orch)

	rep := reputation.New(reputation.Config{
		Address:           cfg.Reputation.Address,
		Assignees:         cfg.Reputation.Assignees,
		QuorumBps:         cfg.Reputation.QuorumBps,
		Tolerance:         cfg.Reputation.Tolerance,
		RewardReputation:  cfg.Reputation.RewardReputation,
		PenaltyReputation: cfg.Reputation.PenaltyReputation,
		Council:           cfg.Addresses.Council,
	}, s, projects, verifiers, router, rec)
	verifiers.AuthorizeWriter(rep.Address())
	router.RegisterModule(rep)

	orc := oracle.New(oracle.Config{
		Address:      cfg.Oracle.Address,
		Operator:     cfg.Oracle.Operator,
		Feeds:        cfg.Oracle.Feeds,
		Quorum:       cfg.Oracle.Quorum,
		MaxStaleness: cfg.Oracle.MaxStaleness(),
		Scorer:       oracle.LinearScorer{UnitsPerMeasure: cfg.Oracle.UnitsPerMeasure, Cap: cfg.Oracle.Cap},
	}, s, projects, router, rec)
	router.RegisterModule(orc)

	delegates := make(map[string]*delegated.Module, len(cfg.Delegated))
	for _, dc := range cfg.Delegated {
		d := delegated.New(delegated.Config{Address: dc.Address, Name: dc.Name, Target: dc.Target}, s, projects, router, rec)
		router.RegisterModule(d)
		delegates[dc.Address] = d
	}

	council := arbitration.New(arbitration.Config{
		Address:         cfg.Addresses.Council,
		JurySize:        cfg.Arbitration.JurySize,
		Quorum:          cfg.Arbitration.Quorum,
		VotingPeriod:    cfg.Arbitration.VotingPeriod(),
		ChallengeWindow: cfg.Arbitration.ChallengeWindow(),
		SlashAmount:     cfg.Arbitration.SlashAmount,
		JurorReward:     cfg.Arbitration.JurorReward,
	}, s, orch, verifiers, router, rec)
	rep.SetEscalator(council)

	p := &Protocol{
		cfg:   cfg,
		store: s,
		retry: resilience.FromSettings(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs,
			cfg.Retry.MaxBackoffMs, cfg.Retry.Multiplier),
		metrics:   opts.Metrics,
		scheduler: opts.Scheduler,

		Events:       rec,
		Roles:        roles,
		Projects:     projects,
		Registries:   dir,
		Pool:         verifiers,
		Router:       router,
		Reputation:   rep,
		Oracle:       orc,
		Delegated:    delegates,
		Orchestrator: orch,
		Council:      council,
		Ledger:       led,
	}
	for _, addr := range cfg.Methodology.Registries {
		if addr != cfg.Addresses.MethodologyRegistry {
			p.AddRegistry(addr)
		}
	}
	return p
}

// Config returns the configuration the protocol was built with.
func (p *Protocol) Config() *config.Config { return p.cfg }

// Store returns the backing store.
func (p *Protocol) Store() store.Store { return p.store }

// SetScheduler installs the deadline scheduler used after commit.
func (p *Protocol) SetScheduler(s DeadlineScheduler) {
	p.mu.Lock()
	p.scheduler = s
	p.mu.Unlock()
}

// SetClock replaces the time source of every component.
func (p *Protocol) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events.Now = now
	p.Projects.Now = now
	p.Pool.Now = now
	p.Reputation.Now = now
	p.Oracle.Now = now
	for _, d := range p.Delegated {
		d.Now = now
	}
	p.Orchestrator.Now = now
	p.Council.Now = now
	p.Ledger.Now = now
	for _, addr := range p.Registries.Addresses() {
		if r, err := p.Registries.Lookup(addr); err == nil {
			r.Now = now
		}
	}
}

// Bootstrap applies the configured role grants and seeds the default
// methodology registry from the catalog file. It is idempotent.
func (p *Protocol) Bootstrap(ctx context.Context) error {
	var catalog *methodology.Catalog
	if path := p.cfg.Methodology.CatalogPath; path != "" {
		c, err := methodology.LoadCatalog(path)
		if err != nil {
			return err
		}
		catalog = c
	}
	grants := make(map[model.Role][]string, len(p.cfg.Roles))
	for role, addrs := range p.cfg.Roles {
		grants[model.Role(role)] = addrs
	}
	return p.exec(ctx, "bootstrap", func(ctx context.Context) error {
		if err := p.Roles.Bootstrap(ctx, grants); err != nil {
			return err
		}
		if catalog == nil {
			return nil
		}
		reg, err := p.Registries.Lookup(p.cfg.Addresses.MethodologyRegistry)
		if err != nil {
			return err
		}
		added, err := reg.Seed(ctx, catalog.Methodologies)
		if err != nil {
			return err
		}
		zap.L().Info("protocol: methodology catalog seeded",
			zap.String("path", p.cfg.Methodology.CatalogPath),
			zap.Int("added", added),
			zap.Int("entries", len(catalog.Methodologies)),
		)
		return nil
	})
}

// exec runs fn as one top-level operation: serialized, inside a single
// transaction, retried on transient store errors.
func (p *Protocol) exec(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	ctx, batch := events.WithBatch(ctx)
	cfg := p.retry
	cfg.OnRetry = resilience.LogRetry("protocol", op)
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		batch.Reset()
		return p.store.RunInTx(ctx, fn)
	})
	p.metrics.ObserveOperation(op, start, failureKind(err))
	if err != nil {
		if _, ok := apperr.As(err); ok {
			zap.L().Debug("protocol: operation rejected", zap.String("op", op), zap.Error(err))
		} else {
			zap.L().Error("protocol: operation failed", zap.String("op", op), zap.Error(err))
		}
		return err
	}

	committed := batch.Events()
	p.metrics.ObserveEvents(committed)
	p.afterCommit(ctx, committed)
	return nil
}

// call is exec for operations that return a value.
func call[T any](ctx context.Context, p *Protocol, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.exec(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func failureKind(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := apperr.As(err); ok {
		return string(e.Kind)
	}
	return "internal"
}

// afterCommit schedules deadline resolution for every dispute opened by the
// committed operation. Scheduling failures are logged; the keeper's sweep
// picks those disputes up later.
func (p *Protocol) afterCommit(ctx context.Context, committed []model.Event) {
	if p.scheduler == nil {
		return
	}
	for _, ev := range committed {
		if ev.Type != events.DisputeRaised {
			continue
		}
		var body struct {
			Deadline time.Time `json:"deadline"`
		}
		if err := json.Unmarshal(ev.Payload, &body); err != nil {
			zap.L().Warn("protocol: undecodable dispute event", zap.Int64("event_id", ev.ID), zap.Error(err))
			continue
		}
		if err := p.scheduler.ScheduleResolution(ctx, ev.EntityID, body.Deadline); err != nil {
			zap.L().Warn("protocol: schedule dispute deadline",
				zap.String("dispute_id", ev.EntityID),
				zap.Error(err),
			)
		}
	}
}
