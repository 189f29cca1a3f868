// Package ledger is the credit issuance boundary: per-project fungible
// balances plus an append-only journal. Only the configured minter can
// create or destroy credits.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/store"
)

// Ledger holds balances and the entry journal.
type Ledger struct {
	minter string
	store  store.Store
	events *events.Recorder
	Now    func() time.Time
}

// New returns a Ledger whose only minter is minter.
func New(minter string, s store.Store, rec *events.Recorder) *Ledger {
	return &Ledger{minter: minter, store: s, events: rec, Now: time.Now}
}

// Minter returns the address allowed to mint and burn.
func (l *Ledger) Minter() string { return l.minter }

func (l *Ledger) requireMinter(caller, entity, id string) error {
	if caller == "" || caller != l.minter {
		return apperr.Newf(apperr.Unauthorized, entity, id, "only the minter may change supply")
	}
	return nil
}

func (l *Ledger) balance(ctx context.Context, holder, projectID string) (*model.Balance, error) {
	b, err := store.Load[model.Balance](ctx, l.store, model.KindBalance, model.BalanceKey(holder, projectID))
	if errors.Is(err, store.ErrNotFound) {
		return &model.Balance{Holder: holder, ProjectID: projectID}, nil
	}
	return b, err
}

func (l *Ledger) adjust(ctx context.Context, b *model.Balance, delta int64) error {
	amount, ok := model.AddAmount(b.Amount, delta)
	if !ok {
		return apperr.Newf(apperr.OutOfBounds, "project", b.ProjectID, "balance of %s overflows", b.Holder)
	}
	b.Amount = amount
	b.UpdatedAt = l.Now().UTC()
	return store.Save(ctx, l.store, model.KindBalance, model.BalanceKey(b.Holder, b.ProjectID), b)
}

func (l *Ledger) journal(ctx context.Context, e *model.LedgerEntry) error {
	e.ID = uuid.NewString()
	e.CreatedAt = l.Now().UTC()
	return store.Insert(ctx, l.store, model.KindEntry, e.ID, e)
}

// Mint credits amount of projectID's issuance to recipient.
func (l *Ledger) Mint(ctx context.Context, caller, recipient, projectID string, amount int64, evidenceRef string) (*model.LedgerEntry, error) {
	if err := l.requireMinter(caller, "project", projectID); err != nil {
		return nil, err
	}
	if recipient == "" {
		return nil, apperr.New(apperr.ZeroAddress, "project", projectID)
	}
	if !model.ValidID(recipient) {
		return nil, apperr.Newf(apperr.InvalidInput, "project", projectID, "holder %q may not contain '/'", recipient)
	}
	if amount <= 0 {
		return nil, apperr.New(apperr.ZeroAmount, "project", projectID)
	}
	supply, err := l.Supply(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, ok := model.AddAmount(supply, amount); !ok {
		return nil, apperr.Newf(apperr.OutOfBounds, "project", projectID, "supply %d plus %d overflows", supply, amount)
	}
	b, err := l.balance(ctx, recipient, projectID)
	if err != nil {
		return nil, err
	}
	if err := l.adjust(ctx, b, amount); err != nil {
		return nil, err
	}
	e := &model.LedgerEntry{Kind: model.EntryMint, To: recipient, ProjectID: projectID, Amount: amount, EvidenceRef: evidenceRef}
	if err := l.journal(ctx, e); err != nil {
		return nil, err
	}
	if err := l.events.Append(ctx, events.CreditsMinted, model.KindBalance, model.BalanceKey(recipient, projectID), caller,
		events.Payload{"amount": amount, "to": recipient, "project_id": projectID, "evidence_ref": evidenceRef}); err != nil {
		return nil, err
	}
	zap.L().Info("ledger: minted",
		zap.String("project_id", projectID),
		zap.String("to", recipient),
		zap.Int64("amount", amount),
	)
	return e, nil
}

// Burn destroys up to amount of holder's projectID balance and returns what
// was actually burned.
func (l *Ledger) Burn(ctx context.Context, caller, holder, projectID string, amount int64) (int64, error) {
	if err := l.requireMinter(caller, "project", projectID); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, apperr.New(apperr.ZeroAmount, "project", projectID)
	}
	return l.burn(ctx, caller, holder, projectID, amount, "")
}

func (l *Ledger) burn(ctx context.Context, caller, holder, projectID string, amount int64, reason string) (int64, error) {
	b, err := l.balance(ctx, holder, projectID)
	if err != nil {
		return 0, err
	}
	burned := min(amount, b.Amount)
	if burned <= 0 {
		return 0, nil
	}
	if err := l.adjust(ctx, b, -burned); err != nil {
		return 0, err
	}
	e := &model.LedgerEntry{Kind: model.EntryBurn, From: holder, ProjectID: projectID, Amount: burned, EvidenceRef: reason}
	if err := l.journal(ctx, e); err != nil {
		return 0, err
	}
	if err := l.events.Append(ctx, events.CreditsBurned, model.KindBalance, model.BalanceKey(holder, projectID), caller,
		events.Payload{"amount": burned, "requested": amount, "from": holder, "project_id": projectID}); err != nil {
		return 0, err
	}
	return burned, nil
}

// Clawback burns up to amount from holder's balances in projects other than
// excludeProject, oldest holdings first, and returns the total burned.
func (l *Ledger) Clawback(ctx context.Context, caller, holder string, amount int64, excludeProject string) (int64, error) {
	if err := l.requireMinter(caller, "holder", holder); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, apperr.New(apperr.ZeroAmount, "holder", holder)
	}
	holdings, err := l.Holdings(ctx, holder)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, h := range holdings {
		if total >= amount {
			break
		}
		if h.ProjectID == excludeProject {
			continue
		}
		burned, err := l.burn(ctx, caller, holder, h.ProjectID, amount-total, "clawback:"+excludeProject)
		if err != nil {
			return total, err
		}
		total += burned
	}
	if total > 0 {
		zap.L().Warn("ledger: clawback",
			zap.String("holder", holder),
			zap.String("for_project", excludeProject),
			zap.Int64("requested", amount),
			zap.Int64("burned", total),
		)
	}
	return total, nil
}

// Transfer moves amount of projectID credits from caller to to.
func (l *Ledger) Transfer(ctx context.Context, caller, to, projectID string, amount int64) (*model.LedgerEntry, error) {
	if caller == "" || to == "" {
		return nil, apperr.New(apperr.ZeroAddress, "project", projectID)
	}
	if !model.ValidID(to) {
		return nil, apperr.Newf(apperr.InvalidInput, "project", projectID, "holder %q may not contain '/'", to)
	}
	if amount <= 0 {
		return nil, apperr.New(apperr.ZeroAmount, "project", projectID)
	}
	from, err := l.balance(ctx, caller, projectID)
	if err != nil {
		return nil, err
	}
	if from.Amount < amount {
		return nil, apperr.Newf(apperr.InsufficientBalance, "balance", model.BalanceKey(caller, projectID),
			"have %d, need %d", from.Amount, amount)
	}
	if caller == to {
		return nil, apperr.Newf(apperr.InvalidInput, "balance", model.BalanceKey(caller, projectID), "transfer to self")
	}
	if err := l.adjust(ctx, from, -amount); err != nil {
		return nil, err
	}
	dest, err := l.balance(ctx, to, projectID)
	if err != nil {
		return nil, err
	}
	if err := l.adjust(ctx, dest, amount); err != nil {
		return nil, err
	}
	e := &model.LedgerEntry{Kind: model.EntryTransfer, From: caller, To: to, ProjectID: projectID, Amount: amount}
	if err := l.journal(ctx, e); err != nil {
		return nil, err
	}
	if err := l.events.Append(ctx, events.CreditsTransferred, model.KindBalance, model.BalanceKey(caller, projectID), caller,
		events.Payload{"amount": amount, "to": to, "project_id": projectID}); err != nil {
		return nil, err
	}
	return e, nil
}

// BalanceOf returns holder's balance of projectID credits.
func (l *Ledger) BalanceOf(ctx context.Context, holder, projectID string) (int64, error) {
	b, err := l.balance(ctx, holder, projectID)
	if err != nil {
		return 0, err
	}
	return b.Amount, nil
}

// Holdings lists holder's non-zero balances in the order they were opened.
func (l *Ledger) Holdings(ctx context.Context, holder string) ([]model.Balance, error) {
	all, err := store.LoadAll[model.Balance](ctx, l.store, model.KindBalance, holder+"/")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		if b.Holder == holder && b.Amount > 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

// Supply returns the outstanding credits of a project across all holders.
func (l *Ledger) Supply(ctx context.Context, projectID string) (int64, error) {
	all, err := store.LoadAll[model.Balance](ctx, l.store, model.KindBalance, "")
	if err != nil {
		return 0, err
	}
	var total int64
	for _, b := range all {
		if b.ProjectID == projectID {
			total += b.Amount
		}
	}
	return total, nil
}

// Entries returns the journal in append order, optionally for one project.
func (l *Ledger) Entries(ctx context.Context, projectID string) ([]model.LedgerEntry, error) {
	all, err := store.LoadAll[model.LedgerEntry](ctx, l.store, model.KindEntry, "")
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		return all, nil
	}
	out := make([]model.LedgerEntry, 0, len(all))
	for _, e := range all {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Balances returns every non-zero balance sorted by holder then project.
func (l *Ledger) Balances(ctx context.Context) ([]model.Balance, error) {
	all, err := store.LoadAll[model.Balance](ctx, l.store, model.KindBalance, "")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		if b.Amount != 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Holder != out[j].Holder {
			return out[i].Holder < out[j].Holder
		}
		return out[i].ProjectID < out[j].ProjectID
	})
	return out, nil
}
