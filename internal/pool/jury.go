package pool

import (
	"context"
	"errors"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/store"
)

const cursorKey = "pool.round_robin_cursor"

type cursor struct {
	Next int `json:"next"`
}

// SelectJury draws size distinct eligible verifiers, never drawing anyone in
// exclude. Weighted selection is deterministic for a given seed. Too few
// eligible verifiers fails with InsufficientJurors, which the caller may
// retry once more verifiers stake.
func (m *Manager) SelectJury(ctx context.Context, size int, exclude []string, seed string) ([]string, error) {
	if size <= 0 {
		return nil, apperr.Newf(apperr.InvalidInput, "jury", "", "size must be positive")
	}
	eligible, err := m.Eligible(ctx, exclude)
	if err != nil {
		return nil, err
	}
	if len(eligible) < size {
		return nil, apperr.Newf(apperr.InsufficientJurors, "jury", "", "need %d eligible verifiers, have %d", size, len(eligible))
	}
	if m.cfg.Selection == SelectRoundRobin {
		return m.roundRobin(ctx, eligible, size)
	}
	return weighted(eligible, size, seed), nil
}

// weighted draws without replacement with probability proportional to
// reputation (minimum one).
func weighted(eligible []model.VerifierRecord, size int, seed string) []string {
	rng := seeded(seed)
	remaining := make([]model.VerifierRecord, len(eligible))
	copy(remaining, eligible)

	jury := make([]string, 0, size)
	for len(jury) < size {
		var total int64
		for _, v := range remaining {
			total += max(v.Reputation, 1)
		}
		pick := rng.Int64N(total)
		for i, v := range remaining {
			pick -= max(v.Reputation, 1)
			if pick < 0 {
				jury = append(jury, v.Address)
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return jury
}

func (m *Manager) roundRobin(ctx context.Context, eligible []model.VerifierRecord, size int) ([]string, error) {
	c, err := store.Load[cursor](ctx, m.store, model.KindSetting, cursorKey)
	if errors.Is(err, store.ErrNotFound) {
		c = &cursor{}
	} else if err != nil {
		return nil, err
	}
	jury := make([]string, 0, size)
	start := c.Next % len(eligible)
	for i := 0; i < size; i++ {
		jury = append(jury, eligible[(start+i)%len(eligible)].Address)
	}
	c.Next = start + size
	if err := store.Save(ctx, m.store, model.KindSetting, cursorKey, c); err != nil {
		return nil, err
	}
	return jury, nil
}
