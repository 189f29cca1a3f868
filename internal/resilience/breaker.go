package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrOpen is returned by Allow while a key's breaker is open.
var ErrOpen = eris.New("resilience: breaker open")

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens a key.
	Threshold int
	// Cooldown is how long a key stays open before one probe is let through.
	Cooldown time.Duration
}

type breakerState struct {
	failures int
	openedAt time.Time
	open     bool
	probing  bool
}

// Breaker tracks failures per key (one per upstream) and rejects calls to
// keys that keep failing until their cooldown elapses.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu   sync.Mutex
	keys map[string]*breakerState
}

// NewBreaker returns a Breaker. Zero config values fall back to 5 failures
// and a 30s cooldown.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now, keys: make(map[string]*breakerState)}
}

func (b *Breaker) state(key string) *breakerState {
	st, ok := b.keys[key]
	if !ok {
		st = &breakerState{}
		b.keys[key] = st
	}
	return st
}

// Allow returns ErrOpen when key is open and still cooling down. After the
// cooldown a single probe is allowed.
func (b *Breaker) Allow(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(key)
	if !st.open {
		return nil
	}
	if st.probing || b.now().Sub(st.openedAt) < b.cfg.Cooldown {
		return eris.Wrapf(ErrOpen, "key %s", key)
	}
	st.probing = true
	return nil
}

// Record feeds the outcome of a call back into key's state.
func (b *Breaker) Record(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(key)
	if err == nil {
		if st.open {
			zap.L().Info("resilience: breaker closed", zap.String("key", key))
		}
		*st = breakerState{}
		return
	}
	st.failures++
	if st.probing || st.failures >= b.cfg.Threshold {
		if !st.open || st.probing {
			zap.L().Warn("resilience: breaker opened",
				zap.String("key", key),
				zap.Int("failures", st.failures),
				zap.Error(err),
			)
		}
		st.open = true
		st.probing = false
		st.openedAt = b.now()
	}
}

// Open lists the keys currently open.
func (b *Breaker) Open() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k, st := range b.keys {
		if st.open {
			out = append(out, k)
		}
	}
	return out
}
