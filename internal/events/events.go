// Package events appends audit events in the same transaction as the state
// change they describe.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/store"
)

// Event types.
const (
	ProjectRegistered       = "project.registered"
	ProjectStatusChanged    = "project.status_changed"
	ProjectMetadataChanged  = "project.metadata_changed"
	ProjectOwnerTransferred = "project.owner_transferred"

	MethodologyRegistered = "methodology.registered"
	MethodologyUpdated    = "methodology.updated"
	MethodologyDeprecated = "methodology.deprecated"
	RegistrySwapped       = "methodology.registry_swapped"

	VerifierStaked     = "verifier.staked"
	VerifierUnstaked   = "verifier.unstaked"
	VerifierSlashed    = "verifier.slashed"
	ReputationAdjusted = "verifier.reputation_adjusted"

	TaskStarted      = "task.started"
	TaskAttested     = "task.attested"
	TaskFinalized    = "task.finalized"
	TaskEscalated    = "task.escalated"
	TaskRejected     = "task.rejected"
	TaskForwarded    = "task.forwarded"
	ReadingSubmitted = "oracle.reading_submitted"
	DeviceRegistered = "oracle.device_registered"

	ClaimSubmitted = "claim.submitted"
	ClaimDelegated = "claim.delegated"
	ClaimFulfilled = "claim.fulfilled"
	ClaimDisputed  = "claim.disputed"
	ClaimRestored  = "claim.restored"
	ClaimReversed  = "claim.reversed"

	DisputeRaised   = "dispute.raised"
	DisputeVoted    = "dispute.voted"
	DisputeResolved = "dispute.resolved"

	CreditsMinted      = "credits.minted"
	CreditsBurned      = "credits.burned"
	CreditsTransferred = "credits.transferred"

	RoleGranted = "role.granted"
	RoleRevoked = "role.revoked"
)

// Payload is the free-form body of an event.
type Payload map[string]any

// Recorder appends events through the shared store.
type Recorder struct {
	Store store.Store
	Now   func() time.Time
}

// NewRecorder returns a Recorder writing to s.
func NewRecorder(s store.Store) *Recorder {
	return &Recorder{Store: s, Now: time.Now}
}

// Append writes one event. Inside a transaction the event commits or rolls
// back with the state change. If ctx carries a Batch the event is also
// collected there.
func (r *Recorder) Append(ctx context.Context, evtType, entityKind, entityID, actor string, payload Payload) error {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	ev := model.Event{
		TS:         now().UTC(),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		Actor:      actor,
	}
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrapf(err, "events: marshal %s payload", evtType)
		}
		ev.Payload = data
	}
	id, err := r.Store.AppendEvent(ctx, ev)
	if err != nil {
		return err
	}
	ev.ID = id
	if b := batchFrom(ctx); b != nil {
		b.add(ev)
	}
	return nil
}

// Batch collects the events appended during one top-level operation so they
// can be observed after commit.
type Batch struct {
	mu     sync.Mutex
	events []model.Event
}

func (b *Batch) add(ev model.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

// Events returns the collected events in append order.
func (b *Batch) Events() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Reset drops collected events, used when a transaction is retried.
func (b *Batch) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

type batchKey struct{}

// WithBatch returns a context that collects appended events into a new Batch.
func WithBatch(ctx context.Context) (context.Context, *Batch) {
	b := &Batch{}
	return context.WithValue(ctx, batchKey{}, b), b
}

func batchFrom(ctx context.Context) *Batch {
	b, _ := ctx.Value(batchKey{}).(*Batch)
	return b
}
