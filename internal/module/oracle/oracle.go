// Package oracle implements the oracle-aggregated verifier module. Feeds
// push device readings; a task aggregates the fresh readings for its device
// into a median and scores it.
package oracle

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module"
	"github.com/sells-group/dmrv/internal/store"
)

// Name is the module name reported by Name.
const Name = "oracle-aggregated"

// EvidencePrefix starts every evidence URI this module accepts.
const EvidencePrefix = "device:"

// Config tunes the module.
type Config struct {
	Address string
	// Operator registers devices.
	Operator string
	// Feeds maps feed name to the address allowed to push its readings.
	Feeds        map[string]string
	Quorum       int
	MaxStaleness time.Duration
	Scorer       Scorer
}

// Device is a registered measurement device.
type Device struct {
	ID           string    `json:"id"`
	Operator     string    `json:"operator"`
	Unit         string    `json:"unit"`
	Site         Site      `json:"site"`
	SiteEWKB     []byte    `json:"site_ewkb"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Reading is the latest value a feed reported for a device.
type Reading struct {
	DeviceID   string    `json:"device_id"`
	Feed       string    `json:"feed"`
	Value      float64   `json:"value"`
	Lon        float64   `json:"lon"`
	Lat        float64   `json:"lat"`
	ObservedAt time.Time `json:"observed_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// TaskStatus is the state of an oracle task.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskFinalized TaskStatus = "finalized"
)

// Task is an oracle verification task.
type Task struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	ClaimID   string     `json:"claim_id"`
	DeviceID  string     `json:"device_id"`
	ReportTo  string     `json:"report_to"`
	Status    TaskStatus `json:"status"`
	Median    float64    `json:"median"`
	Outcome   int64      `json:"outcome"`
	// Sources are the feed addresses whose readings produced the outcome.
	Sources   []string  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Module is the oracle-aggregated verifier module.
type Module struct {
	cfg      Config
	store    store.Store
	projects module.ProjectChecker
	router   *module.Router
	events   *events.Recorder
	feeds    map[string]string // address -> feed name
	Now      func() time.Time
}

var _ module.Module = (*Module)(nil)

// New returns the module.
func New(cfg Config, s store.Store, projects module.ProjectChecker, router *module.Router, rec *events.Recorder) *Module {
	if cfg.Quorum <= 0 {
		cfg.Quorum = 1
	}
	if cfg.MaxStaleness <= 0 {
		cfg.MaxStaleness = time.Hour
	}
	if cfg.Scorer == nil {
		cfg.Scorer = LinearScorer{UnitsPerMeasure: 1}
	}
	feeds := make(map[string]string, len(cfg.Feeds))
	for name, addr := range cfg.Feeds {
		feeds[addr] = name
	}
	return &Module{
		cfg:      cfg,
		store:    s,
		projects: projects,
		router:   router,
		events:   rec,
		feeds:    feeds,
		Now:      time.Now,
	}
}

func (m *Module) Address() string { return m.cfg.Address }
func (m *Module) Name() string    { return Name }

// RegisterDevice records a device and its site. Operator only.
func (m *Module) RegisterDevice(ctx context.Context, caller, id, unit string, site Site) (*Device, error) {
	if caller != m.cfg.Operator {
		return nil, apperr.Newf(apperr.Unauthorized, "device", id, "only the oracle operator may register devices")
	}
	if !model.ValidID(id) {
		return nil, apperr.Newf(apperr.InvalidInput, "device", id, "invalid device id")
	}
	if err := site.validate(id); err != nil {
		return nil, err
	}
	data, err := site.encode()
	if err != nil {
		return nil, err
	}
	d := &Device{
		ID:           id,
		Operator:     caller,
		Unit:         unit,
		Site:         site,
		SiteEWKB:     data,
		RegisteredAt: m.Now().UTC(),
	}
	err = store.Insert(ctx, m.store, model.KindDevice, id, d)
	if errors.Is(err, store.ErrConflict) {
		return nil, apperr.New(apperr.DuplicateID, "device", id)
	}
	if err != nil {
		return nil, err
	}
	if err := m.events.Append(ctx, events.DeviceRegistered, model.KindDevice, id, caller,
		events.Payload{"unit": unit, "site": site}); err != nil {
		return nil, err
	}
	return d, nil
}

// Device returns a registered device or NotFound.
func (m *Module) Device(ctx context.Context, id string) (*Device, error) {
	d, err := store.Load[Device](ctx, m.store, model.KindDevice, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "device", id)
	}
	return d, err
}

// FeedName returns the feed an address pushes for.
func (m *Module) FeedName(addr string) (string, bool) {
	name, ok := m.feeds[addr]
	return name, ok
}

// SubmitReading stores r as the latest reading of the caller's feed for
// r.DeviceID.
func (m *Module) SubmitReading(ctx context.Context, caller string, r Reading) (*Reading, error) {
	feed, ok := m.feeds[caller]
	if !ok {
		return nil, apperr.Newf(apperr.Unauthorized, "device", r.DeviceID, "%s is not a configured feed", caller)
	}
	d, err := m.Device(ctx, r.DeviceID)
	if err != nil {
		return nil, err
	}
	in, err := contains(d.SiteEWKB, r.Lon, r.Lat)
	if err != nil {
		return nil, err
	}
	if !in {
		return nil, apperr.Newf(apperr.OutOfBounds, "device", d.ID, "reading at (%g, %g) outside site", r.Lon, r.Lat)
	}
	now := m.Now().UTC()
	if r.ObservedAt.IsZero() {
		r.ObservedAt = now
	}
	if r.ObservedAt.After(now) {
		return nil, apperr.Newf(apperr.InvalidInput, "device", d.ID, "reading observed in the future")
	}
	r.Feed = feed
	r.ReceivedAt = now
	if err := store.Save(ctx, m.store, model.KindReading, readingID(d.ID, feed), &r); err != nil {
		return nil, err
	}
	if err := m.events.Append(ctx, events.ReadingSubmitted, model.KindDevice, d.ID, caller,
		events.Payload{"feed": feed, "value": r.Value, "observed_at": r.ObservedAt}); err != nil {
		return nil, err
	}
	return &r, nil
}

func readingID(deviceID, feed string) string {
	return deviceID + "/" + feed
}

// Readings returns the latest reading of every feed for a device.
func (m *Module) Readings(ctx context.Context, deviceID string) ([]Reading, error) {
	return store.LoadAll[Reading](ctx, m.store, model.KindReading, deviceID+"/")
}

// StartVerificationTask opens a task for the device named by evidenceURI.
func (m *Module) StartVerificationTask(ctx context.Context, caller, projectID, claimID, evidenceURI string) (string, error) {
	if err := module.RequireActive(ctx, m.projects, projectID); err != nil {
		return "", err
	}
	if err := m.router.RequireReceiver(caller); err != nil {
		return "", err
	}
	deviceID, ok := strings.CutPrefix(evidenceURI, EvidencePrefix)
	if !ok || deviceID == "" {
		return "", apperr.Newf(apperr.MalformedReference, "claim", claimID, "evidence must be %s<device-id>", EvidencePrefix)
	}
	if _, err := m.Device(ctx, deviceID); err != nil {
		return "", err
	}

	t := &Task{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		ClaimID:   claimID,
		DeviceID:  deviceID,
		ReportTo:  caller,
		Status:    TaskOpen,
		CreatedAt: m.Now().UTC(),
	}
	if err := store.Insert(ctx, m.store, model.KindOracleTask, t.ID, t); err != nil {
		return "", err
	}
	if err := m.events.Append(ctx, events.TaskStarted, model.KindOracleTask, t.ID, caller,
		events.Payload{"project_id": projectID, "claim_id": claimID, "device_id": deviceID}); err != nil {
		return "", err
	}
	return t.ID, nil
}

// Get returns the task or NotFound.
func (m *Module) Get(ctx context.Context, taskID string) (*Task, error) {
	t, err := store.Load[Task](ctx, m.store, model.KindOracleTask, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "task", taskID)
	}
	return t, err
}

// Aggregate settles a task from the fresh readings of its device. The
// operator or any configured feed may trigger it.
func (m *Module) Aggregate(ctx context.Context, caller, taskID string) (*Task, error) {
	if _, isFeed := m.feeds[caller]; !isFeed && caller != m.cfg.Operator {
		return nil, apperr.Newf(apperr.Unauthorized, "task", taskID, "only the operator or a feed may aggregate")
	}
	t, err := m.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != TaskOpen {
		return nil, apperr.Newf(apperr.TaskClosed, "task", taskID, "status %s", t.Status)
	}

	readings, err := m.Readings(ctx, t.DeviceID)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, apperr.Newf(apperr.QuorumNotMet, "task", taskID, "no readings for device %s", t.DeviceID)
	}
	now := m.Now().UTC()
	var fresh []Reading
	for _, r := range readings {
		if now.Sub(r.ObservedAt) <= m.cfg.MaxStaleness {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return nil, apperr.Newf(apperr.StaleData, "task", taskID, "all %d readings older than %s", len(readings), m.cfg.MaxStaleness)
	}
	if len(fresh) < m.cfg.Quorum {
		return nil, apperr.Newf(apperr.QuorumNotMet, "task", taskID, "%d fresh readings, need %d", len(fresh), m.cfg.Quorum)
	}

	values := make([]float64, 0, len(fresh))
	sources := make([]string, 0, len(fresh))
	for _, r := range fresh {
		values = append(values, r.Value)
		sources = append(sources, m.cfg.Feeds[r.Feed])
	}
	sort.Strings(sources)
	t.Median = median(values)
	t.Outcome = m.cfg.Scorer.Score(t.Median)
	t.Sources = sources
	t.Status = TaskFinalized
	if err := store.Save(ctx, m.store, model.KindOracleTask, t.ID, t); err != nil {
		return nil, err
	}
	if err := m.events.Append(ctx, events.TaskFinalized, model.KindOracleTask, t.ID, caller,
		events.Payload{"median": t.Median, "outcome": t.Outcome, "readings": len(fresh)}); err != nil {
		return nil, err
	}
	zap.L().Info("oracle: task aggregated",
		zap.String("task_id", t.ID),
		zap.Float64("median", t.Median),
		zap.Int64("outcome", t.Outcome),
		zap.Int("readings", len(fresh)),
	)

	err = m.router.Deliver(ctx, t.ReportTo, m.cfg.Address, t.ProjectID, t.ClaimID, model.VerificationResult{
		QuantitativeOutcome: t.Outcome,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Implicated returns the operator followed by the feeds whose readings
// settled the task.
func (m *Module) Implicated(ctx context.Context, taskID string) ([]string, error) {
	t, err := m.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return append([]string{m.cfg.Operator}, t.Sources...), nil
}
