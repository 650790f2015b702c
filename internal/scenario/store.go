// Package scenario owns the live scenario and arbitrates edits to it.
//
// Editors work on deep copies obtained from Snapshot or Checkout and hand
// whole sections back through Commit. A commit is validated first and then
// swapped in under the write lock, so readers see either the old section or
// the new one and never a mix. Nothing outside a Store aliases its state.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/scenario-composer/internal/logging"
	"github.com/signalsfoundry/scenario-composer/internal/observability"
	"github.com/signalsfoundry/scenario-composer/internal/xmlexport"
	"github.com/signalsfoundry/scenario-composer/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrVersionConflict is returned by CompareAndCommit when the scenario
// changed after the caller's checkout.
var ErrVersionConflict = errors.New("scenario changed since checkout")

// Section identifies one top-level part of the scenario.
type Section int

const (
	SectionParameters Section = iota
	SectionNodes
	SectionConnections
	SectionRegisters
)

var sectionNames = [...]string{
	model.SectionParameters,
	model.SectionNodes,
	model.SectionConnections,
	model.SectionRegisters,
}

func (s Section) String() string {
	if s < SectionParameters || s > SectionRegisters {
		return fmt.Sprintf("Section(%d)", int(s))
	}
	return sectionNames[s]
}

// ParseSection maps a section name onto a Section. "tracers" is accepted as
// an alias for registers.
func ParseSection(name string) (Section, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case model.SectionParameters:
		return SectionParameters, nil
	case model.SectionNodes:
		return SectionNodes, nil
	case model.SectionConnections:
		return SectionConnections, nil
	case model.SectionRegisters, "tracers":
		return SectionRegisters, nil
	}
	return 0, fmt.Errorf("unknown scenario section %q", name)
}

// MetricsRecorder receives entity counts after every change and one
// outcome per commit attempt.
type MetricsRecorder interface {
	SetScenarioCounts(nodes, devices, connections, registers int)
	ObserveCommit(section string, err error)
}

// ExportRecorder is implemented by recorders that also track XML exports.
type ExportRecorder interface {
	ObserveExport(d time.Duration, err error)
}

// CommitEvent describes a successful commit. Sections lists every section
// that was replaced.
type CommitEvent struct {
	Sections []Section
	Version  uint64
}

// Option customises Store construction.
type Option func(*Store)

// WithMetricsRecorder attaches a recorder for entity counts and commit outcomes.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Store holds the canonical scenario.
type Store struct {
	mu      sync.RWMutex
	current model.Scenario
	version uint64
	log     logging.Logger
	metrics MetricsRecorder
	subsMu  sync.Mutex
	subs    map[int]func(CommitEvent)
	nextSub int
}

// NewStore validates initial and takes a private copy of it.
func NewStore(initial model.Scenario, log logging.Logger, opts ...Option) (*Store, error) {
	if log == nil {
		log = logging.Noop()
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		current: initial.Clone(),
		log:     log,
		subs:    make(map[int]func(CommitEvent)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.updateMetricsLocked()
	return s, nil
}

// Snapshot returns a deep copy of the whole scenario.
func (s *Store) Snapshot() model.Scenario {
	sc, _ := s.Checkout()
	return sc
}

// Checkout returns a deep copy of the scenario together with the version
// it was taken at, for use with CompareAndCommit.
func (s *Store) Checkout() (model.Scenario, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone(), s.version
}

// Version reports the number of successful commits so far.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Parameters returns a copy of the parameters section.
func (s *Store) Parameters() model.Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Parameters
}

// Nodes returns a deep copy of the nodes section.
func (s *Store) Nodes() []model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneNodes(s.current.Nodes)
}

// Connections returns a deep copy of the connections section.
func (s *Store) Connections() []model.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneConnections(s.current.Connections)
}

// Registers returns a deep copy of the registers section.
func (s *Store) Registers() []model.Register {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneRegisters(s.current.Registers)
}

// Commit validates value and atomically replaces section with a copy of
// it. value must be model.Parameters, []model.Node, []model.Connection or
// []model.Register to match section. On any error the store is unchanged.
func (s *Store) Commit(ctx context.Context, section Section, value any) error {
	return s.commit(ctx, section, value, nil)
}

// CompareAndCommit behaves like Commit but fails with ErrVersionConflict
// when the store's version is no longer expected.
func (s *Store) CompareAndCommit(ctx context.Context, expected uint64, section Section, value any) error {
	return s.commit(ctx, section, value, &expected)
}

// CommitParameters replaces the parameters section.
func (s *Store) CommitParameters(ctx context.Context, p model.Parameters) error {
	return s.Commit(ctx, SectionParameters, p)
}

// CommitNodes replaces the nodes section.
func (s *Store) CommitNodes(ctx context.Context, nodes []model.Node) error {
	return s.Commit(ctx, SectionNodes, nodes)
}

// CommitConnections replaces the connections section.
func (s *Store) CommitConnections(ctx context.Context, conns []model.Connection) error {
	return s.Commit(ctx, SectionConnections, conns)
}

// CommitRegisters replaces the registers section.
func (s *Store) CommitRegisters(ctx context.Context, regs []model.Register) error {
	return s.Commit(ctx, SectionRegisters, regs)
}

func (s *Store) commit(ctx context.Context, section Section, value any, expected *uint64) (err error) {
	ctx, reqLog := logging.WithRequestLogger(ctx, s.log)
	ctx, span := observability.StartSpan(ctx, "scenario.commit", trace.SpanKindInternal,
		attribute.String("section", section.String()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	apply, err := prepare(section, value)
	if err == nil {
		err = s.swap(expected, apply, section)
	}

	if s.metrics != nil {
		s.metrics.ObserveCommit(section.String(), err)
	}
	if err != nil {
		reqLog.Warn(ctx, "scenario commit rejected",
			logging.String("section", section.String()),
			logging.Err(err),
		)
		return err
	}
	reqLog.Debug(ctx, "scenario commit applied",
		logging.String("section", section.String()),
		logging.Uint64("version", s.Version()),
	)
	return nil
}

// swap installs apply under the write lock and notifies subscribers after
// releasing it.
func (s *Store) swap(expected *uint64, apply func(*model.Scenario), sections ...Section) error {
	s.mu.Lock()
	if expected != nil && *expected != s.version {
		current := s.version
		s.mu.Unlock()
		return fmt.Errorf("%w: checked out at version %d, now %d", ErrVersionConflict, *expected, current)
	}
	apply(&s.current)
	s.version++
	event := CommitEvent{Sections: sections, Version: s.version}
	s.updateMetricsLocked()
	s.mu.Unlock()

	s.notify(event)
	return nil
}

// prepare validates value for section and returns a function installing a
// private copy of it. Validation and copying happen outside the lock.
func prepare(section Section, value any) (func(*model.Scenario), error) {
	switch section {
	case SectionParameters:
		p, ok := value.(model.Parameters)
		if !ok {
			return nil, wrongType(section, value)
		}
		if err := model.ValidateParameters(p); err != nil {
			return nil, err
		}
		return func(sc *model.Scenario) { sc.Parameters = p }, nil

	case SectionNodes:
		nodes, ok := value.([]model.Node)
		if !ok {
			return nil, wrongType(section, value)
		}
		if err := model.ValidateNodes(nodes); err != nil {
			return nil, err
		}
		cp := model.CloneNodes(nodes)
		return func(sc *model.Scenario) { sc.Nodes = cp }, nil

	case SectionConnections:
		conns, ok := value.([]model.Connection)
		if !ok {
			return nil, wrongType(section, value)
		}
		if err := model.ValidateConnections(conns); err != nil {
			return nil, err
		}
		cp := model.CloneConnections(conns)
		return func(sc *model.Scenario) { sc.Connections = cp }, nil

	case SectionRegisters:
		regs, ok := value.([]model.Register)
		if !ok {
			return nil, wrongType(section, value)
		}
		if err := model.ValidateRegisters(regs); err != nil {
			return nil, err
		}
		cp := model.CloneRegisters(regs)
		return func(sc *model.Scenario) { sc.Registers = cp }, nil
	}
	return nil, &model.ValidationError{Reason: fmt.Sprintf("unknown section %d", int(section))}
}

func wrongType(section Section, value any) error {
	return &model.ValidationError{
		Section: section.String(),
		Reason:  fmt.Sprintf("cannot commit %T to section %s", value, section),
	}
}

// Reset validates sc and replaces every section with it in one step.
func (s *Store) Reset(ctx context.Context, sc model.Scenario) (err error) {
	ctx, reqLog := logging.WithRequestLogger(ctx, s.log)
	counts := sc.Counts()
	ctx, span := observability.StartSpan(ctx, "scenario.reset", trace.SpanKindInternal,
		attribute.String("name", sc.Parameters.Name))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	err = sc.Validate()
	if err == nil {
		cp := sc.Clone()
		err = s.swap(nil, func(cur *model.Scenario) { *cur = cp },
			SectionParameters, SectionNodes, SectionConnections, SectionRegisters)
	}
	if s.metrics != nil {
		s.metrics.ObserveCommit("all", err)
	}
	if err != nil {
		reqLog.Warn(ctx, "scenario reset rejected", logging.Err(err))
		return err
	}

	reqLog.Info(ctx, "scenario reset",
		logging.String("name", sc.Parameters.Name),
		logging.Int("nodes", counts.Nodes),
		logging.Int("devices", counts.Devices),
		logging.Int("connections", counts.Connections),
		logging.Int("registers", counts.Registers),
	)
	return nil
}

// XML projects the current scenario to its canonical document.
func (s *Store) XML(ctx context.Context) (string, error) {
	snap := s.Snapshot()
	counts := snap.Counts()
	_, span := observability.StartSpan(ctx, "scenario.export", trace.SpanKindInternal,
		attribute.Int("nodes", counts.Nodes),
		attribute.Int("connections", counts.Connections),
		attribute.Int("registers", counts.Registers),
	)
	defer span.End()

	start := time.Now()
	doc, err := xmlexport.Document(snap)
	if rec, ok := s.metrics.(ExportRecorder); ok {
		rec.ObserveExport(time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("bytes", len(doc)))
	return doc, nil
}

// Subscribe registers fn to run after every successful commit. Callbacks
// run outside the store lock and may read from the store. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(CommitEvent)) (unsubscribe func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(event CommitEvent) {
	s.subsMu.Lock()
	subs := make([]func(CommitEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		if fn != nil {
			fn(event)
		}
	}
}

func (s *Store) updateMetricsLocked() {
	if s == nil || s.metrics == nil {
		return
	}
	c := s.current.Counts()
	s.metrics.SetScenarioCounts(c.Nodes, c.Devices, c.Connections, c.Registers)
}
