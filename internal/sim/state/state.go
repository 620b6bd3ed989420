// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/signalsfoundry/constellation-comms/core"
	"github.com/signalsfoundry/constellation-comms/internal/logging"
	"github.com/signalsfoundry/constellation-comms/kb"
	"github.com/signalsfoundry/constellation-comms/model"
)

// Re-export sentinel errors so callers can depend on state.* instead of
// kb.* and core.* directly if they want to.
var (
	// ErrEntityExists indicates an entity already exists.
	ErrEntityExists = kb.ErrEntityExists
	// ErrEntityNotFound indicates a requested entity was not found.
	ErrEntityNotFound = kb.ErrEntityNotFound
	// ErrNodeNotFound indicates a requested node has not joined the network.
	ErrNodeNotFound = core.ErrNodeNotFound
	// ErrNoStore is returned by Save and Load when no store is attached.
	ErrNoStore = errors.New("no session store attached")
	// ErrPublicConstellation indicates an attempt to remove the public constellation.
	ErrPublicConstellation = errors.New("the public constellation cannot be removed")
	// ErrConstellationNotFound indicates no constellation uses a frequency.
	ErrConstellationNotFound = errors.New("constellation not found")
	// ErrPublicMismatch indicates a scenario expects a different public frequency.
	ErrPublicMismatch = errors.New("scenario public frequency differs from the network")
)

// SessionStore persists node records and the constellation list.
// internal/store.Store implements it.
type SessionStore interface {
	SaveNode(rec core.NodeRecord) error
	LoadNodes() ([]core.NodeRecord, error)
	DeleteNode(nodeID string) error
	SaveConstellations(list []model.Constellation) error
	LoadConstellations() ([]model.Constellation, error)
}

// ScenarioMetricsRecorder receives count updates for the scenario.
type ScenarioMetricsRecorder interface {
	SetScenarioCounts(nodes, constellations int)
}

// ScenarioState is the session-level context: it owns the entity KB, the
// link KB, the comm network with every node's frequency list and hardware,
// and the constellation list.
//
// Every mutator settles pending list refreshes before releasing the write
// lock, so methods holding only the read lock never write list state.
type ScenarioState struct {
	// mu is the coarse scenario-level lock. Take this before touching a
	// frequency list; lists are not safe for concurrent writers.
	mu sync.RWMutex

	entities *kb.KnowledgeBase
	links    *core.KnowledgeBase
	network  *core.CommNetwork

	// hwMu guards hardware. It is separate from mu because KB removal
	// events arrive while a mutator already holds mu.
	hwMu     sync.Mutex
	hardware map[string]*core.MemoryHardware

	constellations []model.Constellation
	defaults       []model.Constellation
	maxNameChars   int

	listOpts []core.FrequencyListOption
	store    SessionStore
	log      logging.Logger
	metrics  ScenarioMetricsRecorder

	unsubscribe func()
}

// ScenarioStateOption customises ScenarioState construction.
type ScenarioStateOption func(*ScenarioState)

// WithStore attaches the session store used by Save, Load and RemoveEntity.
func WithStore(st SessionStore) ScenarioStateOption {
	return func(s *ScenarioState) { s.store = st }
}

// WithMetricsRecorder attaches an optional metrics recorder for counts.
func WithMetricsRecorder(m ScenarioMetricsRecorder) ScenarioStateOption {
	return func(s *ScenarioState) { s.metrics = m }
}

// WithListOptions adds options applied to every frequency list the state
// creates, such as a notifier or an antenna change recorder.
func WithListOptions(opts ...core.FrequencyListOption) ScenarioStateOption {
	return func(s *ScenarioState) { s.listOpts = append(s.listOpts, opts...) }
}

// WithDefaultConstellations sets the list used for new sessions and for
// loaded sessions that saved none.
func WithDefaultConstellations(list []model.Constellation) ScenarioStateOption {
	return func(s *ScenarioState) { s.defaults = append([]model.Constellation(nil), list...) }
}

// WithMaxNameChars bounds constellation names. Zero disables the check.
func WithMaxNameChars(n int) ScenarioStateOption {
	return func(s *ScenarioState) { s.maxNameChars = n }
}

// NewScenarioState wires the knowledge bases and the comm network together.
// Nodes removed from the entity KB leave the network and drop their links.
func NewScenarioState(entities *kb.KnowledgeBase, links *core.KnowledgeBase, network *core.CommNetwork, log logging.Logger, opts ...ScenarioStateOption) *ScenarioState {
	if log == nil {
		log = logging.Noop()
	}
	s := &ScenarioState{
		entities: entities,
		links:    links,
		network:  network,
		hardware: make(map[string]*core.MemoryHardware),
		log:      log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.constellations = s.defaultConstellations()
	s.unsubscribe = entities.Subscribe(s.onKBEvent)
	s.updateMetricsLocked()
	return s
}

// Close detaches the state from the entity KB.
func (s *ScenarioState) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Entities exposes the entity knowledge base.
func (s *ScenarioState) Entities() *kb.KnowledgeBase { return s.entities }

// LinkKB exposes the link knowledge base used by the connectivity service.
func (s *ScenarioState) LinkKB() *core.KnowledgeBase { return s.links }

// Network exposes the comm network.
func (s *ScenarioState) Network() *core.CommNetwork { return s.network }

// WithReadLock executes fn while holding the ScenarioState read lock.
// Callers must not invoke other ScenarioState methods that also take the
// lock from inside fn to avoid self-deadlock.
func (s *ScenarioState) WithReadLock(fn func() error) error {
	if fn == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}

// PassRunner captures the subset of SimulationEngine needed per tick.
type PassRunner interface {
	Step(ctx context.Context, simTime time.Time)
}

// RunPass executes one engine step while holding the read lock, so no
// frequency list changes during the connectivity pass.
func (s *ScenarioState) RunPass(ctx context.Context, simTime time.Time, engine PassRunner) {
	if engine == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine.Step(ctx, simTime)
}

// AddEntity registers an entity and its node, builds the node's hardware
// and frequency list, joins the network and runs the initial antenna
// change. On failure nothing is left behind.
func (s *ScenarioState) AddEntity(ctx context.Context, se core.ScenarioEntity) (*core.FrequencyList, error) {
	if se.NodeID == "" {
		se.NodeID = se.Entity.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.entities.AddEntity(se.Entity); err != nil {
		return nil, err
	}
	if err := s.entities.AddNode(model.CommNode{ID: se.NodeID, Name: se.Entity.Name, EntityID: se.Entity.ID}); err != nil {
		_, _ = s.entities.RemoveEntity(se.Entity.ID)
		return nil, err
	}

	hw, err := core.NewMemoryHardware(se.Antennas...)
	if err != nil {
		_, _ = s.entities.RemoveEntity(se.Entity.ID)
		return nil, err
	}
	opts := append([]core.FrequencyListOption{
		core.WithPolicy(se.Policy),
		core.WithMembership(se.Membership),
		core.WithHome(se.Entity.IsHome()),
		core.WithListLogger(s.log),
	}, s.listOpts...)
	list := core.NewFrequencyList(se.NodeID, hw, opts...)

	if err := s.network.Join(list); err != nil {
		_, _ = s.entities.RemoveEntity(se.Entity.ID)
		return nil, err
	}
	s.hwMu.Lock()
	s.hardware[se.NodeID] = hw
	s.hwMu.Unlock()

	if err := list.OnAntennaChange(ctx); err != nil {
		_, _ = s.entities.RemoveEntity(se.Entity.ID)
		return nil, err
	}

	s.log.Debug(ctx, "entity joined comm network",
		logging.String("entity_id", se.Entity.ID),
		logging.String("node_id", se.NodeID),
		logging.Int("strongest", int(list.StrongestFrequency())),
	)
	s.updateMetricsLocked()
	return list, nil
}

// RemoveEntity deletes an entity and discards the state of its nodes,
// including their stored records.
func (s *ScenarioState) RemoveEntity(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.entities.RemoveEntity(entityID)
	if err != nil {
		return err
	}

	var result *multierror.Error
	if s.store != nil {
		for _, nodeID := range removed {
			if err := s.store.DeleteNode(nodeID); err != nil {
				result = multierror.Append(result, fmt.Errorf("delete record of %q: %w", nodeID, err))
			}
		}
	}
	s.log.Debug(ctx, "entity removed",
		logging.String("entity_id", entityID),
		logging.Int("nodes", len(removed)),
	)
	s.updateMetricsLocked()
	return result.ErrorOrNil()
}

// onKBEvent keeps the network in step with the entity KB. It may run while
// a mutator holds mu, so it must not take it.
func (s *ScenarioState) onKBEvent(ev kb.Event) {
	if ev.Type != kb.EventNodeRemoved {
		return
	}
	if err := s.network.Leave(ev.NodeID); err != nil && !errors.Is(err, core.ErrNodeNotFound) {
		s.log.Warn(context.Background(), "node leave failed",
			logging.String("node_id", ev.NodeID),
			logging.Err(err),
		)
	}
	if s.links != nil {
		s.links.DeleteNode(ev.NodeID)
	}
	s.hwMu.Lock()
	delete(s.hardware, ev.NodeID)
	s.hwMu.Unlock()
}

// ApplyScenario adds the scenario's constellations and entities. Failures
// are collected per item; everything else is still applied.
func (s *ScenarioState) ApplyScenario(ctx context.Context, sc *core.Scenario) error {
	if sc == nil {
		return nil
	}
	if sc.PublicFrequency != nil && *sc.PublicFrequency != s.network.PublicFrequency() {
		return fmt.Errorf("%w: scenario uses %d, network uses %d", ErrPublicMismatch, *sc.PublicFrequency, s.network.PublicFrequency())
	}

	var result *multierror.Error
	for _, c := range sc.Constellations {
		if err := s.UpsertConstellation(c); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, se := range sc.Entities {
		if _, err := s.AddEntity(ctx, se); err != nil {
			result = multierror.Append(result, fmt.Errorf("entity %q: %w", se.Entity.ID, err))
		}
	}
	return result.ErrorOrNil()
}

// List returns a node's frequency list.
func (s *ScenarioState) List(nodeID string) (*core.FrequencyList, error) {
	return s.network.List(nodeID)
}

// Hardware returns a node's in-memory hardware.
func (s *ScenarioState) Hardware(nodeID string) (*core.MemoryHardware, error) {
	s.hwMu.Lock()
	defer s.hwMu.Unlock()
	hw, ok := s.hardware[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	return hw, nil
}

// RetuneAntenna moves one antenna of a node to a new frequency.
func (s *ScenarioState) RetuneAntenna(ctx context.Context, nodeID string, id model.HardwareID, f model.Frequency) error {
	return s.withList(nodeID, func(l *core.FrequencyList) error {
		return l.ReplaceFrequencyForAntenna(ctx, id, f)
	})
}

// RetuneAll moves every antenna of a node on from to the frequency to.
func (s *ScenarioState) RetuneAll(ctx context.Context, nodeID string, from, to model.Frequency) error {
	return s.withList(nodeID, func(l *core.FrequencyList) error {
		return l.ReplaceFrequencyForAll(ctx, from, to)
	})
}

// ToggleAntenna switches one antenna of a node in or out of use.
func (s *ScenarioState) ToggleAntenna(ctx context.Context, nodeID string, id model.HardwareID, inUse bool) error {
	return s.withList(nodeID, func(l *core.FrequencyList) error {
		return l.ToggleAntennaInUse(ctx, id, inUse)
	})
}

// NotifyAntennaChange forwards a hardware event to a node's list.
func (s *ScenarioState) NotifyAntennaChange(ctx context.Context, nodeID string) error {
	return s.withList(nodeID, func(l *core.FrequencyList) error {
		return l.OnAntennaChange(ctx)
	})
}

func (s *ScenarioState) withList(nodeID string, fn func(*core.FrequencyList) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.network.List(nodeID)
	if err != nil {
		return err
	}
	defer l.Settle()
	return fn(l)
}

// NodeSummary is a read-only view of one node for listings.
type NodeSummary struct {
	NodeID      string
	EntityID    string
	Name        string
	Home        bool
	Membership  bool
	Policy      model.ListUpdatePolicy
	Strongest   model.Frequency
	Frequencies []model.Frequency
}

// Nodes summarises every joined node, sorted by node ID.
func (s *ScenarioState) Nodes() []NodeSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.network.NodeIDs()
	out := make([]NodeSummary, 0, len(ids))
	for _, id := range ids {
		l, err := s.network.List(id)
		if err != nil {
			continue
		}
		sum := NodeSummary{
			NodeID:      id,
			Home:        l.IsHome(),
			Membership:  l.Membership(),
			Policy:      l.Policy(),
			Strongest:   l.StrongestFrequency(),
			Frequencies: l.Frequencies(),
		}
		if n, ok := s.entities.GetNode(id); ok {
			sum.EntityID = n.EntityID
			sum.Name = n.Name
		}
		out = append(out, sum)
	}
	return out
}

// Constellations returns the constellation list sorted by frequency.
func (s *ScenarioState) Constellations() []model.Constellation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Constellation(nil), s.constellations...)
}

// ConstellationFor returns the constellation using frequency f.
func (s *ScenarioState) ConstellationFor(f model.Frequency) (model.Constellation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.constellations {
		if c.Frequency == f {
			return c, true
		}
	}
	return model.Constellation{}, false
}

// UpsertConstellation adds a constellation or replaces the one already
// using its frequency.
func (s *ScenarioState) UpsertConstellation(c model.Constellation) error {
	if err := c.Validate(s.maxNameChars); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.constellations {
		if s.constellations[i].Frequency == c.Frequency {
			s.constellations[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		s.constellations = append(s.constellations, c)
		sortConstellations(s.constellations)
	}
	s.updateMetricsLocked()
	return nil
}

// RemoveConstellation drops the constellation using frequency f.
func (s *ScenarioState) RemoveConstellation(f model.Frequency) error {
	if f == s.network.PublicFrequency() {
		return ErrPublicConstellation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.constellations {
		if c.Frequency == f {
			s.constellations = append(s.constellations[:i], s.constellations[i+1:]...)
			s.updateMetricsLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: frequency %d", ErrConstellationNotFound, f)
}

// Save writes every node's record, with its antenna fields, and the
// constellation list to the store. A node that fails does not stop the rest.
func (s *ScenarioState) Save(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}

	// Write lock: l.Save settles pending refreshes.
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for _, id := range s.network.NodeIDs() {
		l, err := s.network.List(id)
		if err != nil {
			continue
		}
		rec := l.Save()
		if hw, err := s.Hardware(id); err == nil {
			rec.Antennas = hw.Snapshot()
		}
		if err := s.store.SaveNode(rec); err != nil {
			result = multierror.Append(result, fmt.Errorf("save node %q: %w", id, err))
		}
	}
	if err := s.store.SaveConstellations(s.constellations); err != nil {
		result = multierror.Append(result, fmt.Errorf("save constellations: %w", err))
	}

	s.log.Info(ctx, "session saved",
		logging.Int("nodes", s.network.Len()),
		logging.Int("constellations", len(s.constellations)),
	)
	return result.ErrorOrNil()
}

// Load restores stored records onto the nodes that have joined, and the
// constellation list. Records for unknown nodes are skipped. A bad record
// is reported and leaves that node as it was.
func (s *ScenarioState) Load(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error

	list, err := s.store.LoadConstellations()
	switch {
	case err != nil:
		result = multierror.Append(result, fmt.Errorf("load constellations: %w", err))
	case len(list) == 0:
		// The current list already starts from the defaults.
		s.log.Info(ctx, "no stored constellations; keeping the scenario list")
	default:
		sortConstellations(list)
		s.constellations = list
	}

	records, err := s.store.LoadNodes()
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("load nodes: %w", err))
	}
	public := s.network.PublicFrequency()
	for _, rec := range records {
		l, err := s.network.List(rec.NodeID)
		if err != nil {
			s.log.Warn(ctx, "stored node is not in the scenario", logging.String("node_id", rec.NodeID))
			continue
		}
		if core.UpgradeRecord(&rec, public) {
			s.log.Debug(ctx, "upgraded stored node record", logging.String("node_id", rec.NodeID))
		}
		// Antenna fields are checked before anything is applied; l.Load
		// itself changes nothing on error.
		if err := core.ValidateAntennaRecords(rec.Antennas); err != nil {
			result = multierror.Append(result, fmt.Errorf("restore antennas of %q: %w", rec.NodeID, err))
			continue
		}
		if err := l.Load(rec); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if hw, err := s.Hardware(rec.NodeID); err == nil {
			if _, err := hw.Restore(rec.Antennas); err != nil {
				result = multierror.Append(result, fmt.Errorf("restore antennas of %q: %w", rec.NodeID, err))
			}
			// Keep the descriptor cache in step with the restored fields.
			if _, err := l.Antennas(true); err != nil {
				result = multierror.Append(result, err)
			}
		}
		l.Settle()
	}

	s.updateMetricsLocked()
	return result.ErrorOrNil()
}

// Clear removes every entity and node and resets the constellation list.
func (s *ScenarioState) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.network.NodeIDs() {
		_ = s.network.Leave(id)
	}
	s.entities.Clear()
	if s.links != nil {
		s.links.Clear()
	}
	s.hwMu.Lock()
	s.hardware = make(map[string]*core.MemoryHardware)
	s.hwMu.Unlock()
	s.constellations = s.defaultConstellations()

	s.log.Info(ctx, "scenario cleared")
	s.updateMetricsLocked()
}

// defaultConstellations returns a sorted copy of the defaults, with a
// public constellation added if none uses the public frequency.
func (s *ScenarioState) defaultConstellations() []model.Constellation {
	out := append([]model.Constellation(nil), s.defaults...)
	public := s.network.PublicFrequency()
	hasPublic := false
	for _, c := range out {
		if c.Frequency == public {
			hasPublic = true
			break
		}
	}
	if !hasPublic {
		out = append(out, model.Constellation{Name: "Public", Frequency: public, Color: "#00ff00"})
	}
	sortConstellations(out)
	return out
}

// updateMetricsLocked pushes counts to the recorder. Caller must hold s.mu.
func (s *ScenarioState) updateMetricsLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetScenarioCounts(s.network.Len(), len(s.constellations))
}

func sortConstellations(list []model.Constellation) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Frequency < list[j].Frequency })
}
