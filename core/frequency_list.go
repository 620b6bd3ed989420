package core

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/constellation-comms/internal/logging"
	"github.com/signalsfoundry/constellation-comms/model"
)

const tracerName = "github.com/signalsfoundry/constellation-comms/core"

// LockedListNotice is surfaced to the player whenever an antenna change
// hits a node whose list is frozen.
const LockedListNotice = "Note: Lock List mode is in effect."

// Notifier surfaces user-visible notices such as LockedListNotice.
type Notifier interface {
	Notify(ctx context.Context, nodeID, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, nodeID, message string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, nodeID, message string) { f(ctx, nodeID, message) }

// AntennaChangeRecorder counts antenna change events per policy.
type AntennaChangeRecorder interface {
	AntennaChanged(policy string)
}

// FrequencyList is one node's connectivity state: its power table, the
// cached strongest frequency, the update policy and the membership flag.
//
// A FrequencyList is not safe for concurrent writers. Hardware events and
// reassignment calls for the same node must be serialised by the caller.
// StrongestFrequency and Save settle a pending refresh and so count as
// writers while one is pending; call Settle under the writer's lock to
// keep later reads pure.
type FrequencyList struct {
	nodeID string
	hw     HardwareSource

	table     *PowerTable
	strongest model.Frequency
	// stale marks strongest for a rebuild on the next read.
	stale      bool
	policy     model.ListUpdatePolicy
	membership bool
	home       bool

	// antennas is the last descriptor set read from hw.
	antennas []model.AntennaDescriptor

	log     logging.Logger
	notify  Notifier
	metrics AntennaChangeRecorder
}

// FrequencyListOption customises FrequencyList construction.
type FrequencyListOption func(*FrequencyList)

// WithPolicy sets the initial list update policy.
func WithPolicy(p model.ListUpdatePolicy) FrequencyListOption {
	return func(l *FrequencyList) { l.policy = p }
}

// WithMembership sets the initial members-only flag.
func WithMembership(members bool) FrequencyListOption {
	return func(l *FrequencyList) { l.membership = members }
}

// WithHome marks the node as a fixed ground station.
func WithHome(home bool) FrequencyListOption {
	return func(l *FrequencyList) { l.home = home }
}

// WithListLogger attaches a structured logger.
func WithListLogger(log logging.Logger) FrequencyListOption {
	return func(l *FrequencyList) {
		if log != nil {
			l.log = log
		}
	}
}

// WithNotifier replaces the default notifier, which logs notices at warn.
func WithNotifier(n Notifier) FrequencyListOption {
	return func(l *FrequencyList) { l.notify = n }
}

// WithAntennaChangeRecorder attaches a metrics recorder.
func WithAntennaChangeRecorder(r AntennaChangeRecorder) FrequencyListOption {
	return func(l *FrequencyList) { l.metrics = r }
}

// NewFrequencyList creates the state for a node that just joined the
// network. The table stays empty until the first OnAntennaChange.
func NewFrequencyList(nodeID string, hw HardwareSource, opts ...FrequencyListOption) *FrequencyList {
	l := &FrequencyList{
		nodeID:    nodeID,
		hw:        hw,
		table:     NewPowerTable(),
		strongest: model.NoFrequency,
		policy:    model.AutoBuild,
		log:       logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.log = l.log.With(logging.String("node_id", nodeID))
	if l.notify == nil {
		log := l.log
		l.notify = NotifierFunc(func(ctx context.Context, _ string, msg string) {
			log.Warn(ctx, msg)
		})
	}
	return l
}

// NodeID returns the owning node's ID.
func (l *FrequencyList) NodeID() string { return l.nodeID }

// Policy returns the list update policy.
func (l *FrequencyList) Policy() model.ListUpdatePolicy { return l.policy }

// SetPolicy changes the list update policy. The table is left as is.
func (l *FrequencyList) SetPolicy(p model.ListUpdatePolicy) { l.policy = p }

// CanUpdate reports whether antenna changes may alter the table.
func (l *FrequencyList) CanUpdate() bool { return l.policy != model.LockList }

// Membership returns the members-only flag.
func (l *FrequencyList) Membership() bool { return l.membership }

// SetMembership sets the members-only flag.
func (l *FrequencyList) SetMembership(members bool) { l.membership = members }

// IsHome reports whether the node is a ground station.
func (l *FrequencyList) IsHome() bool { return l.home }

// SetHome marks or unmarks the node as a ground station.
func (l *FrequencyList) SetHome(home bool) { l.home = home }

// OnAntennaChange re-reads the hardware and applies the update policy.
// If the hardware cannot be read the state is left untouched.
func (l *FrequencyList) OnAntennaChange(ctx context.Context) error {
	if l.hw == nil {
		return fmt.Errorf("%w: node %q has no hardware source", ErrNodeUnresolved, l.nodeID)
	}
	antennas, err := l.hw.Antennas()
	if err != nil {
		l.log.Error(ctx, "failed to read antennas", logging.Err(err))
		return fmt.Errorf("read antennas of %q: %w", l.nodeID, err)
	}
	l.ApplyAntennas(ctx, antennas)
	return nil
}

// ApplyAntennas stores a freshly read descriptor set and applies the
// update policy to it:
//
//   - AutoBuild rebuilds the table and reselects the strongest frequency.
//   - LockList keeps the table, reselects against it and posts a notice.
//   - UpdateOnly does nothing beyond storing the descriptors.
func (l *FrequencyList) ApplyAntennas(ctx context.Context, antennas []model.AntennaDescriptor) {
	l.antennas = append([]model.AntennaDescriptor(nil), antennas...)

	switch l.policy {
	case model.AutoBuild:
		l.table = Aggregate(l.antennas)
		l.strongest = SelectStrongest(l.table)
		l.stale = false
	case model.LockList:
		l.strongest = SelectStrongest(l.table)
		l.stale = false
		l.notify.Notify(ctx, l.nodeID, LockedListNotice)
	case model.UpdateOnly:
		// TODO: incremental updates once the intended merge rules are settled.
	}

	if l.metrics != nil {
		l.metrics.AntennaChanged(l.policy.String())
	}
	l.log.Debug(ctx, "antenna change applied",
		logging.String("policy", l.policy.String()),
		logging.Int("antennas", len(l.antennas)),
		logging.Int("strongest", int(l.strongest)),
	)
}

// Rebuild re-reads the hardware and rebuilds the table regardless of
// the update policy.
func (l *FrequencyList) Rebuild(ctx context.Context) error {
	if l.hw == nil {
		return fmt.Errorf("%w: node %q has no hardware source", ErrNodeUnresolved, l.nodeID)
	}
	antennas, err := l.hw.Antennas()
	if err != nil {
		return fmt.Errorf("read antennas of %q: %w", l.nodeID, err)
	}
	l.antennas = antennas
	l.table = Aggregate(l.antennas)
	l.strongest = SelectStrongest(l.table)
	l.stale = false
	return nil
}

// StrongestFrequency returns the cached strongest frequency. When the
// cache was reset to NoFrequency it rebuilds the table from the
// last-known antennas first. A locked list only reselects against its
// frozen table.
func (l *FrequencyList) StrongestFrequency() model.Frequency {
	l.Settle()
	return l.strongest
}

// Settle performs a pending on-demand refresh, if any, and reports
// whether it did.
func (l *FrequencyList) Settle() bool {
	if !l.stale {
		return false
	}
	if l.policy != model.LockList {
		l.table = Aggregate(l.antennas)
	}
	l.strongest = SelectStrongest(l.table)
	l.stale = false
	return true
}

// Pending reports whether a refresh is waiting for the next read.
func (l *FrequencyList) Pending() bool { return l.stale }

// Frequencies returns the table's frequencies in table order.
func (l *FrequencyList) Frequencies() []model.Frequency { return l.table.Frequencies() }

// MaxPower returns the aggregate power of f, or 0 if f is not listed.
func (l *FrequencyList) MaxPower(f model.Frequency) float64 {
	p, _ := l.table.Get(f)
	return p
}

// Table returns a copy of the power table.
func (l *FrequencyList) Table() *PowerTable { return l.table.Clone() }

// AddOrUpdate sets the power of f directly, independent of the policy.
// The frequency is not range-checked here; callers validate first.
func (l *FrequencyList) AddOrUpdate(f model.Frequency, power float64) {
	l.table.Set(f, power)
	l.strongest = SelectStrongest(l.table)
	l.stale = l.strongest < 0
}

// Remove drops f from the table.
func (l *FrequencyList) Remove(f model.Frequency) {
	if l.table.Delete(f) {
		l.strongest = SelectStrongest(l.table)
		l.stale = l.strongest < 0
	}
}

// Clear empties the table.
func (l *FrequencyList) Clear() {
	l.table.Clear()
	l.strongest = model.NoFrequency
	l.stale = true
}

// Antennas returns the last-known descriptors, re-reading the hardware
// first when refresh is set.
func (l *FrequencyList) Antennas(refresh bool) ([]model.AntennaDescriptor, error) {
	if refresh {
		if l.hw == nil {
			return nil, fmt.Errorf("%w: node %q has no hardware source", ErrNodeUnresolved, l.nodeID)
		}
		antennas, err := l.hw.Antennas()
		if err != nil {
			return nil, fmt.Errorf("read antennas of %q: %w", l.nodeID, err)
		}
		l.antennas = antennas
	}
	return append([]model.AntennaDescriptor(nil), l.antennas...), nil
}

// ReplaceFrequencyForAntenna retunes a single antenna and then processes
// the change like any other antenna event.
func (l *FrequencyList) ReplaceFrequencyForAntenna(ctx context.Context, id model.HardwareID, newFreq model.Frequency) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "FrequencyList.ReplaceFrequencyForAntenna")
	span.SetAttributes(
		attribute.String("node_id", l.nodeID),
		attribute.String("hardware_id", string(id)),
		attribute.Int("frequency", int(newFreq)),
	)
	defer func() { endSpan(span, err) }()

	if !newFreq.Valid() {
		err = fmt.Errorf("%w: the new frequency %d is out of the range [%d,%d]", ErrInvalidFrequency, newFreq, model.MinFrequency, model.MaxFrequency)
		l.log.Error(ctx, "failed to retune antenna", logging.String("hardware_id", string(id)), logging.Int("frequency", int(newFreq)), logging.Err(err))
		return err
	}
	if l.hw == nil {
		return fmt.Errorf("%w: node %q has no hardware source", ErrNodeUnresolved, l.nodeID)
	}
	if err = l.hw.SetFrequency(id, newFreq); err != nil {
		l.log.Error(ctx, "failed to retune antenna", logging.String("hardware_id", string(id)), logging.Int("frequency", int(newFreq)), logging.Err(err))
		return err
	}
	if err = l.OnAntennaChange(ctx); err != nil {
		return err
	}

	l.log.Debug(ctx, "antenna retuned", logging.String("hardware_id", string(id)), logging.Int("frequency", int(newFreq)))
	return nil
}

// ReplaceFrequencyForAll moves every antenna on oldFreq to newFreq. No
// antenna matching oldFreq is not an error.
func (l *FrequencyList) ReplaceFrequencyForAll(ctx context.Context, oldFreq, newFreq model.Frequency) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "FrequencyList.ReplaceFrequencyForAll")
	span.SetAttributes(
		attribute.String("node_id", l.nodeID),
		attribute.Int("old_frequency", int(oldFreq)),
		attribute.Int("frequency", int(newFreq)),
	)
	defer func() { endSpan(span, err) }()

	if !newFreq.Valid() {
		err = fmt.Errorf("%w: the new frequency %d is out of the range [%d,%d]", ErrInvalidFrequency, newFreq, model.MinFrequency, model.MaxFrequency)
		l.log.Error(ctx, "failed to retune antennas", logging.Int("old_frequency", int(oldFreq)), logging.Int("frequency", int(newFreq)), logging.Err(err))
		return err
	}
	if l.hw == nil {
		return fmt.Errorf("%w: node %q has no hardware source", ErrNodeUnresolved, l.nodeID)
	}
	antennas, err := l.hw.Antennas()
	if err != nil {
		return fmt.Errorf("read antennas of %q: %w", l.nodeID, err)
	}

	retuned := 0
	for _, a := range antennas {
		if a.Frequency != oldFreq {
			continue
		}
		if err = l.hw.SetFrequency(a.HardwareID, newFreq); err != nil {
			l.log.Error(ctx, "failed to retune antenna", logging.String("hardware_id", string(a.HardwareID)), logging.Err(err))
			return err
		}
		retuned++
	}
	if err = l.OnAntennaChange(ctx); err != nil {
		return err
	}

	l.log.Debug(ctx, "antennas retuned",
		logging.Int("old_frequency", int(oldFreq)),
		logging.Int("frequency", int(newFreq)),
		logging.Int("count", retuned),
	)
	return nil
}

// ToggleAntennaInUse selects or deselects an antenna. It only marks the
// strongest frequency for an on-demand refresh instead of rebuilding.
func (l *FrequencyList) ToggleAntennaInUse(ctx context.Context, id model.HardwareID, inUse bool) error {
	idx := -1
	for i := range l.antennas {
		if l.antennas[i].HardwareID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		err := fmt.Errorf("%w: cannot find the antenna %q to set in use=%v", ErrAntennaNotFound, id, inUse)
		l.log.Error(ctx, "failed to toggle antenna", logging.String("hardware_id", string(id)), logging.Err(err))
		return err
	}
	if l.hw != nil {
		if err := l.hw.SetInUse(id, inUse); err != nil {
			l.log.Error(ctx, "failed to toggle antenna", logging.String("hardware_id", string(id)), logging.Err(err))
			return err
		}
	}

	l.antennas[idx].InUse = inUse
	l.strongest = model.NoFrequency
	l.stale = true
	return nil
}

// Save returns the persisted form of the list, settling a pending refresh
// first so the stored table matches the antennas. Antenna fields are owned
// by the hardware collaborator and are not included.
func (l *FrequencyList) Save() NodeRecord {
	l.Settle()
	rec := NodeRecord{
		NodeID:          l.nodeID,
		FrequencyKeys:   make([]model.Frequency, 0, l.table.Len()),
		FrequencyPowers: make([]float64, 0, l.table.Len()),
		Policy:          l.policy,
		Membership:      l.membership,
	}
	l.table.Range(func(f model.Frequency, p float64) bool {
		rec.FrequencyKeys = append(rec.FrequencyKeys, f)
		rec.FrequencyPowers = append(rec.FrequencyPowers, p)
		return true
	})
	return rec
}

// Load restores the table, policy and membership flag from rec. On error
// the list is unchanged.
func (l *FrequencyList) Load(rec NodeRecord) error {
	if len(rec.FrequencyKeys) != len(rec.FrequencyPowers) {
		return fmt.Errorf("%w: node %q has %d frequency keys but %d powers", ErrBadRecord, rec.NodeID, len(rec.FrequencyKeys), len(rec.FrequencyPowers))
	}
	table := NewPowerTable()
	for i, f := range rec.FrequencyKeys {
		if !f.Valid() {
			return fmt.Errorf("%w: node %q lists frequency %d", ErrInvalidFrequency, rec.NodeID, f)
		}
		table.Set(f, rec.FrequencyPowers[i])
	}
	switch rec.Policy {
	case model.AutoBuild, model.LockList, model.UpdateOnly:
	default:
		return fmt.Errorf("%w: node %q has unknown policy %d", ErrBadRecord, rec.NodeID, int(rec.Policy))
	}

	l.table = table
	l.policy = rec.Policy
	l.membership = rec.Membership
	l.strongest = SelectStrongest(l.table)
	l.stale = l.strongest < 0
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
