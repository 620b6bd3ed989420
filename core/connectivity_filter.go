package core

import "github.com/signalsfoundry/constellation-comms/model"

// NodeView is the part of a node's state the connectivity filter reads.
type NodeView struct {
	NodeID     string
	Resolved   bool
	IsHome     bool
	Membership bool
	Frequency  model.Frequency
}

// DenyReason explains why the filter rejected a link.
type DenyReason int

const (
	DenyNone DenyReason = iota
	DenyUnresolved
	DenyFrequencyMismatch
	DenyMembership
	// DenyBaseline is set by the host engine when the pair passed the
	// frequency filter but failed range or line of sight.
	DenyBaseline
)

func (r DenyReason) String() string {
	switch r {
	case DenyNone:
		return "none"
	case DenyUnresolved:
		return "unresolved"
	case DenyFrequencyMismatch:
		return "frequency_mismatch"
	case DenyMembership:
		return "membership"
	case DenyBaseline:
		return "baseline"
	default:
		return "unknown"
	}
}

// ConnectivityFilter decides whether two nodes may link based on their
// canonical frequencies and membership flags. It only ever removes links:
// an allow leaves the host engine's own range and occlusion rules in
// charge.
type ConnectivityFilter struct {
	PublicFrequency model.Frequency
}

// NewConnectivityFilter returns a filter using public as the wildcard.
func NewConnectivityFilter(public model.Frequency) ConnectivityFilter {
	return ConnectivityFilter{PublicFrequency: public}
}

// View builds the filter's view of a node. Ground stations always report
// the public frequency and are never members-only.
func (c ConnectivityFilter) View(l *FrequencyList) NodeView {
	if l == nil {
		return NodeView{Frequency: model.NoFrequency}
	}
	if l.IsHome() {
		return NodeView{
			NodeID:    l.NodeID(),
			Resolved:  true,
			IsHome:    true,
			Frequency: c.PublicFrequency,
		}
	}
	return NodeView{
		NodeID:     l.NodeID(),
		Resolved:   true,
		Membership: l.Membership(),
		Frequency:  l.StrongestFrequency(),
	}
}

// Evaluate applies the rules in order and returns the first deny reason.
// The result is the same for (a, b) and (b, a).
func (c ConnectivityFilter) Evaluate(a, b NodeView) (bool, DenyReason) {
	if !a.Resolved || !b.Resolved {
		return false, DenyUnresolved
	}

	pub := c.PublicFrequency
	if a.Frequency != b.Frequency && a.Frequency != pub && b.Frequency != pub {
		return false, DenyFrequencyMismatch
	}
	if a.Membership && a.Frequency != b.Frequency && a.Frequency != pub {
		return false, DenyMembership
	}
	if b.Membership && b.Frequency != a.Frequency && b.Frequency != pub {
		return false, DenyMembership
	}
	return true, DenyNone
}

// CanLink is Evaluate without the reason.
func (c ConnectivityFilter) CanLink(a, b NodeView) bool {
	ok, _ := c.Evaluate(a, b)
	return ok
}
