package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/constellation-comms/internal/logging"
	"github.com/signalsfoundry/constellation-comms/model"
)

// NodeResolver maps a node ID back to the entity that owns it. The host
// graph engine maintains this index; a node whose entity has gone away
// (destroyed, ejected crew) no longer resolves.
type NodeResolver interface {
	ResolveNode(nodeID string) (entityID string, ok bool)
}

// DecisionRecorder counts filter decisions.
type DecisionRecorder interface {
	LinkDecision(allowed bool, reason string)
}

// CommNetwork owns the FrequencyList of every node in one session and
// answers the host engine's link queries. It replaces any global
// scenario lookup: everything the filter needs is reached through it.
//
// The node map is safe for concurrent use. The lists themselves follow
// the FrequencyList single-writer rule.
type CommNetwork struct {
	mu    sync.RWMutex
	nodes map[string]*FrequencyList

	filter    ConnectivityFilter
	resolver  NodeResolver
	decisions DecisionRecorder
	log       logging.Logger
}

// CommNetworkOption customises a CommNetwork.
type CommNetworkOption func(*CommNetwork)

// WithResolver sets the node-to-entity index. Without one every joined
// node counts as resolved.
func WithResolver(r NodeResolver) CommNetworkOption {
	return func(n *CommNetwork) { n.resolver = r }
}

// WithDecisionRecorder attaches a metrics recorder for filter decisions.
func WithDecisionRecorder(r DecisionRecorder) CommNetworkOption {
	return func(n *CommNetwork) { n.decisions = r }
}

// WithNetworkLogger attaches a structured logger.
func WithNetworkLogger(log logging.Logger) CommNetworkOption {
	return func(n *CommNetwork) {
		if log != nil {
			n.log = log
		}
	}
}

// NewCommNetwork creates an empty network with the given public frequency.
func NewCommNetwork(public model.Frequency, opts ...CommNetworkOption) *CommNetwork {
	n := &CommNetwork{
		nodes:  make(map[string]*FrequencyList),
		filter: NewConnectivityFilter(public),
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// PublicFrequency returns the wildcard frequency.
func (n *CommNetwork) PublicFrequency() model.Frequency { return n.filter.PublicFrequency }

// Filter returns the connectivity filter in use.
func (n *CommNetwork) Filter() ConnectivityFilter { return n.filter }

// Join adds a node's list to the network.
func (n *CommNetwork) Join(list *FrequencyList) error {
	if list == nil || list.NodeID() == "" {
		return fmt.Errorf("%w: nil list or empty node ID", ErrNodeUnresolved)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.nodes[list.NodeID()]; exists {
		return fmt.Errorf("%w: %q", ErrNodeExists, list.NodeID())
	}
	n.nodes[list.NodeID()] = list
	return nil
}

// Leave removes a node and discards its state.
func (n *CommNetwork) Leave(nodeID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.nodes[nodeID]; !exists {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	delete(n.nodes, nodeID)
	return nil
}

// List returns the FrequencyList of a node.
func (n *CommNetwork) List(nodeID string) (*FrequencyList, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	l, ok := n.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	return l, nil
}

// Len returns the number of joined nodes.
func (n *CommNetwork) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.nodes)
}

// NodeIDs returns all joined node IDs in sorted order.
func (n *CommNetwork) NodeIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]string, 0, len(n.nodes))
	for id := range n.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// View resolves a node into the filter's input. A node that never joined,
// or whose entity no longer resolves, yields an unresolved view.
func (n *CommNetwork) View(nodeID string) NodeView {
	n.mu.RLock()
	l, ok := n.nodes[nodeID]
	n.mu.RUnlock()

	if !ok {
		return NodeView{NodeID: nodeID, Frequency: model.NoFrequency}
	}
	if n.resolver != nil {
		if _, ok := n.resolver.ResolveNode(nodeID); !ok {
			return NodeView{NodeID: nodeID, Frequency: model.NoFrequency}
		}
	}
	return n.filter.View(l)
}

// CanLink evaluates the filter for two nodes and records the decision.
func (n *CommNetwork) CanLink(aID, bID string) (bool, DenyReason) {
	ok, reason := n.filter.Evaluate(n.View(aID), n.View(bID))
	if n.decisions != nil {
		n.decisions.LinkDecision(ok, reason.String())
	}
	return ok, reason
}

// NodesOnFrequency lists the non-home nodes whose strongest frequency is f,
// sorted by ID. NoFrequency lists every node.
func (n *CommNetwork) NodesOnFrequency(f model.Frequency) []string {
	n.mu.RLock()
	lists := make([]*FrequencyList, 0, len(n.nodes))
	for _, l := range n.nodes {
		lists = append(lists, l)
	}
	n.mu.RUnlock()

	out := make([]string, 0, len(lists))
	for _, l := range lists {
		if f == model.NoFrequency {
			out = append(out, l.NodeID())
			continue
		}
		if l.IsHome() {
			continue
		}
		if l.StrongestFrequency() == f {
			out = append(out, l.NodeID())
		}
	}
	sort.Strings(out)
	return out
}
