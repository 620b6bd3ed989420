package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// KnowledgeBase is the host engine's view of the network: node positions
// in ECEF and the links found by the last connectivity pass.
//
// It is concurrency-safe via an internal RWMutex so readers (CLI, metrics)
// can inspect it while the engine runs.
type KnowledgeBase struct {
	mu sync.RWMutex

	links         map[string]*NetworkLink
	nodePositions map[string]Vec3
}

// NewKnowledgeBase creates an empty network knowledge base.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		links:         make(map[string]*NetworkLink),
		nodePositions: make(map[string]Vec3),
	}
}

//
// ---------- Links ----------
//

// DynamicLinkID builds the symmetric link ID for a node pair.
func DynamicLinkID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("dyn-%s-%s", a, b)
}

// UpsertDynamicLink creates or returns the link between two nodes. A-B
// and B-A share the same link.
func (kb *KnowledgeBase) UpsertDynamicLink(a, b string) NetworkLink {
	if b < a {
		a, b = b, a
	}
	id := DynamicLinkID(a, b)

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if existing, ok := kb.links[id]; ok {
		return *existing
	}
	link := &NetworkLink{ID: id, NodeA: a, NodeB: b}
	kb.links[id] = link
	return *link
}

// UpdateNetworkLink overwrites the stored link with the same ID.
func (kb *KnowledgeBase) UpdateNetworkLink(link NetworkLink) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.links[link.ID]; !exists {
		return fmt.Errorf("link %q not found", link.ID)
	}
	kb.links[link.ID] = &link
	return nil
}

// ClearDynamicLinks removes every link with the "dyn-" prefix.
func (kb *KnowledgeBase) ClearDynamicLinks() {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for id := range kb.links {
		if strings.HasPrefix(id, "dyn-") {
			delete(kb.links, id)
		}
	}
}

// GetNetworkLink returns a single link by ID.
func (kb *KnowledgeBase) GetNetworkLink(id string) (NetworkLink, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	l, ok := kb.links[id]
	if !ok {
		return NetworkLink{}, false
	}
	return *l, true
}

// GetAllNetworkLinks returns all links sorted by ID.
func (kb *KnowledgeBase) GetAllNetworkLinks() []NetworkLink {
	return kb.collectLinks(func(*NetworkLink) bool { return true })
}

// GetUpLinks returns the links currently up, sorted by ID.
func (kb *KnowledgeBase) GetUpLinks() []NetworkLink {
	return kb.collectLinks(func(l *NetworkLink) bool { return l.IsUp })
}

// GetNeighbours returns the nodes reachable from nodeID over up links.
func (kb *KnowledgeBase) GetNeighbours(nodeID string) []string {
	if nodeID == "" {
		return nil
	}

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	neigh := make(map[string]struct{})
	for _, link := range kb.links {
		if !link.IsUp {
			continue
		}
		if link.NodeA != nodeID && link.NodeB != nodeID {
			continue
		}
		if other := link.Other(nodeID); other != "" && other != nodeID {
			neigh[other] = struct{}{}
		}
	}

	out := make([]string, 0, len(neigh))
	for id := range neigh {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DeleteNode drops a node's position and every link touching it.
func (kb *KnowledgeBase) DeleteNode(nodeID string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	delete(kb.nodePositions, nodeID)
	for id, link := range kb.links {
		if link.NodeA == nodeID || link.NodeB == nodeID {
			delete(kb.links, id)
		}
	}
}

// Clear removes all links and positions.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.links = make(map[string]*NetworkLink)
	kb.nodePositions = make(map[string]Vec3)
}

func (kb *KnowledgeBase) collectLinks(keep func(*NetworkLink) bool) []NetworkLink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]NetworkLink, 0, len(kb.links))
	for _, l := range kb.links {
		if keep(l) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

//
// ---------- Node positions (ECEF) ----------
//

// SetNodeECEFPosition records a node's position in kilometres.
func (kb *KnowledgeBase) SetNodeECEFPosition(nodeID string, pos Vec3) {
	if nodeID == "" {
		return
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.nodePositions[nodeID] = pos
}

// GetNodeECEFPosition returns a node's position if known.
func (kb *KnowledgeBase) GetNodeECEFPosition(nodeID string) (Vec3, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	pos, ok := kb.nodePositions[nodeID]
	return pos, ok
}
