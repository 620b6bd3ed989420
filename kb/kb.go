package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/constellation-comms/model"
)

var (
	ErrEntityExists   = errors.New("entity already exists")
	ErrEntityNotFound = errors.New("entity not found")
	ErrNodeExists     = errors.New("node already exists")
	ErrNodeNotFound   = errors.New("node not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventEntityUpdated EventType = iota
	EventEntityRemoved
	EventNodeRemoved
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type   EventType
	Entity model.Entity
	NodeID string
}

// KnowledgeBase is an in-memory, thread-safe store for entities and their
// comm nodes. It keeps the node to entity index in both directions so the
// connectivity filter can resolve a node without scanning.
type KnowledgeBase struct {
	mu sync.RWMutex

	entities      map[string]*model.Entity
	nodes         map[string]*model.CommNode
	nodesByEntity map[string]map[string]struct{}

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		entities:      make(map[string]*model.Entity),
		nodes:         make(map[string]*model.CommNode),
		nodesByEntity: make(map[string]map[string]struct{}),
		subs:          make(map[int]func(Event)),
	}
}

// AddEntity adds a vessel or ground station.
func (kb *KnowledgeBase) AddEntity(e model.Entity) error {
	if e.ID == "" {
		return fmt.Errorf("entity with empty ID")
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.entities[e.ID]; exists {
		return fmt.Errorf("%w: %q", ErrEntityExists, e.ID)
	}
	kb.entities[e.ID] = &e
	return nil
}

// AddNode adds a comm node owned by an existing entity.
func (kb *KnowledgeBase) AddNode(n model.CommNode) error {
	if n.ID == "" {
		return fmt.Errorf("node with empty ID")
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %q", ErrNodeExists, n.ID)
	}
	if _, ok := kb.entities[n.EntityID]; !ok {
		return fmt.Errorf("%w: %q for node %q", ErrEntityNotFound, n.EntityID, n.ID)
	}
	kb.nodes[n.ID] = &n
	set, ok := kb.nodesByEntity[n.EntityID]
	if !ok {
		set = make(map[string]struct{})
		kb.nodesByEntity[n.EntityID] = set
	}
	set[n.ID] = struct{}{}
	return nil
}

// GetEntity returns a copy of the entity.
func (kb *KnowledgeBase) GetEntity(id string) (model.Entity, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	e, ok := kb.entities[id]
	if !ok {
		return model.Entity{}, false
	}
	return *e, true
}

// GetNode returns a copy of the node.
func (kb *KnowledgeBase) GetNode(id string) (model.CommNode, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	n, ok := kb.nodes[id]
	if !ok {
		return model.CommNode{}, false
	}
	return *n, true
}

// ResolveNode maps a node to its owning entity. It fails when either the
// node or the entity is gone.
func (kb *KnowledgeBase) ResolveNode(nodeID string) (string, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	n, ok := kb.nodes[nodeID]
	if !ok {
		return "", false
	}
	if _, ok := kb.entities[n.EntityID]; !ok {
		return "", false
	}
	return n.EntityID, true
}

// NodesForEntity returns the IDs of the entity's nodes, sorted.
func (kb *KnowledgeBase) NodesForEntity(entityID string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	set := kb.nodesByEntity[entityID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ListEntities returns copies of all entities sorted by ID.
func (kb *KnowledgeBase) ListEntities() []model.Entity {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Entity, 0, len(kb.entities))
	for _, e := range kb.entities {
		res = append(res, *e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// ListNodes returns copies of all nodes sorted by ID.
func (kb *KnowledgeBase) ListNodes() []model.CommNode {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.CommNode, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, *n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// NodeEntities returns, for every node with a live entity, a copy of that
// entity keyed by node ID.
func (kb *KnowledgeBase) NodeEntities() map[string]model.Entity {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make(map[string]model.Entity, len(kb.nodes))
	for id, n := range kb.nodes {
		if e, ok := kb.entities[n.EntityID]; ok {
			out[id] = *e
		}
	}
	return out
}

// UpdateCoordinates sets an entity's position and notifies subscribers.
func (kb *KnowledgeBase) UpdateCoordinates(id string, pos model.Motion) error {
	kb.mu.Lock()
	e, ok := kb.entities[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	e.Coordinates = pos
	event := Event{Type: EventEntityUpdated, Entity: *e}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// RemoveNode deletes a node and its index entry.
func (kb *KnowledgeBase) RemoveNode(id string) error {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	kb.removeNodeLocked(n)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	for _, sub := range subs {
		sub(Event{Type: EventNodeRemoved, NodeID: id})
	}
	return nil
}

// RemoveEntity deletes an entity together with its nodes. It returns the
// removed node IDs.
func (kb *KnowledgeBase) RemoveEntity(id string) ([]string, error) {
	kb.mu.Lock()
	e, ok := kb.entities[id]
	if !ok {
		kb.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	removed := make([]string, 0, len(kb.nodesByEntity[id]))
	for nodeID := range kb.nodesByEntity[id] {
		if n, ok := kb.nodes[nodeID]; ok {
			kb.removeNodeLocked(n)
			removed = append(removed, nodeID)
		}
	}
	delete(kb.entities, id)
	delete(kb.nodesByEntity, id)
	entity := *e
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	sort.Strings(removed)
	for _, sub := range subs {
		for _, nodeID := range removed {
			sub(Event{Type: EventNodeRemoved, NodeID: nodeID})
		}
		sub(Event{Type: EventEntityRemoved, Entity: entity})
	}
	return removed, nil
}

// Clear removes every entity and node. Subscriptions are kept.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.entities = make(map[string]*model.Entity)
	kb.nodes = make(map[string]*model.CommNode)
	kb.nodesByEntity = make(map[string]map[string]struct{})
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// removeNodeLocked drops n from both index directions. Caller holds kb.mu.
func (kb *KnowledgeBase) removeNodeLocked(n *model.CommNode) {
	delete(kb.nodes, n.ID)
	if set, ok := kb.nodesByEntity[n.EntityID]; ok {
		delete(set, n.ID)
		if len(set) == 0 {
			delete(kb.nodesByEntity, n.EntityID)
		}
	}
}

// subscribersLocked returns subscribers in registration order. Caller
// holds kb.mu.
func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}
