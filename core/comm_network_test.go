package core

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/constellation-comms/model"
)

type mapResolver map[string]string

func (m mapResolver) ResolveNode(nodeID string) (string, bool) {
	e, ok := m[nodeID]
	return e, ok
}

type decisionCounter struct {
	allowed int
	denied  map[string]int
}

func (d *decisionCounter) LinkDecision(allowed bool, reason string) {
	if allowed {
		d.allowed++
		return
	}
	if d.denied == nil {
		d.denied = make(map[string]int)
	}
	d.denied[reason]++
}

func joinNode(t *testing.T, n *CommNetwork, id string, opts []FrequencyListOption, parts ...AntennaPart) *FrequencyList {
	t.Helper()
	l := NewFrequencyList(id, memoryHardware(t, parts...), opts...)
	if err := l.OnAntennaChange(context.Background()); err != nil {
		t.Fatalf("OnAntennaChange(%s): %v", id, err)
	}
	if err := n.Join(l); err != nil {
		t.Fatalf("Join(%s): %v", id, err)
	}
	return l
}

func TestCommNetworkJoinLeave(t *testing.T) {
	n := NewCommNetwork(0)
	joinNode(t, n, "b", nil)
	joinNode(t, n, "a", nil)

	if err := n.Join(NewFrequencyList("a", nil)); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("duplicate Join error = %v, want ErrNodeExists", err)
	}
	if ids := n.NodeIDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("NodeIDs = %v, want [a b]", ids)
	}
	if err := n.Leave("a"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := n.Leave("a"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("second Leave error = %v, want ErrNodeNotFound", err)
	}
	if _, err := n.List("a"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("List after Leave error = %v, want ErrNodeNotFound", err)
	}
	if n.Len() != 1 {
		t.Fatalf("Len = %d, want 1", n.Len())
	}
}

func TestCommNetworkCanLinkRecordsDecisions(t *testing.T) {
	counter := &decisionCounter{}
	resolver := mapResolver{"a": "va", "b": "vb", "c": "vc", "gs": "ksc"}
	n := NewCommNetwork(0, WithResolver(resolver), WithDecisionRecorder(counter))

	joinNode(t, n, "a", nil, part("a1", 500, 10))
	joinNode(t, n, "b", nil, part("b1", 501, 10))
	joinNode(t, n, "c", []FrequencyListOption{WithMembership(true)}, part("c1", 500, 10))
	joinNode(t, n, "gs", []FrequencyListOption{WithHome(true)})

	if ok, reason := n.CanLink("a", "b"); ok || reason != DenyFrequencyMismatch {
		t.Fatalf("a-b = %v %v, want frequency mismatch", ok, reason)
	}
	if ok, _ := n.CanLink("a", "gs"); !ok {
		t.Fatalf("a should reach the ground station")
	}
	if ok, reason := n.CanLink("c", "gs"); ok || reason != DenyMembership {
		t.Fatalf("c-gs = %v %v, want membership deny", ok, reason)
	}
	if ok, _ := n.CanLink("a", "c"); !ok {
		t.Fatalf("a and c share 500 and should link")
	}

	delete(resolver, "a")
	if ok, reason := n.CanLink("a", "c"); ok || reason != DenyUnresolved {
		t.Fatalf("unresolved a = %v %v, want unresolved deny", ok, reason)
	}
	if ok, reason := n.CanLink("c", "never-joined"); ok || reason != DenyUnresolved {
		t.Fatalf("never-joined = %v %v, want unresolved deny", ok, reason)
	}

	if counter.allowed != 2 {
		t.Fatalf("allowed = %d, want 2", counter.allowed)
	}
	if counter.denied["unresolved"] != 2 || counter.denied["membership"] != 1 || counter.denied["frequency_mismatch"] != 1 {
		t.Fatalf("denied = %v", counter.denied)
	}
}

func TestNodesOnFrequency(t *testing.T) {
	n := NewCommNetwork(0)
	joinNode(t, n, "b", nil, part("b1", 500, 10))
	joinNode(t, n, "a", nil, part("a1", 500, 10))
	joinNode(t, n, "c", nil, part("c1", 700, 10))
	joinNode(t, n, "gs", []FrequencyListOption{WithHome(true)}, part("g1", 500, 10))

	got := n.NodesOnFrequency(500)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("NodesOnFrequency(500) = %v, want [a b]", got)
	}
	if all := n.NodesOnFrequency(model.NoFrequency); len(all) != 4 {
		t.Fatalf("NodesOnFrequency(-1) = %v, want all 4", all)
	}
	if none := n.NodesOnFrequency(123); len(none) != 0 {
		t.Fatalf("NodesOnFrequency(123) = %v, want empty", none)
	}
}
