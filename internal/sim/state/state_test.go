package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/constellation-comms/core"
	"github.com/signalsfoundry/constellation-comms/internal/logging"
	"github.com/signalsfoundry/constellation-comms/internal/store"
	"github.com/signalsfoundry/constellation-comms/kb"
	"github.com/signalsfoundry/constellation-comms/model"
)

type countRecorder struct {
	nodes, constellations int
}

func (r *countRecorder) SetScenarioCounts(nodes, constellations int) {
	r.nodes = nodes
	r.constellations = constellations
}

func newTestState(t *testing.T, opts ...ScenarioStateOption) *ScenarioState {
	t.Helper()
	entities := kb.NewKnowledgeBase()
	network := core.NewCommNetwork(0, core.WithResolver(entities))
	s := NewScenarioState(entities, core.NewKnowledgeBase(), network, logging.Noop(), opts...)
	t.Cleanup(s.Close)
	return s
}

func openStore(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.New(path, logging.Noop())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func antenna(id string, f model.Frequency, power float64) core.AntennaPart {
	return core.AntennaPart{
		HardwareID: model.HardwareID(id),
		Title:      id,
		Power:      power,
		Kind:       model.AntennaFixed,
		Frequency:  f,
		InUse:      true,
	}
}

func vessel(id string, pos model.Motion, parts ...core.AntennaPart) core.ScenarioEntity {
	return core.ScenarioEntity{
		Entity:   model.Entity{ID: id, Name: id, Kind: model.EntityVessel, Coordinates: pos},
		NodeID:   id,
		Antennas: parts,
	}
}

func TestAddEntityJoinsNetwork(t *testing.T) {
	rec := &countRecorder{}
	s := newTestState(t, WithMetricsRecorder(rec))
	ctx := context.Background()

	list, err := s.AddEntity(ctx, vessel("v1", model.Motion{}, antenna("a1", 500, 100), antenna("a2", 0, 50)))
	if err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if got := list.StrongestFrequency(); got != 500 {
		t.Fatalf("StrongestFrequency = %d, want 500", got)
	}
	if entityID, ok := s.Entities().ResolveNode("v1"); !ok || entityID != "v1" {
		t.Fatalf("ResolveNode(v1) = %q, %v", entityID, ok)
	}
	if rec.nodes != 1 || rec.constellations != 1 {
		t.Fatalf("counts = %+v, want 1 node and the public constellation", rec)
	}

	if _, err := s.AddEntity(ctx, vessel("v1", model.Motion{})); !errors.Is(err, ErrEntityExists) {
		t.Fatalf("duplicate AddEntity error = %v, want ErrEntityExists", err)
	}
	if s.Network().Len() != 1 {
		t.Fatalf("failed add left a node behind")
	}

	nodes := s.Nodes()
	if len(nodes) != 1 || nodes[0].EntityID != "v1" || nodes[0].Strongest != 500 || len(nodes[0].Frequencies) != 2 {
		t.Fatalf("Nodes() = %+v", nodes)
	}
}

func TestAddEntityGroundStationIsHome(t *testing.T) {
	s := newTestState(t)
	se := core.ScenarioEntity{
		Entity:     model.Entity{ID: "ksc", Kind: model.EntityGroundStation},
		Membership: true,
	}
	list, err := s.AddEntity(context.Background(), se)
	if err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if !list.IsHome() || list.NodeID() != "ksc" {
		t.Fatalf("ground station list: home=%v id=%q", list.IsHome(), list.NodeID())
	}
	view := s.Network().View("ksc")
	if view.Frequency != 0 || view.Membership {
		t.Fatalf("home view = %+v, want public frequency without membership", view)
	}
}

func TestRemoveEntityLeavesNetwork(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "session.db"))
	s := newTestState(t, WithStore(st))
	ctx := context.Background()

	if _, err := s.AddEntity(ctx, vessel("v1", model.Motion{}, antenna("a1", 0, 10))); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.LinkKB().UpsertDynamicLink("v1", "v2")

	if err := s.RemoveEntity(ctx, "v1"); err != nil {
		t.Fatalf("RemoveEntity: %v", err)
	}
	if _, err := s.List("v1"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("List after remove error = %v, want ErrNodeNotFound", err)
	}
	if _, err := s.Hardware("v1"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("Hardware after remove error = %v, want ErrNodeNotFound", err)
	}
	if len(s.LinkKB().GetAllNetworkLinks()) != 0 {
		t.Fatalf("links of removed node kept")
	}
	if _, err := st.LoadNode("v1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stored record after remove error = %v, want ErrNotFound", err)
	}
	if err := s.RemoveEntity(ctx, "v1"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("second RemoveEntity error = %v, want ErrEntityNotFound", err)
	}
}

func TestRemovingNodeFromKBLeavesNetwork(t *testing.T) {
	s := newTestState(t)
	if _, err := s.AddEntity(context.Background(), vessel("v1", model.Motion{})); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := s.Entities().RemoveNode("v1"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if s.Network().Len() != 0 {
		t.Fatalf("node still joined after KB removal")
	}
}

func TestApplyScenarioCollectsErrors(t *testing.T) {
	s := newTestState(t)
	sc := &core.Scenario{
		Constellations: []model.Constellation{
			{Name: "Relay Net", Frequency: 500, Color: "#ff8800"},
			{Name: "", Frequency: 600},
		},
		Entities: []core.ScenarioEntity{
			vessel("v1", model.Motion{}, antenna("a1", 500, 10)),
			vessel("v1", model.Motion{}),
			vessel("v2", model.Motion{}, antenna("a1", 0, 10)),
		},
	}
	err := s.ApplyScenario(context.Background(), sc)
	if !errors.Is(err, ErrEntityExists) {
		t.Fatalf("ApplyScenario error = %v, want ErrEntityExists among the errors", err)
	}
	if got := s.Network().NodeIDs(); len(got) != 2 {
		t.Fatalf("NodeIDs = %v, want v1 and v2", got)
	}
	if _, ok := s.ConstellationFor(500); !ok {
		t.Fatalf("valid constellation was not applied")
	}

	public := model.Frequency(7)
	if err := s.ApplyScenario(context.Background(), &core.Scenario{PublicFrequency: &public}); !errors.Is(err, ErrPublicMismatch) {
		t.Fatalf("public mismatch error = %v", err)
	}
}

func TestConstellations(t *testing.T) {
	s := newTestState(t, WithMaxNameChars(10), WithDefaultConstellations([]model.Constellation{
		{Name: "Deep", Frequency: 900},
	}))

	list := s.Constellations()
	if len(list) != 2 || list[0].Frequency != 0 || list[1].Name != "Deep" {
		t.Fatalf("default constellations = %+v", list)
	}

	if err := s.UpsertConstellation(model.Constellation{Name: "Relay", Frequency: 500}); err != nil {
		t.Fatalf("UpsertConstellation: %v", err)
	}
	if err := s.UpsertConstellation(model.Constellation{Name: "Relay Two", Frequency: 500}); err != nil {
		t.Fatalf("UpsertConstellation replace: %v", err)
	}
	list = s.Constellations()
	if len(list) != 3 || list[1].Name != "Relay Two" {
		t.Fatalf("constellations after upsert = %+v", list)
	}

	if err := s.UpsertConstellation(model.Constellation{Name: "A very long name", Frequency: 10}); err == nil {
		t.Fatalf("expected name length error")
	}
	if err := s.UpsertConstellation(model.Constellation{Name: "Bad", Frequency: -5}); !errors.Is(err, model.ErrInvalidFrequency) {
		t.Fatalf("invalid frequency error = %v", err)
	}

	if err := s.RemoveConstellation(0); !errors.Is(err, ErrPublicConstellation) {
		t.Fatalf("remove public error = %v", err)
	}
	if err := s.RemoveConstellation(500); err != nil {
		t.Fatalf("RemoveConstellation: %v", err)
	}
	if err := s.RemoveConstellation(500); !errors.Is(err, ErrConstellationNotFound) {
		t.Fatalf("second remove error = %v", err)
	}
}

func TestReassignmentThroughState(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()
	if _, err := s.AddEntity(ctx, vessel("v1", model.Motion{}, antenna("a1", 0, 100), antenna("a2", 0, 200))); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}

	if err := s.RetuneAntenna(ctx, "v1", "a2", 500); err != nil {
		t.Fatalf("RetuneAntenna: %v", err)
	}
	list, _ := s.List("v1")
	if list.StrongestFrequency() != 500 {
		t.Fatalf("strongest after retune = %d, want 500", list.StrongestFrequency())
	}

	if err := s.RetuneAntenna(ctx, "v1", "missing", 1); !errors.Is(err, core.ErrAntennaNotFound) {
		t.Fatalf("retune missing antenna error = %v", err)
	}
	if err := s.RetuneAll(ctx, "v1", 0, 500); err != nil {
		t.Fatalf("RetuneAll: %v", err)
	}
	if got := list.MaxPower(500); got != 200 {
		t.Fatalf("MaxPower(500) = %v, want 200", got)
	}

	if err := s.ToggleAntenna(ctx, "v1", "a2", false); err != nil {
		t.Fatalf("ToggleAntenna: %v", err)
	}
	if got := list.MaxPower(500); got != 100 {
		t.Fatalf("MaxPower(500) after toggle = %v, want 100", got)
	}
	if err := s.ToggleAntenna(ctx, "ghost", "a2", true); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("toggle on unknown node error = %v", err)
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "session.db"))
	ctx := context.Background()
	parts := []core.AntennaPart{antenna("a1", 0, 100), antenna("a2", 0, 200)}

	first := newTestState(t, WithStore(st))
	if _, err := first.AddEntity(ctx, vessel("v1", model.Motion{}, parts...)); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := first.RetuneAntenna(ctx, "v1", "a2", 500); err != nil {
		t.Fatalf("RetuneAntenna: %v", err)
	}
	list, _ := first.List("v1")
	list.SetPolicy(model.LockList)
	list.SetMembership(true)
	if err := first.UpsertConstellation(model.Constellation{Name: "Relay", Frequency: 500}); err != nil {
		t.Fatalf("UpsertConstellation: %v", err)
	}
	if err := first.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A second session over the same scenario starts from the file values.
	second := newTestState(t, WithStore(st))
	if _, err := second.AddEntity(ctx, vessel("v1", model.Motion{}, parts...)); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	restored, _ := second.List("v1")
	if restored.StrongestFrequency() != 500 || restored.Policy() != model.LockList || !restored.Membership() {
		t.Fatalf("restored list: strongest=%d policy=%v membership=%v", restored.StrongestFrequency(), restored.Policy(), restored.Membership())
	}
	hw, err := second.Hardware("v1")
	if err != nil {
		t.Fatalf("Hardware: %v", err)
	}
	antennas, _ := hw.Antennas()
	if antennas[1].Frequency != 500 {
		t.Fatalf("restored antenna frequency = %d, want 500", antennas[1].Frequency)
	}
	if _, ok := second.ConstellationFor(500); !ok {
		t.Fatalf("constellation list not restored")
	}
}

func TestLoadUpgradesLegacyRecord(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "session.db"))
	ctx := context.Background()

	legacy := core.NodeRecord{
		NodeID:          "v1",
		FrequencyKeys:   []model.Frequency{7},
		FrequencyPowers: []float64{50},
		Antennas:        []core.AntennaRecord{{HardwareID: "a1"}},
		Extra:           map[string]string{"radioFrequency": "7"},
	}
	if err := st.SaveNode(legacy); err != nil {
		t.Fatalf("SaveNode: %v", err)
	}
	if err := st.SaveNode(core.NodeRecord{NodeID: "gone"}); err != nil {
		t.Fatalf("SaveNode: %v", err)
	}

	s := newTestState(t, WithStore(st))
	old := antenna("a1", 300, 10)
	old.InUse = false
	if _, err := s.AddEntity(ctx, vessel("v1", model.Motion{}, old)); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	hw, _ := s.Hardware("v1")
	antennas, _ := hw.Antennas()
	if antennas[0].Frequency != 0 || !antennas[0].InUse {
		t.Fatalf("legacy antenna = %+v, want public frequency and in use", antennas[0])
	}
	list, _ := s.List("v1")
	if list.StrongestFrequency() != 7 {
		t.Fatalf("strongest = %d, want 7 from the stored table", list.StrongestFrequency())
	}
	if got := s.Constellations(); len(got) != 1 || got[0].Name != "Public" {
		t.Fatalf("constellations = %+v, want defaults", got)
	}
}

func TestLoadReportsBadRecord(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "session.db"))
	bad := core.NodeRecord{NodeID: "v1", FrequencyKeys: []model.Frequency{1, 2}, FrequencyPowers: []float64{1}}
	if err := st.SaveNode(bad); err != nil {
		t.Fatalf("SaveNode: %v", err)
	}

	s := newTestState(t, WithStore(st))
	ctx := context.Background()
	if _, err := s.AddEntity(ctx, vessel("v1", model.Motion{}, antenna("a1", 500, 10))); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := s.Load(ctx); !errors.Is(err, core.ErrBadRecord) {
		t.Fatalf("Load error = %v, want ErrBadRecord", err)
	}
	list, _ := s.List("v1")
	if list.StrongestFrequency() != 500 {
		t.Fatalf("bad record changed the list: strongest = %d", list.StrongestFrequency())
	}
}

func TestToggleSurvivesSaveAndLoad(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "session.db"))
	ctx := context.Background()
	parts := []core.AntennaPart{antenna("a1", 500, 50), antenna("a2", 600, 10)}

	first := newTestState(t, WithStore(st))
	if _, err := first.AddEntity(ctx, vessel("v1", model.Motion{}, parts...)); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := first.ToggleAntenna(ctx, "v1", "a1", false); err != nil {
		t.Fatalf("ToggleAntenna: %v", err)
	}
	if err := first.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := newTestState(t, WithStore(st))
	if _, err := second.AddEntity(ctx, vessel("v1", model.Motion{}, parts...)); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	list, _ := second.List("v1")
	if got := list.StrongestFrequency(); got != 600 {
		t.Fatalf("strongest after reload = %d, want 600", got)
	}
	if got := list.Frequencies(); len(got) != 1 || got[0] != 600 {
		t.Fatalf("table after reload = %v, want [600]", got)
	}
	hw, _ := second.Hardware("v1")
	antennas, _ := hw.Antennas()
	if antennas[0].InUse {
		t.Fatalf("antenna a1 in use after reload")
	}
}

func TestLoadRejectsRecordWithBadAntenna(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "session.db"))
	bad := model.Frequency(-5)
	rec := core.NodeRecord{
		NodeID:          "v1",
		FrequencyKeys:   []model.Frequency{900},
		FrequencyPowers: []float64{99},
		Policy:          model.LockList,
		Antennas:        []core.AntennaRecord{{HardwareID: "a1", Frequency: &bad}},
	}
	if err := st.SaveNode(rec); err != nil {
		t.Fatalf("SaveNode: %v", err)
	}

	s := newTestState(t, WithStore(st))
	ctx := context.Background()
	if _, err := s.AddEntity(ctx, vessel("v1", model.Motion{}, antenna("a1", 500, 10))); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := s.Load(ctx); !errors.Is(err, core.ErrInvalidFrequency) {
		t.Fatalf("Load error = %v, want ErrInvalidFrequency", err)
	}

	list, _ := s.List("v1")
	if list.StrongestFrequency() != 500 || list.Policy() != model.AutoBuild {
		t.Fatalf("rejected record changed the list: strongest=%d policy=%v", list.StrongestFrequency(), list.Policy())
	}
	if got := list.Frequencies(); len(got) != 1 || got[0] != 500 {
		t.Fatalf("table after rejected record = %v, want [500]", got)
	}
	hw, _ := s.Hardware("v1")
	antennas, _ := hw.Antennas()
	if antennas[0].Frequency != 500 {
		t.Fatalf("rejected record changed antenna frequency to %d", antennas[0].Frequency)
	}
}

func TestAddEntityRejectsDuplicateAntennaIDs(t *testing.T) {
	s := newTestState(t)
	se := vessel("v1", model.Motion{}, antenna("a1", 500, 10), antenna("a1", 500, 20))
	if _, err := s.AddEntity(context.Background(), se); !errors.Is(err, core.ErrDuplicateAntenna) {
		t.Fatalf("AddEntity error = %v, want ErrDuplicateAntenna", err)
	}
	if s.Network().Len() != 0 || len(s.Entities().ListEntities()) != 0 {
		t.Fatalf("failed add left state behind")
	}
}

func TestSaveWithoutStore(t *testing.T) {
	s := newTestState(t)
	if err := s.Save(context.Background()); !errors.Is(err, ErrNoStore) {
		t.Fatalf("Save error = %v, want ErrNoStore", err)
	}
	if err := s.Load(context.Background()); !errors.Is(err, ErrNoStore) {
		t.Fatalf("Load error = %v, want ErrNoStore", err)
	}
}

func TestRunPassBuildsLinks(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()

	members := vessel("c", model.Motion{X: 7200000}, antenna("a1", 500, 10))
	members.Membership = true
	for _, se := range []core.ScenarioEntity{
		vessel("a", model.Motion{X: 7000000}, antenna("a1", 0, 10)),
		vessel("b", model.Motion{X: 7100000}, antenna("a1", 0, 10)),
		members,
	} {
		if _, err := s.AddEntity(ctx, se); err != nil {
			t.Fatalf("AddEntity(%s): %v", se.Entity.ID, err)
		}
	}

	engine := core.NewSimulationEngine(s.LinkKB(), s.Network(), s.Entities())
	s.RunPass(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), engine)

	if got := engine.ConnectivityService.Neighbours("a"); len(got) != 1 || got[0] != "b" {
		t.Fatalf("Neighbours(a) = %v, want [b]", got)
	}
	link, ok := s.LinkKB().GetNetworkLink(core.DynamicLinkID("a", "c"))
	if !ok || link.IsUp || link.Reason != core.DenyMembership {
		t.Fatalf("link a-c = %+v, want down for membership", link)
	}
}

func TestClear(t *testing.T) {
	rec := &countRecorder{}
	s := newTestState(t, WithMetricsRecorder(rec))
	ctx := context.Background()
	if _, err := s.AddEntity(ctx, vessel("v1", model.Motion{})); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := s.UpsertConstellation(model.Constellation{Name: "Relay", Frequency: 500}); err != nil {
		t.Fatalf("UpsertConstellation: %v", err)
	}

	s.Clear(ctx)
	if s.Network().Len() != 0 || len(s.Entities().ListEntities()) != 0 {
		t.Fatalf("Clear left nodes or entities behind")
	}
	if rec.nodes != 0 || rec.constellations != 1 {
		t.Fatalf("counts after Clear = %+v", rec)
	}
}
