package core

import (
	"context"
	"time"

	"github.com/signalsfoundry/constellation-comms/model"
)

// EntitySource lists the entities whose positions drive the baseline rule,
// keyed by the comm node each one owns, and accepts updated positions.
type EntitySource interface {
	NodeEntities() map[string]model.Entity
	UpdateCoordinates(entityID string, pos model.Motion) error
}

// SimulationEngine moves entities and then runs a connectivity pass.
type SimulationEngine struct {
	KB                  *KnowledgeBase
	ConnectivityService *ConnectivityService
	Entities            EntitySource

	motion        map[string]MotionModel
	tickListeners []func(int)
}

// NewSimulationEngine builds an engine over a KB and comm network.
func NewSimulationEngine(kb *KnowledgeBase, network *CommNetwork, entities EntitySource) *SimulationEngine {
	return &SimulationEngine{
		KB:                  kb,
		ConnectivityService: NewConnectivityService(kb, network),
		Entities:            entities,
		motion:              make(map[string]MotionModel),
	}
}

// RegisterTickListener is called after each tick with its index.
func (se *SimulationEngine) RegisterTickListener(fn func(int)) {
	se.tickListeners = append(se.tickListeners, fn)
}

// Step updates positions for simTime and recomputes connectivity.
func (se *SimulationEngine) Step(ctx context.Context, simTime time.Time) {
	if se.Entities != nil {
		for nodeID, e := range se.Entities.NodeEntities() {
			m, ok := se.motion[e.ID]
			if !ok {
				m = NewMotionModel(&e)
				se.motion[e.ID] = m
			}
			m.UpdatePosition(simTime, &e)
			if _, static := m.(StaticMotionModel); !static {
				// The entity may have been removed since the listing.
				_ = se.Entities.UpdateCoordinates(e.ID, e.Coordinates)
			}
			se.KB.SetNodeECEFPosition(nodeID, VecFromMotion(e.Coordinates))
		}
	}
	se.ConnectivityService.UpdateConnectivity(ctx)
}

// Run steps ticks times, advancing simTime by step each tick.
func (se *SimulationEngine) Run(ctx context.Context, start time.Time, step time.Duration, ticks int) {
	for tick := 0; tick < ticks; tick++ {
		if ctx.Err() != nil {
			return
		}
		se.Step(ctx, start.Add(time.Duration(tick)*step))
		for _, fn := range se.tickListeners {
			fn(tick)
		}
	}
}

// Forget drops cached motion models for an entity that left.
func (se *SimulationEngine) Forget(entityID string) {
	delete(se.motion, entityID)
}
