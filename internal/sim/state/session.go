package state

import (
	"context"
	"fmt"
	"os"

	"github.com/signalsfoundry/constellation-comms/core"
	"github.com/signalsfoundry/constellation-comms/internal/config"
	"github.com/signalsfoundry/constellation-comms/internal/logging"
	"github.com/signalsfoundry/constellation-comms/internal/observability"
	"github.com/signalsfoundry/constellation-comms/internal/store"
	"github.com/signalsfoundry/constellation-comms/kb"
)

// SessionOptions selects the files a session is built from.
type SessionOptions struct {
	// Config defaults to config.Default().
	Config *config.Config
	// ScenarioPath is the YAML scenario. Empty starts an empty scenario.
	ScenarioPath string
	// StorePath overrides Config.Store.Path. "-" runs without a store.
	StorePath string
	// Collector receives metrics. Nil disables them.
	Collector *observability.GateCollector
	Log       logging.Logger
}

// Session bundles a ScenarioState with the collaborators it was built
// from: the session store and the host graph engine.
type Session struct {
	*ScenarioState

	Config *config.Config
	Engine *core.SimulationEngine
	Store  *store.Store

	unsubscribe func()
}

// OpenSession loads the scenario, opens the store and wires the network,
// the state and the engine together. Problems confined to single scenario
// entities are logged and skipped.
func OpenSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	log := opts.Log
	if log == nil {
		log = logging.Noop()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	var scenario *core.Scenario
	if opts.ScenarioPath != "" {
		f, err := os.Open(opts.ScenarioPath)
		if err != nil {
			return nil, fmt.Errorf("open scenario %s: %w", opts.ScenarioPath, err)
		}
		scenario, err = core.LoadScenario(f)
		f.Close()
		if scenario == nil {
			return nil, fmt.Errorf("load scenario %s: %w", opts.ScenarioPath, err)
		}
		if err != nil {
			log.Warn(ctx, "scenario entities skipped", logging.String("path", opts.ScenarioPath), logging.Err(err))
		}
	}

	public := cfg.Network.Public()
	if scenario != nil && scenario.PublicFrequency != nil {
		public = *scenario.PublicFrequency
	}

	storePath := cfg.Store.Path
	if opts.StorePath != "" {
		storePath = config.ExpandPath(opts.StorePath)
	}
	var st *store.Store
	if storePath != "-" {
		var err error
		st, err = store.New(storePath, log)
		if err != nil {
			return nil, err
		}
	}

	entities := kb.NewKnowledgeBase()
	links := core.NewKnowledgeBase()
	network := core.NewCommNetwork(public,
		core.WithResolver(entities),
		core.WithDecisionRecorder(opts.Collector),
		core.WithNetworkLogger(log),
	)

	stateOpts := []ScenarioStateOption{
		WithMetricsRecorder(opts.Collector),
		WithListOptions(core.WithAntennaChangeRecorder(opts.Collector)),
		WithDefaultConstellations(cfg.Constellations),
		WithMaxNameChars(cfg.Network.MaxNameChars),
	}
	if st != nil {
		stateOpts = append(stateOpts, WithStore(st))
	}
	s := NewScenarioState(entities, links, network, log, stateOpts...)

	engine := core.NewSimulationEngine(links, network, entities)
	engine.ConnectivityService.MaxRangeKm = cfg.Network.MaxRangeKm
	engine.ConnectivityService.SetLogger(log)
	engine.ConnectivityService.SetPassRecorder(opts.Collector)

	sess := &Session{
		ScenarioState: s,
		Config:        cfg,
		Engine:        engine,
		Store:         st,
	}
	// Removal runs under the state write lock, never during a pass.
	sess.unsubscribe = entities.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventEntityRemoved {
			engine.Forget(ev.Entity.ID)
		}
	})

	if err := s.ApplyScenario(ctx, scenario); err != nil {
		log.Warn(ctx, "scenario partially applied", logging.Err(err))
	}
	log.Info(ctx, "session opened",
		logging.Int("nodes", network.Len()),
		logging.Int("public_frequency", int(public)),
		logging.String("store", storePath),
	)
	return sess, nil
}

// Close detaches the session from the KB and closes the store.
func (s *Session) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.ScenarioState.Close()
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}
