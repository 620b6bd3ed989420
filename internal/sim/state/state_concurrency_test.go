package state

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/constellation-comms/core"
	"github.com/signalsfoundry/constellation-comms/model"
)

// TestPassesAndReadersAfterToggle runs connectivity passes and node
// listings side by side right after a toggle, with no writer in between.
func TestPassesAndReadersAfterToggle(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()
	for _, se := range []core.ScenarioEntity{
		vessel("v1", model.Motion{X: 7000000}, antenna("a1", 500, 50), antenna("a2", 600, 10)),
		vessel("v2", model.Motion{X: 7100000}, antenna("a1", 600, 10)),
	} {
		if _, err := s.AddEntity(ctx, se); err != nil {
			t.Fatalf("AddEntity(%s): %v", se.Entity.ID, err)
		}
	}
	if err := s.ToggleAntenna(ctx, "v1", "a1", false); err != nil {
		t.Fatalf("ToggleAntenna: %v", err)
	}
	list, _ := s.List("v1")
	if list.Pending() {
		t.Fatalf("toggle through the state left a refresh pending")
	}

	engine := core.NewSimulationEngine(s.LinkKB(), s.Network(), s.Entities())
	simTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunPass(ctx, simTime, engine)
	}()
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Nodes()
		}()
		go func() {
			defer wg.Done()
			_ = s.WithReadLock(func() error {
				_ = s.Network().View("v1")
				return nil
			})
		}()
	}
	wg.Wait()

	link, ok := s.LinkKB().GetNetworkLink(core.DynamicLinkID("v1", "v2"))
	if !ok || !link.IsUp {
		t.Fatalf("link v1-v2 = %+v, want up on 600", link)
	}
}

// TestPassLoopAndReassignmentConcurrency runs the pass loop alongside
// concurrent reassignment and entity churn to verify we stay race-free.
func TestPassLoopAndReassignmentConcurrency(t *testing.T) {
	s := newTestState(t)
	for _, se := range []core.ScenarioEntity{
		vessel("stable-a", model.Motion{X: 7000000}, antenna("a1", 500, 50), antenna("a2", 600, 10)),
		vessel("stable-b", model.Motion{X: 7000000, Y: 100000}, antenna("a1", 600, 10)),
	} {
		if _, err := s.AddEntity(context.Background(), se); err != nil {
			t.Fatalf("AddEntity(%s): %v", se.Entity.ID, err)
		}
	}
	engine := core.NewSimulationEngine(s.LinkKB(), s.Network(), s.Entities())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var passWG sync.WaitGroup
	passWG.Add(1)
	go func() {
		defer passWG.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.RunPass(ctx, now, engine)
			}
		}
	}()

	var workers sync.WaitGroup
	runWorker(ctx, &workers, func(iter int) {
		_ = s.ToggleAntenna(ctx, "stable-a", "a1", iter%2 == 1)
	})
	runWorker(ctx, &workers, func(iter int) {
		from, to := model.Frequency(600), model.Frequency(700)
		if iter%2 == 1 {
			from, to = to, from
		}
		_ = s.RetuneAll(ctx, "stable-b", from, to)
	})
	runWorker(ctx, &workers, func(int) { _ = s.Nodes() })
	runWorker(ctx, &workers, func(iter int) { exerciseEntities(ctx, s, iter) })

	workers.Wait()
	passWG.Wait()
}

func runWorker(ctx context.Context, wg *sync.WaitGroup, fn func(iter int)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for iter := 0; ; iter++ {
			select {
			case <-ctx.Done():
				return
			default:
				fn(iter)
				time.Sleep(time.Duration(rand.Intn(5)+1) * time.Millisecond)
			}
		}
	}()
}

var entitySeq uint64

func exerciseEntities(ctx context.Context, s *ScenarioState, iter int) {
	id := fmt.Sprintf("dyn-%d", atomic.AddUint64(&entitySeq, 1))
	se := vessel(id, model.Motion{X: 7000000 + float64(iter)}, antenna("a1", 500, 10))
	if _, err := s.AddEntity(ctx, se); err == nil {
		_ = s.ToggleAntenna(ctx, id, "a1", false)
		_ = s.RemoveEntity(ctx, id)
	}
}
