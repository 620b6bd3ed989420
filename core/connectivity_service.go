// core/connectivity_service.go
package core

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/constellation-comms/internal/logging"
)

// PassRecorder observes connectivity pass timings.
type PassRecorder interface {
	ObservePass(d time.Duration)
}

// ConnectivityService is the reference host graph engine. On every pass
// it considers each unordered pair of joined nodes once, applies its own
// baseline rule (line of sight and an optional maximum range) and then
// asks the CommNetwork's frequency filter. The filter can only take links
// away; it never restores a pair the baseline rejected.
type ConnectivityService struct {
	KB      *KnowledgeBase
	Network *CommNetwork

	// MaxRangeKm limits link length. Zero disables the check.
	MaxRangeKm float64
	// BodyRadiusKm is the radius of the occluding body.
	BodyRadiusKm float64

	log     logging.Logger
	metrics PassRecorder
}

// NewConnectivityService wires a service over the given KB and network.
func NewConnectivityService(kb *KnowledgeBase, network *CommNetwork) *ConnectivityService {
	return &ConnectivityService{
		KB:           kb,
		Network:      network,
		BodyRadiusKm: EarthRadiusKm,
		log:          logging.Noop(),
	}
}

// SetLogger replaces the service logger.
func (cs *ConnectivityService) SetLogger(log logging.Logger) {
	if log != nil {
		cs.log = log
	}
}

// SetPassRecorder attaches a metrics recorder.
func (cs *ConnectivityService) SetPassRecorder(r PassRecorder) { cs.metrics = r }

// Reset clears the links of the previous pass.
func (cs *ConnectivityService) Reset() {
	if cs == nil || cs.KB == nil {
		return
	}
	cs.KB.ClearDynamicLinks()
}

// UpdateConnectivity rebuilds every dynamic link. A node in a bad state
// only affects its own pairs; the pass always completes.
func (cs *ConnectivityService) UpdateConnectivity(ctx context.Context) {
	start := time.Now()
	ctx, log := logging.WithPassLogger(ctx, cs.log)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ConnectivityService.UpdateConnectivity")
	defer span.End()

	cs.KB.ClearDynamicLinks()

	ids := cs.Network.NodeIDs()
	up := 0
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			link := cs.KB.UpsertDynamicLink(ids[i], ids[j])
			cs.evaluateLink(&link)
			if link.IsUp {
				up++
			}
			if err := cs.KB.UpdateNetworkLink(link); err != nil {
				log.Warn(ctx, "failed to store link", logging.String("link_id", link.ID), logging.Err(err))
			}
		}
	}

	elapsed := time.Since(start)
	if cs.metrics != nil {
		cs.metrics.ObservePass(elapsed)
	}
	span.SetAttributes(
		attribute.Int("nodes", len(ids)),
		attribute.Int("links_up", up),
	)
	log.Debug(ctx, "connectivity pass complete",
		logging.Int("nodes", len(ids)),
		logging.Int("links_up", up),
		logging.Float("duration_ms", float64(elapsed.Microseconds())/1000.0),
	)
}

// evaluateLink applies the baseline rule and the frequency filter.
func (cs *ConnectivityService) evaluateLink(link *NetworkLink) {
	link.IsUp = false
	link.Reason = DenyNone
	link.DistanceKm = 0

	allowed, reason := cs.Network.CanLink(link.NodeA, link.NodeB)

	if !cs.baselineAllows(link) {
		link.Reason = DenyBaseline
		return
	}
	if !allowed {
		link.Reason = reason
		return
	}
	link.IsUp = true
}

// baselineAllows checks occlusion and range. Pairs where either position
// is unknown pass.
func (cs *ConnectivityService) baselineAllows(link *NetworkLink) bool {
	posA, okA := cs.KB.GetNodeECEFPosition(link.NodeA)
	posB, okB := cs.KB.GetNodeECEFPosition(link.NodeB)
	if !okA || !okB {
		return true
	}

	link.DistanceKm = posA.DistanceTo(posB)
	if cs.BodyRadiusKm > 0 && !hasLineOfSight(posA, posB, cs.BodyRadiusKm) {
		return false
	}
	if cs.MaxRangeKm > 0 && link.DistanceKm > cs.MaxRangeKm {
		return false
	}
	return true
}

// Links returns every link from the last pass.
func (cs *ConnectivityService) Links() []NetworkLink { return cs.KB.GetAllNetworkLinks() }

// UpLinks returns the links that are up.
func (cs *ConnectivityService) UpLinks() []NetworkLink { return cs.KB.GetUpLinks() }

// Neighbours returns the nodes linked to nodeID.
func (cs *ConnectivityService) Neighbours(nodeID string) []string {
	return cs.KB.GetNeighbours(nodeID)
}
