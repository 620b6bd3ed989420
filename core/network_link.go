package core

// NetworkLink is a candidate edge between two nodes discovered by the
// ConnectivityService on its last pass.
type NetworkLink struct {
	ID    string `json:"ID"`
	NodeA string `json:"NodeA"`
	NodeB string `json:"NodeB"`

	// IsUp is the final decision: the baseline rule held and the
	// frequency filter allowed the pair.
	IsUp bool `json:"IsUp"`
	// Reason is set when IsUp is false.
	Reason DenyReason `json:"Reason"`

	// DistanceKm is zero when either position is unknown.
	DistanceKm float64 `json:"DistanceKm,omitempty"`
}

// Other returns the endpoint that is not nodeID.
func (l NetworkLink) Other(nodeID string) string {
	if l.NodeA == nodeID {
		return l.NodeB
	}
	return l.NodeA
}
