package model

// CommNode is an addressable participant in the communication graph.
// The host graph engine knows nodes only by ID; EntityID links a node
// back to the vessel or ground station that owns it.
type CommNode struct {
	ID       string
	Name     string
	EntityID string
}
