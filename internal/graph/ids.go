package graph

import "github.com/paulmach/osm"

// Allocator hands out synthetic, strictly decreasing identifiers.
// Node and way ids come from independent counters, both starting at -1.
type Allocator struct {
	nextNode osm.NodeID
	nextWay  osm.WayID
}

// NewAllocator creates an allocator with both counters at -1
func NewAllocator() *Allocator {
	return &Allocator{nextNode: -1, nextWay: -1}
}

// NextNodeID returns the next node id
func (a *Allocator) NextNodeID() osm.NodeID {
	id := a.nextNode
	a.nextNode--
	return id
}

// NextWayID returns the next way id
func (a *Allocator) NextWayID() osm.WayID {
	id := a.nextWay
	a.nextWay--
	return id
}
