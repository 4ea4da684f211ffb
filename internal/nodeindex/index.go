package nodeindex

import (
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// DefaultEpsilon is the coordinate tolerance used to expand a point into an
// envelope. Units are those of the target reference system (degrees for 4326).
const DefaultEpsilon = 0.0000001

const (
	// R-tree branching factors (same as the chart index in the s57 reader)
	minChildren = 25
	maxChildren = 50
)

// Envelope is an axis-aligned bounding box in lon/lat order
type Envelope struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// EnvelopeAround expands a point by eps in each dimension
func EnvelopeAround(p orb.Point, eps float64) Envelope {
	return Envelope{
		MinLon: p.Lon() - eps,
		MinLat: p.Lat() - eps,
		MaxLon: p.Lon() + eps,
		MaxLat: p.Lat() + eps,
	}
}

// Contains reports whether the point lies inside the envelope, borders included
func (e Envelope) Contains(p orb.Point) bool {
	return p.Lon() >= e.MinLon && p.Lon() <= e.MaxLon &&
		p.Lat() >= e.MinLat && p.Lat() <= e.MaxLat
}

// Intersects reports whether two envelopes share at least one point
func (e Envelope) Intersects(o Envelope) bool {
	return e.MinLon <= o.MaxLon && o.MinLon <= e.MaxLon &&
		e.MinLat <= o.MaxLat && o.MinLat <= e.MaxLat
}

// rect converts the envelope to an rtreego rectangle.
// rtreego rejects zero lengths, so degenerate envelopes get a tiny extent.
func (e Envelope) rect() rtreego.Rect {
	point := rtreego.Point{e.MinLon, e.MinLat}
	lengths := []float64{e.MaxLon - e.MinLon, e.MaxLat - e.MinLat}
	for i, l := range lengths {
		if l <= 0 {
			lengths[i] = minExtent
		}
	}
	rect, _ := rtreego.NewRect(point, lengths)
	return rect
}

const minExtent = 1e-12

// Entry is a node stored under the envelope it was inserted with
type Entry struct {
	Envelope Envelope
	Node     *osm.Node
}

// Bounds implements rtreego.Spatial interface.
func (e *Entry) Bounds() rtreego.Rect {
	return e.Envelope.rect()
}

// Index is an R-tree of endpoint nodes keyed by their epsilon envelopes.
// It is not safe for concurrent use.
type Index struct {
	rtree *rtreego.Rtree
	size  int
}

// New creates an empty index
func New() *Index {
	return &Index{
		rtree: rtreego.NewTree(2, minChildren, maxChildren),
	}
}

// Insert stores a node under the given envelope
func (idx *Index) Insert(env Envelope, node *osm.Node) {
	idx.rtree.Insert(&Entry{Envelope: env, Node: node})
	idx.size++
}

// Query returns every entry whose stored envelope intersects env.
// Result order follows the tree traversal and is not meaningful.
func (idx *Index) Query(env Envelope) []*Entry {
	if idx.size == 0 {
		return nil
	}

	// rtreego treats touching rects as disjoint; grow the query so borders count
	padded := Envelope{
		MinLon: env.MinLon - minExtent,
		MinLat: env.MinLat - minExtent,
		MaxLon: env.MaxLon + minExtent,
		MaxLat: env.MaxLat + minExtent,
	}
	spatials := idx.rtree.SearchIntersect(padded.rect())

	result := make([]*Entry, 0, len(spatials))
	for _, spatial := range spatials {
		entry := spatial.(*Entry)
		// drop anything that only touched the padding
		if !entry.Envelope.Intersects(env) {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// Len returns the number of indexed nodes
func (idx *Index) Len() int {
	return idx.size
}
