package graph

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/shp2pbf-go/internal/feature"
	"github.com/wegman-software/shp2pbf-go/internal/logger"
	"github.com/wegman-software/shp2pbf-go/internal/nodeindex"
)

// Stats holds conversion statistics
type Stats struct {
	Features         int64
	SkippedFeatures  int64
	Nodes            int64
	Ways             int64
	IndexedEndpoints int64
	MergedEndpoints  int64
}

// Builder turns lines into nodes and ways. It owns all per-run state: the id
// counters, the endpoint index and the accumulated entities. A Builder is used
// by a single goroutine for one run.
type Builder struct {
	ids       *Allocator
	index     *nodeindex.Index
	epsilon   float64
	timestamp time.Time
	log       *zap.Logger

	nodes []*osm.Node
	ways  []*osm.Way
	stats Stats
}

// Option configures a Builder
type Option func(*Builder)

// WithEpsilon sets the endpoint merge tolerance
func WithEpsilon(eps float64) Option {
	return func(b *Builder) {
		b.epsilon = eps
	}
}

// WithTimestamp sets the timestamp stamped on every created entity
func WithTimestamp(ts time.Time) Option {
	return func(b *Builder) {
		b.timestamp = ts
	}
}

// WithLogger overrides the global logger
func WithLogger(log *zap.Logger) Option {
	return func(b *Builder) {
		b.log = log
	}
}

// NewBuilder creates a builder with fresh counters and an empty index.
// The run timestamp is read once here, at second precision.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		ids:       NewAllocator(),
		index:     nodeindex.New(),
		epsilon:   nodeindex.DefaultEpsilon,
		timestamp: time.Now().UTC().Truncate(time.Second),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Get()
	}
	return b
}

// AddFeature converts every line of a reprojected feature into a way and
// returns the number of ways created. Unsupported shapes create nothing.
// The shape label doubles as the attribute name excluded from the tags.
func (b *Builder) AddFeature(f *feature.Feature) int {
	b.stats.Features++

	shapeLabel := f.ShapeLabel()
	lines, ok := Decompose(b.log, f.ID, f.Geometry, shapeLabel)
	if !ok {
		b.stats.SkippedFeatures++
		return 0
	}

	for _, line := range lines {
		b.CreateWay(line, f.Attributes, shapeLabel)
	}
	return len(lines)
}

// CreateWay builds a way for one line. Only the first and last coordinates
// are merged with previously created endpoints; interior coordinates always
// get new nodes that are never indexed.
func (b *Builder) CreateWay(line orb.LineString, attrs []feature.Attribute, excludedKey string) *osm.Way {
	way := &osm.Way{
		ID:          b.ids.NextWayID(),
		Version:     1,
		Timestamp:   b.timestamp,
		ChangesetID: 0,
		Visible:     true,
		Tags:        ExtractTags(attrs, excludedKey),
		Nodes:       make(osm.WayNodes, 0, len(line)),
	}

	last := len(line) - 1
	for i, p := range line {
		endpoint := i == 0 || i == last
		nodeID := b.nodeFor(p, endpoint)

		way.Nodes = append(way.Nodes, osm.WayNode{
			ID:  nodeID,
			Lat: p.Lat(),
			Lon: p.Lon(),
		})
	}

	b.ways = append(b.ways, way)
	b.stats.Ways++
	return way
}

// nodeFor returns the node id for a coordinate, creating the node if needed.
// The first index candidate whose envelope contains p wins.
func (b *Builder) nodeFor(p orb.Point, endpoint bool) osm.NodeID {
	env := nodeindex.EnvelopeAround(p, b.epsilon)

	if endpoint {
		for _, candidate := range b.index.Query(env) {
			if candidate.Envelope.Contains(p) {
				b.stats.MergedEndpoints++
				return candidate.Node.ID
			}
		}
	}

	node := b.newNode(p)
	if endpoint {
		b.index.Insert(env, node)
		b.stats.IndexedEndpoints++
	}
	return node.ID
}

func (b *Builder) newNode(p orb.Point) *osm.Node {
	node := &osm.Node{
		ID:          b.ids.NextNodeID(),
		Lat:         p.Lat(),
		Lon:         p.Lon(),
		Version:     1,
		Timestamp:   b.timestamp,
		ChangesetID: 0,
		Visible:     true,
	}
	b.nodes = append(b.nodes, node)
	b.stats.Nodes++
	return node
}

// Nodes returns the created nodes in creation order
func (b *Builder) Nodes() []*osm.Node {
	return b.nodes
}

// Ways returns the created ways in creation order
func (b *Builder) Ways() []*osm.Way {
	return b.ways
}

// Timestamp returns the run timestamp shared by all entities
func (b *Builder) Timestamp() time.Time {
	return b.timestamp
}

// Stats returns a snapshot of the conversion statistics
func (b *Builder) Stats() Stats {
	return b.stats
}

// Bounds returns the bounding box of all created nodes, or nil if there are none
func (b *Builder) Bounds() *osm.Bounds {
	if len(b.nodes) == 0 {
		return nil
	}
	bounds := &osm.Bounds{
		MinLat: b.nodes[0].Lat, MaxLat: b.nodes[0].Lat,
		MinLon: b.nodes[0].Lon, MaxLon: b.nodes[0].Lon,
	}
	for _, n := range b.nodes[1:] {
		if n.Lat < bounds.MinLat {
			bounds.MinLat = n.Lat
		}
		if n.Lat > bounds.MaxLat {
			bounds.MaxLat = n.Lat
		}
		if n.Lon < bounds.MinLon {
			bounds.MinLon = n.Lon
		}
		if n.Lon > bounds.MaxLon {
			bounds.MaxLon = n.Lon
		}
	}
	return bounds
}
