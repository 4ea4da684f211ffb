package pbf

import (
	"context"
	"fmt"
	"io"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
)

// Summary describes the contents of a PBF file
type Summary struct {
	WritingProgram   string
	RequiredFeatures []string
	OptionalFeatures []string
	HeaderBounds     *osm.Bounds

	Nodes     int64
	Ways      int64
	Relations int64
	WayNodes  int64
	Tags      int64

	MinNodeID, MaxNodeID osm.NodeID
	MinWayID, MaxWayID   osm.WayID

	// Bounds is computed from the node coordinates
	Bounds *osm.Bounds
}

// Summarize decodes a PBF stream with the paulmach/osm scanner and collects
// counts, id ranges and bounds
func Summarize(ctx context.Context, r io.Reader) (*Summary, error) {
	scanner := osmpbf.New(ctx, r, 1)
	defer scanner.Close()

	header, err := scanner.Header()
	if err != nil {
		return nil, fmt.Errorf("read pbf header: %w", err)
	}

	s := &Summary{
		WritingProgram:   header.WritingProgram,
		RequiredFeatures: header.RequiredFeatures,
		OptionalFeatures: header.OptionalFeatures,
		HeaderBounds:     header.Bounds,
	}

	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			s.addNode(o)
		case *osm.Way:
			s.addWay(o)
		case *osm.Relation:
			s.Relations++
			s.Tags += int64(len(o.Tags))
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("scan pbf: %w", err)
	}
	return s, nil
}

func (s *Summary) addNode(n *osm.Node) {
	if s.Nodes == 0 {
		s.MinNodeID, s.MaxNodeID = n.ID, n.ID
		s.Bounds = &osm.Bounds{MinLat: n.Lat, MaxLat: n.Lat, MinLon: n.Lon, MaxLon: n.Lon}
	}
	s.Nodes++
	s.Tags += int64(len(n.Tags))

	if n.ID < s.MinNodeID {
		s.MinNodeID = n.ID
	}
	if n.ID > s.MaxNodeID {
		s.MaxNodeID = n.ID
	}
	if n.Lat < s.Bounds.MinLat {
		s.Bounds.MinLat = n.Lat
	}
	if n.Lat > s.Bounds.MaxLat {
		s.Bounds.MaxLat = n.Lat
	}
	if n.Lon < s.Bounds.MinLon {
		s.Bounds.MinLon = n.Lon
	}
	if n.Lon > s.Bounds.MaxLon {
		s.Bounds.MaxLon = n.Lon
	}
}

func (s *Summary) addWay(w *osm.Way) {
	if s.Ways == 0 {
		s.MinWayID, s.MaxWayID = w.ID, w.ID
	}
	s.Ways++
	s.WayNodes += int64(len(w.Nodes))
	s.Tags += int64(len(w.Tags))

	if w.ID < s.MinWayID {
		s.MinWayID = w.ID
	}
	if w.ID > s.MaxWayID {
		s.MaxWayID = w.ID
	}
}
