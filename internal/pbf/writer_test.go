package pbf

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"google.golang.org/protobuf/encoding/protowire"
)

var testTimestamp = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func testNode(id int64, lon, lat float64) *osm.Node {
	return &osm.Node{
		ID:        osm.NodeID(id),
		Lat:       lat,
		Lon:       lon,
		Version:   1,
		Timestamp: testTimestamp,
		Visible:   true,
	}
}

func testWay(id int64, tags osm.Tags, nodes ...*osm.Node) *osm.Way {
	way := &osm.Way{
		ID:        osm.WayID(id),
		Version:   1,
		Timestamp: testTimestamp,
		Visible:   true,
		Tags:      tags,
	}
	for _, n := range nodes {
		way.Nodes = append(way.Nodes, osm.WayNode{ID: n.ID, Lat: n.Lat, Lon: n.Lon})
	}
	return way
}

// testGraph returns the graph of two lines sharing one endpoint
func testGraph() ([]*osm.Node, []*osm.Way) {
	n1 := testNode(-1, 1, 1)
	n2 := testNode(-2, 2, 2)
	n3 := testNode(-3, 3.1234567, -3.7654321)
	ways := []*osm.Way{
		testWay(-1, osm.Tags{{Key: "highway", Value: "primary"}, {Key: "name", Value: "Main Street"}}, n1, n2),
		testWay(-2, osm.Tags{{Key: "highway", Value: "primary"}, {Key: "lanes", Value: "2"}}, n2, n3),
	}
	return []*osm.Node{n1, n2, n3}, ways
}

type decoded struct {
	header *osmpbf.Header
	nodes  []*osm.Node
	ways   []*osm.Way
}

func decode(t *testing.T, data []byte) decoded {
	t.Helper()

	scanner := osmpbf.New(context.Background(), bytes.NewReader(data), 1)
	defer scanner.Close()

	header, err := scanner.Header()
	if err != nil {
		t.Fatalf("failed to read header: %v", err)
	}

	d := decoded{header: header}
	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			d.nodes = append(d.nodes, o)
		case *osm.Way:
			d.ways = append(d.ways, o)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}
	return d
}

type frame struct {
	blobType string
	block    []byte
}

// readFrames splits an uncompressed PBF stream into its frames
func readFrames(t *testing.T, data []byte) []frame {
	t.Helper()

	var frames []frame
	for len(data) > 0 {
		if len(data) < 4 {
			t.Fatalf("truncated frame length")
		}
		headerLen := int(binary.BigEndian.Uint32(data[:4]))
		header := data[4 : 4+headerLen]
		data = data[4+headerLen:]

		var f frame
		var blobLen int
		walkFields(t, header, func(num protowire.Number, v []byte, n uint64) {
			switch num {
			case blobHeaderType:
				f.blobType = string(v)
			case blobHeaderDatasize:
				blobLen = int(n)
			}
		})

		walkFields(t, data[:blobLen], func(num protowire.Number, v []byte, _ uint64) {
			if num == blobRaw {
				f.block = v
			}
			if num == blobZlibData {
				t.Fatalf("expected uncompressed blobs")
			}
		})
		data = data[blobLen:]
		frames = append(frames, f)
	}
	return frames
}

// groupKinds returns the PrimitiveGroup field numbers used in a data block
func groupKinds(t *testing.T, block []byte) []protowire.Number {
	t.Helper()

	var kinds []protowire.Number
	walkFields(t, block, func(num protowire.Number, v []byte, _ uint64) {
		if num != blockPrimitiveGroup {
			return
		}
		walkFields(t, v, func(num protowire.Number, _ []byte, _ uint64) {
			if len(kinds) == 0 || kinds[len(kinds)-1] != num {
				kinds = append(kinds, num)
			}
		})
	})
	return kinds
}

func walkFields(t *testing.T, b []byte, fn func(num protowire.Number, bytesVal []byte, varint uint64)) {
	t.Helper()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			t.Fatalf("bad tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				t.Fatalf("bad varint: %v", protowire.ParseError(n))
			}
			fn(num, nil, v)
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				t.Fatalf("bad bytes: %v", protowire.ParseError(n))
			}
			fn(num, v, 0)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				t.Fatalf("bad field: %v", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
}

func TestWriteRoundTrip(t *testing.T) {
	nodes, ways := testGraph()

	var buf bytes.Buffer
	stats, err := Write(&buf, nodes, ways, WithWritingProgram("shp2pbf-test"))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if stats.Nodes != 3 || stats.Ways != 2 || stats.NodeBlocks != 1 || stats.WayBlocks != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Bytes != int64(buf.Len()) {
		t.Errorf("stats report %d bytes, buffer has %d", stats.Bytes, buf.Len())
	}

	d := decode(t, buf.Bytes())

	if d.header.WritingProgram != "shp2pbf-test" {
		t.Errorf("writing program = %q", d.header.WritingProgram)
	}
	if len(d.header.RequiredFeatures) != 2 ||
		d.header.RequiredFeatures[0] != FeatureOsmSchema ||
		d.header.RequiredFeatures[1] != FeatureDenseNodes {
		t.Errorf("unexpected required features: %v", d.header.RequiredFeatures)
	}

	if len(d.nodes) != len(nodes) {
		t.Fatalf("expected %d nodes, got %d", len(nodes), len(d.nodes))
	}
	const epsilon = 1e-7
	for i, n := range nodes {
		got := d.nodes[i]
		if got.ID != n.ID {
			t.Errorf("node %d id = %d, want %d", i, got.ID, n.ID)
		}
		if math.Abs(got.Lat-n.Lat) > epsilon || math.Abs(got.Lon-n.Lon) > epsilon {
			t.Errorf("node %d = (%f,%f), want (%f,%f)", i, got.Lat, got.Lon, n.Lat, n.Lon)
		}
		if len(got.Tags) != 0 {
			t.Errorf("node %d has unexpected tags %v", i, got.Tags)
		}
	}

	if len(d.ways) != len(ways) {
		t.Fatalf("expected %d ways, got %d", len(ways), len(d.ways))
	}
	for i, w := range ways {
		got := d.ways[i]
		if got.ID != w.ID {
			t.Errorf("way %d id = %d, want %d", i, got.ID, w.ID)
		}
		if len(got.Nodes) != len(w.Nodes) {
			t.Fatalf("way %d has %d refs, want %d", i, len(got.Nodes), len(w.Nodes))
		}
		for j := range w.Nodes {
			if got.Nodes[j].ID != w.Nodes[j].ID {
				t.Errorf("way %d ref %d = %d, want %d", i, j, got.Nodes[j].ID, w.Nodes[j].ID)
			}
		}
		if len(got.Tags) != len(w.Tags) {
			t.Fatalf("way %d tags = %v, want %v", i, got.Tags, w.Tags)
		}
		for j := range w.Tags {
			if got.Tags[j] != w.Tags[j] {
				t.Errorf("way %d tag %d = %v, want %v", i, j, got.Tags[j], w.Tags[j])
			}
		}
	}

	if d.ways[0].Nodes[1].ID != d.ways[1].Nodes[0].ID {
		t.Errorf("shared node lost in encoding")
	}
}

func TestWriteMetadataPlaceholders(t *testing.T) {
	nodes, ways := testGraph()

	var buf bytes.Buffer
	if _, err := Write(&buf, nodes, ways); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	d := decode(t, buf.Bytes())

	for _, n := range d.nodes {
		if n.Version != 1 || n.ChangesetID != 0 || n.UserID != 0 || n.User != "" {
			t.Errorf("unexpected node metadata: version=%d changeset=%d uid=%d user=%q",
				n.Version, n.ChangesetID, n.UserID, n.User)
		}
		if !n.Timestamp.Equal(testTimestamp) {
			t.Errorf("node timestamp = %v, want %v", n.Timestamp, testTimestamp)
		}
	}
	for _, w := range d.ways {
		if w.Version != 1 || w.ChangesetID != 0 || w.UserID != 0 || w.User != "" {
			t.Errorf("unexpected way metadata: version=%d changeset=%d uid=%d user=%q",
				w.Version, w.ChangesetID, w.UserID, w.User)
		}
		if !w.Timestamp.Equal(testTimestamp) {
			t.Errorf("way timestamp = %v, want %v", w.Timestamp, testTimestamp)
		}
	}
}

func TestWriteBatchesNodesBeforeWays(t *testing.T) {
	var nodes []*osm.Node
	for i := 1; i <= 5; i++ {
		nodes = append(nodes, testNode(int64(-i), float64(i), float64(i)))
	}
	ways := []*osm.Way{
		testWay(-1, nil, nodes[0], nodes[1]),
		testWay(-2, nil, nodes[1], nodes[2]),
		testWay(-3, osm.Tags{{Key: "k", Value: "v"}}, nodes[3], nodes[4]),
	}

	var buf bytes.Buffer
	stats, err := Write(&buf, nodes, ways, WithBatchSize(2), WithCompression(false))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if stats.NodeBlocks != 3 || stats.WayBlocks != 2 {
		t.Errorf("expected 3 node blocks and 2 way blocks, got %+v", stats)
	}

	frames := readFrames(t, buf.Bytes())
	if len(frames) != 6 {
		t.Fatalf("expected 6 frames, got %d", len(frames))
	}
	if frames[0].blobType != blobTypeHeader {
		t.Errorf("first frame = %q, want %q", frames[0].blobType, blobTypeHeader)
	}

	want := []protowire.Number{groupDense, groupDense, groupDense, groupWays, groupWays}
	for i, f := range frames[1:] {
		if f.blobType != blobTypeData {
			t.Errorf("frame %d = %q, want %q", i+1, f.blobType, blobTypeData)
		}
		kinds := groupKinds(t, f.block)
		if len(kinds) != 1 || kinds[0] != want[i] {
			t.Errorf("frame %d groups = %v, want [%d]", i+1, kinds, want[i])
		}
	}

	// consumers see the blocks concatenated
	d := decode(t, buf.Bytes())
	if len(d.nodes) != 5 || len(d.ways) != 3 {
		t.Fatalf("expected 5 nodes and 3 ways, got %d and %d", len(d.nodes), len(d.ways))
	}
	for i, n := range d.nodes {
		if n.ID != nodes[i].ID {
			t.Errorf("node %d id = %d, want %d", i, n.ID, nodes[i].ID)
		}
	}
	if d.ways[2].Tags.Find("k") != "v" {
		t.Errorf("tags of second way block lost: %v", d.ways[2].Tags)
	}
}

func TestWriteEmptyGraph(t *testing.T) {
	var buf bytes.Buffer
	stats, err := Write(&buf, nil, nil)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if stats.NodeBlocks != 0 || stats.WayBlocks != 0 {
		t.Errorf("expected no data blocks, got %+v", stats)
	}

	d := decode(t, buf.Bytes())
	if len(d.nodes) != 0 || len(d.ways) != 0 {
		t.Errorf("expected empty file, got %d nodes and %d ways", len(d.nodes), len(d.ways))
	}
}

func TestWriterRejectsNodesAfterWays(t *testing.T) {
	nodes, ways := testGraph()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteWay(ways[0]); err != nil {
		t.Fatalf("write way failed: %v", err)
	}
	if err := w.WriteNode(nodes[0]); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := w.WriteWay(ways[1]); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder after close, got %v", err)
	}
}

func TestHeaderBoundsAndLocationsOnWays(t *testing.T) {
	nodes, ways := testGraph()
	bounds := &osm.Bounds{MinLat: -3.7654321, MaxLat: 2, MinLon: 1, MaxLon: 3.1234567}

	var buf bytes.Buffer
	if _, err := Write(&buf, nodes, ways, WithBounds(bounds), WithLocationsOnWays(true)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	d := decode(t, buf.Bytes())
	if d.header.Bounds == nil {
		t.Fatalf("expected header bounds")
	}
	const epsilon = 1e-7
	hb := d.header.Bounds
	if math.Abs(hb.MinLat-bounds.MinLat) > epsilon || math.Abs(hb.MaxLat-bounds.MaxLat) > epsilon ||
		math.Abs(hb.MinLon-bounds.MinLon) > epsilon || math.Abs(hb.MaxLon-bounds.MaxLon) > epsilon {
		t.Errorf("header bounds = %+v, want %+v", hb, bounds)
	}

	found := false
	for _, f := range d.header.OptionalFeatures {
		if f == FeatureLocationsOnWays {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in optional features, got %v", FeatureLocationsOnWays, d.header.OptionalFeatures)
	}
	if len(d.ways) != 2 || len(d.ways[1].Nodes) != 2 {
		t.Fatalf("unexpected ways: %v", d.ways)
	}
}

type failingWriter struct {
	after int
	err   error
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, f.err
	}
	f.after--
	return len(p), nil
}

func TestWriteSinkFailure(t *testing.T) {
	nodes, ways := testGraph()
	diskFull := errors.New("disk full")

	for _, after := range []int{0, 3, 4} {
		_, err := Write(&failingWriter{after: after, err: diskFull}, nodes, ways)
		var sinkErr *SinkError
		if !errors.As(err, &sinkErr) {
			t.Fatalf("after %d writes: expected SinkError, got %v", after, err)
		}
		if !errors.Is(err, diskFull) {
			t.Errorf("after %d writes: expected wrapped cause, got %v", after, err)
		}
	}
}

func TestWriteFileCreatesAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.osm.pbf")
	nodes, ways := testGraph()

	if _, err := WriteFile(path, nodes, ways); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	first, err := os.Stat(path)
	if err != nil {
		t.Fatalf("output not created: %v", err)
	}

	if _, err := WriteFile(path, nodes[:1], nil); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	second, err := os.Stat(path)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if second.Size() >= first.Size() {
		t.Errorf("expected truncated file, sizes %d then %d", first.Size(), second.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	d := decode(t, data)
	if len(d.nodes) != 1 || len(d.ways) != 0 {
		t.Errorf("expected 1 node and no ways, got %d and %d", len(d.nodes), len(d.ways))
	}
}

func TestWriteFileUnavailableSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.osm.pbf")

	_, err := WriteFile(path, nil, nil)
	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("expected SinkError, got %v", err)
	}
	if sinkErr.Path != path {
		t.Errorf("error path = %q, want %q", sinkErr.Path, path)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist cause, got %v", err)
	}
}

func TestStringTableFirstSeenOrder(t *testing.T) {
	st := newStringTable()
	if st.id("") != 0 {
		t.Errorf("empty string must be index 0")
	}
	if st.id("highway") != 1 || st.id("primary") != 2 || st.id("highway") != 1 {
		t.Errorf("unexpected indices: %v", st.strings)
	}
	if len(st.strings) != 3 {
		t.Errorf("expected 3 strings, got %d", len(st.strings))
	}
}
