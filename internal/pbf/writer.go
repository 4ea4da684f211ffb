package pbf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
	"github.com/paulmach/osm"
)

// DefaultBatchSize is the number of entities per block, as written by osmosis
const DefaultBatchSize = 8000

// MaxBatchSize keeps blocks well below the 32 MiB blob limit
const MaxBatchSize = 32000

// DefaultWritingProgram is stored in the header block
const DefaultWritingProgram = "shp2pbf-go"

// ErrOutOfOrder is returned when entities are written after a later kind
// (nodes after ways) or after Close.
var ErrOutOfOrder = errors.New("pbf: entities written out of order")

// SinkError reports a failure to create or write the output
type SinkError struct {
	Path string
	Err  error
}

func (e *SinkError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("pbf output: %v", e.Err)
	}
	return fmt.Sprintf("pbf output %s: %v", e.Path, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Stats holds writer statistics
type Stats struct {
	Nodes      int64
	Ways       int64
	NodeBlocks int64
	WayBlocks  int64
	Bytes      int64
}

type state int

const (
	stateStart state = iota
	stateHeader
	stateNodes
	stateWays
	stateClosed
)

// Writer encodes nodes and ways into OSM PBF frames.
// The header comes first, then all nodes, then all ways; entities are
// buffered until a block of batchSize is full.
type Writer struct {
	frames          *frameWriter
	writingProgram  string
	batchSize       int
	bounds          *osm.Bounds
	locationsOnWays bool

	state state
	nodes []*osm.Node
	ways  []*osm.Way
	stats Stats
}

// Option configures a Writer
type Option func(*Writer)

// WithWritingProgram sets the writing program in the header
func WithWritingProgram(program string) Option {
	return func(w *Writer) {
		w.writingProgram = program
	}
}

// WithCompression enables or disables zlib compression of blobs
func WithCompression(enable bool) Option {
	return func(w *Writer) {
		w.frames.compress = enable
	}
}

// WithCompressionLevel sets the zlib level (implies compression)
func WithCompressionLevel(level int) Option {
	return func(w *Writer) {
		w.frames.compress = true
		w.frames.level = level
	}
}

// WithBatchSize sets the number of entities per block
func WithBatchSize(size int) Option {
	return func(w *Writer) {
		if size > 0 && size <= MaxBatchSize {
			w.batchSize = size
		}
	}
}

// WithBounds stores a bounding box in the header
func WithBounds(bounds *osm.Bounds) Option {
	return func(w *Writer) {
		w.bounds = bounds
	}
}

// WithLocationsOnWays stores way node coordinates in way blocks and
// announces the LocationsOnWays optional feature
func WithLocationsOnWays(enable bool) Option {
	return func(w *Writer) {
		w.locationsOnWays = enable
	}
}

// NewWriter creates a writer on top of w. The caller owns w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	pw := &Writer{
		frames: &frameWriter{
			w:        w,
			compress: true,
			level:    zlib.DefaultCompression,
		},
		writingProgram: DefaultWritingProgram,
		batchSize:      DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(pw)
	}
	return pw
}

// WriteHeader writes the header frame. It is called implicitly by the first
// entity write and is a no-op once the header is out.
func (w *Writer) WriteHeader() error {
	if w.state != stateStart {
		return nil
	}

	var optional []string
	if w.locationsOnWays {
		optional = append(optional, FeatureLocationsOnWays)
	}

	if err := w.frames.writeFrame(blobTypeHeader, encodeHeaderBlock(w.writingProgram, w.bounds, optional)); err != nil {
		return err
	}
	w.state = stateHeader
	return nil
}

// WriteNode queues a node, flushing a block when the batch is full
func (w *Writer) WriteNode(n *osm.Node) error {
	if w.state > stateNodes {
		return ErrOutOfOrder
	}
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.state = stateNodes

	w.nodes = append(w.nodes, n)
	if len(w.nodes) >= w.batchSize {
		return w.flushNodes()
	}
	return nil
}

// WriteNodes queues all nodes in order
func (w *Writer) WriteNodes(nodes []*osm.Node) error {
	for _, n := range nodes {
		if err := w.WriteNode(n); err != nil {
			return err
		}
	}
	return nil
}

// WriteWay queues a way. Pending nodes are flushed first so that every node
// block precedes every way block.
func (w *Writer) WriteWay(way *osm.Way) error {
	if w.state > stateWays {
		return ErrOutOfOrder
	}
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if w.state < stateWays {
		if err := w.flushNodes(); err != nil {
			return err
		}
		w.state = stateWays
	}

	w.ways = append(w.ways, way)
	if len(w.ways) >= w.batchSize {
		return w.flushWays()
	}
	return nil
}

// WriteWays queues all ways in order
func (w *Writer) WriteWays(ways []*osm.Way) error {
	for _, way := range ways {
		if err := w.WriteWay(way); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes pending blocks and completes the file. An empty run still
// produces a valid file with just the header. The underlying writer is not closed.
func (w *Writer) Close() error {
	if w.state == stateClosed {
		return nil
	}
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if err := w.flushNodes(); err != nil {
		return err
	}
	if err := w.flushWays(); err != nil {
		return err
	}
	w.state = stateClosed
	return nil
}

// Stats returns writer statistics
func (w *Writer) Stats() Stats {
	s := w.stats
	s.Bytes = w.frames.written
	return s
}

func (w *Writer) flushNodes() error {
	if len(w.nodes) == 0 {
		return nil
	}
	if err := w.frames.writeFrame(blobTypeData, encodeDenseNodes(w.nodes)); err != nil {
		return err
	}
	w.stats.Nodes += int64(len(w.nodes))
	w.stats.NodeBlocks++
	w.nodes = w.nodes[:0]
	return nil
}

func (w *Writer) flushWays() error {
	if len(w.ways) == 0 {
		return nil
	}
	if err := w.frames.writeFrame(blobTypeData, encodeWays(w.ways, w.locationsOnWays)); err != nil {
		return err
	}
	w.stats.Ways += int64(len(w.ways))
	w.stats.WayBlocks++
	w.ways = w.ways[:0]
	return nil
}

// Write encodes the header, all nodes, then all ways to sink
func Write(sink io.Writer, nodes []*osm.Node, ways []*osm.Way, opts ...Option) (Stats, error) {
	w := NewWriter(sink, opts...)
	if err := w.WriteHeader(); err != nil {
		return w.Stats(), &SinkError{Err: err}
	}
	if err := w.WriteNodes(nodes); err != nil {
		return w.Stats(), &SinkError{Err: err}
	}
	if err := w.WriteWays(ways); err != nil {
		return w.Stats(), &SinkError{Err: err}
	}
	if err := w.Close(); err != nil {
		return w.Stats(), &SinkError{Err: err}
	}
	return w.Stats(), nil
}

// WriteFile creates (or truncates) path and writes the PBF file
func WriteFile(path string, nodes []*osm.Node, ways []*osm.Way, opts ...Option) (stats Stats, err error) {
	f, err := os.Create(path)
	if err != nil {
		return stats, &SinkError{Path: path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &SinkError{Path: path, Err: cerr}
		}
	}()

	buf := bufio.NewWriterSize(f, 1<<20)
	stats, err = Write(buf, nodes, ways, opts...)
	if err != nil {
		var sinkErr *SinkError
		if errors.As(err, &sinkErr) {
			sinkErr.Path = path
		}
		return stats, err
	}
	if err := buf.Flush(); err != nil {
		return stats, &SinkError{Path: path, Err: err}
	}
	return stats, nil
}
