package pbf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"google.golang.org/protobuf/encoding/protowire"
)

// Blob types of the two kinds of frames in a PBF file
const (
	blobTypeHeader = "OSMHeader"
	blobTypeData   = "OSMData"
)

// Format limits from the OSM PBF specification
const (
	maxBlobHeaderSize = 64 * 1024
	maxBlobSize       = 32 * 1024 * 1024
)

// fileformat.proto field numbers
const (
	blobRaw      = 1
	blobRawSize  = 2
	blobZlibData = 3

	blobHeaderType     = 1
	blobHeaderDatasize = 3
)

// frameWriter writes length-prefixed BlobHeader/Blob frames
type frameWriter struct {
	w        io.Writer
	compress bool
	level    int
	written  int64
}

// writeFrame wraps an encoded block into a blob and writes
// [4 byte header length][BlobHeader][Blob]
func (f *frameWriter) writeFrame(blobType string, block []byte) error {
	if len(block) > maxBlobSize {
		return fmt.Errorf("%s block of %d bytes exceeds the %d byte limit", blobType, len(block), maxBlobSize)
	}

	blob, err := f.encodeBlob(block)
	if err != nil {
		return err
	}

	var header []byte
	header = protowire.AppendTag(header, blobHeaderType, protowire.BytesType)
	header = protowire.AppendString(header, blobType)
	header = protowire.AppendTag(header, blobHeaderDatasize, protowire.VarintType)
	header = protowire.AppendVarint(header, uint64(len(blob)))
	if len(header) > maxBlobHeaderSize {
		return fmt.Errorf("blob header of %d bytes exceeds the %d byte limit", len(header), maxBlobHeaderSize)
	}

	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(header)))

	for _, part := range [][]byte{size[:], header, blob} {
		n, err := f.w.Write(part)
		f.written += int64(n)
		if err != nil {
			return fmt.Errorf("write %s frame: %w", blobType, err)
		}
	}
	return nil
}

// encodeBlob stores the block either raw or zlib compressed
func (f *frameWriter) encodeBlob(block []byte) ([]byte, error) {
	var blob []byte
	if !f.compress {
		blob = protowire.AppendTag(blob, blobRaw, protowire.BytesType)
		return protowire.AppendBytes(blob, block), nil
	}

	var compressed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&compressed, f.level)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}
	if _, err := zw.Write(block); err != nil {
		return nil, fmt.Errorf("compress block: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zlib writer: %w", err)
	}

	blob = protowire.AppendTag(blob, blobRawSize, protowire.VarintType)
	blob = protowire.AppendVarint(blob, uint64(len(block)))
	blob = protowire.AppendTag(blob, blobZlibData, protowire.BytesType)
	return protowire.AppendBytes(blob, compressed.Bytes()), nil
}
