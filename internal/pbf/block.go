package pbf

import (
	"math"
	"time"

	"github.com/paulmach/osm"
	"google.golang.org/protobuf/encoding/protowire"
)

// osmformat.proto field numbers
const (
	headerBBox             = 1
	headerRequiredFeatures = 4
	headerOptionalFeatures = 5
	headerWritingProgram   = 16

	bboxLeft   = 1
	bboxRight  = 2
	bboxTop    = 3
	bboxBottom = 4

	blockStringTable    = 1
	blockPrimitiveGroup = 2
	blockGranularity    = 17
	blockDateGran       = 18

	stringTableS = 1

	groupDense = 2
	groupWays  = 3

	denseID       = 1
	denseInfo     = 5
	denseLat      = 8
	denseLon      = 9
	denseKeysVals = 10

	denseInfoVersion   = 1
	denseInfoTimestamp = 2
	denseInfoChangeset = 3
	denseInfoUID       = 4
	denseInfoUserSID   = 5

	wayID   = 1
	wayKeys = 2
	wayVals = 3
	wayInfo = 4
	wayRefs = 8
	wayLat  = 9
	wayLon  = 10

	infoVersion   = 1
	infoTimestamp = 2
	infoChangeset = 3
	infoUID       = 4
	infoUserSID   = 5
)

const (
	// coordinates are stored in units of granularity nanodegrees
	granularity = 100
	// timestamps are stored in units of dateGranularity milliseconds
	dateGranularity = 1000

	coordScale = 1e9 / granularity
)

// Feature strings of the header block
const (
	FeatureOsmSchema       = "OsmSchema-V0.6"
	FeatureDenseNodes      = "DenseNodes"
	FeatureLocationsOnWays = "LocationsOnWays"
)

// stringTable collects the strings of one block in first-seen order.
// Index 0 is reserved for the empty string.
type stringTable struct {
	index   map[string]uint32
	strings []string
}

func newStringTable() *stringTable {
	return &stringTable{
		index:   map[string]uint32{"": 0},
		strings: []string{""},
	}
}

func (st *stringTable) id(s string) uint32 {
	if i, ok := st.index[s]; ok {
		return i
	}
	i := uint32(len(st.strings))
	st.index[s] = i
	st.strings = append(st.strings, s)
	return i
}

func (st *stringTable) encode() []byte {
	var b []byte
	for _, s := range st.strings {
		b = protowire.AppendTag(b, stringTableS, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

// encodeHeaderBlock builds the HeaderBlock message
func encodeHeaderBlock(writingProgram string, bounds *osm.Bounds, optional []string) []byte {
	var b []byte

	if bounds != nil {
		var bbox []byte
		bbox = appendSint64Field(bbox, bboxLeft, int64(math.Round(bounds.MinLon*1e9)))
		bbox = appendSint64Field(bbox, bboxRight, int64(math.Round(bounds.MaxLon*1e9)))
		bbox = appendSint64Field(bbox, bboxTop, int64(math.Round(bounds.MaxLat*1e9)))
		bbox = appendSint64Field(bbox, bboxBottom, int64(math.Round(bounds.MinLat*1e9)))
		b = appendMessage(b, headerBBox, bbox)
	}

	for _, feature := range []string{FeatureOsmSchema, FeatureDenseNodes} {
		b = protowire.AppendTag(b, headerRequiredFeatures, protowire.BytesType)
		b = protowire.AppendString(b, feature)
	}
	for _, feature := range optional {
		b = protowire.AppendTag(b, headerOptionalFeatures, protowire.BytesType)
		b = protowire.AppendString(b, feature)
	}

	if writingProgram != "" {
		b = protowire.AppendTag(b, headerWritingProgram, protowire.BytesType)
		b = protowire.AppendString(b, writingProgram)
	}
	return b
}

// encodeDenseNodes builds a PrimitiveBlock holding one dense node group.
// Ids, coordinates and metadata are delta coded.
func encodeDenseNodes(nodes []*osm.Node) []byte {
	st := newStringTable()

	var ids, lats, lons []byte
	var versions, timestamps, changesets, uids, userSIDs []byte
	var keysVals []byte

	var lastID, lastLat, lastLon, lastTimestamp, lastChangeset int64
	var lastUID, lastUserSID int32

	for _, n := range nodes {
		id := int64(n.ID)
		ids = appendSint64(ids, id-lastID)
		lastID = id

		lat, lon := toNano(n.Lat), toNano(n.Lon)
		lats = appendSint64(lats, lat-lastLat)
		lons = appendSint64(lons, lon-lastLon)
		lastLat, lastLon = lat, lon

		versions = protowire.AppendVarint(versions, uint64(int32(n.Version)))

		ts := timestampUnits(n.Timestamp)
		timestamps = appendSint64(timestamps, ts-lastTimestamp)
		lastTimestamp = ts

		cs := int64(n.ChangesetID)
		changesets = appendSint64(changesets, cs-lastChangeset)
		lastChangeset = cs

		uid := int32(n.UserID)
		uids = appendSint64(uids, int64(uid-lastUID))
		lastUID = uid

		sid := int32(st.id(n.User))
		userSIDs = appendSint64(userSIDs, int64(sid-lastUserSID))
		lastUserSID = sid

		for _, tag := range n.Tags {
			keysVals = protowire.AppendVarint(keysVals, uint64(st.id(tag.Key)))
			keysVals = protowire.AppendVarint(keysVals, uint64(st.id(tag.Value)))
		}
		keysVals = protowire.AppendVarint(keysVals, 0) // end of this node's tags
	}

	var info []byte
	info = appendPacked(info, denseInfoVersion, versions)
	info = appendPacked(info, denseInfoTimestamp, timestamps)
	info = appendPacked(info, denseInfoChangeset, changesets)
	info = appendPacked(info, denseInfoUID, uids)
	info = appendPacked(info, denseInfoUserSID, userSIDs)

	var dense []byte
	dense = appendPacked(dense, denseID, ids)
	dense = appendMessage(dense, denseInfo, info)
	dense = appendPacked(dense, denseLat, lats)
	dense = appendPacked(dense, denseLon, lons)
	dense = appendPacked(dense, denseKeysVals, keysVals)

	var group []byte
	group = appendMessage(group, groupDense, dense)

	return encodePrimitiveBlock(st, group)
}

// encodeWays builds a PrimitiveBlock holding one group of ways.
// With locations set, way node coordinates are stored next to the refs.
func encodeWays(ways []*osm.Way, locations bool) []byte {
	st := newStringTable()

	var group []byte
	for _, w := range ways {
		var way []byte
		way = protowire.AppendTag(way, wayID, protowire.VarintType)
		way = protowire.AppendVarint(way, uint64(int64(w.ID)))

		var keys, vals []byte
		for _, tag := range w.Tags {
			keys = protowire.AppendVarint(keys, uint64(st.id(tag.Key)))
			vals = protowire.AppendVarint(vals, uint64(st.id(tag.Value)))
		}
		way = appendPacked(way, wayKeys, keys)
		way = appendPacked(way, wayVals, vals)

		var info []byte
		info = appendVarintField(info, infoVersion, uint64(int32(w.Version)))
		info = appendVarintField(info, infoTimestamp, uint64(timestampUnits(w.Timestamp)))
		info = appendVarintField(info, infoChangeset, uint64(int64(w.ChangesetID)))
		info = appendVarintField(info, infoUID, uint64(int32(w.UserID)))
		info = appendVarintField(info, infoUserSID, uint64(st.id(w.User)))
		way = appendMessage(way, wayInfo, info)

		var refs, lats, lons []byte
		var lastRef, lastLat, lastLon int64
		for _, wn := range w.Nodes {
			ref := int64(wn.ID)
			refs = appendSint64(refs, ref-lastRef)
			lastRef = ref

			if locations {
				lat, lon := toNano(wn.Lat), toNano(wn.Lon)
				lats = appendSint64(lats, lat-lastLat)
				lons = appendSint64(lons, lon-lastLon)
				lastLat, lastLon = lat, lon
			}
		}
		way = appendPacked(way, wayRefs, refs)
		way = appendPacked(way, wayLat, lats)
		way = appendPacked(way, wayLon, lons)

		group = appendMessage(group, groupWays, way)
	}

	return encodePrimitiveBlock(st, group)
}

func encodePrimitiveBlock(st *stringTable, group []byte) []byte {
	var b []byte
	b = appendMessage(b, blockStringTable, st.encode())
	b = appendMessage(b, blockPrimitiveGroup, group)
	b = appendVarintField(b, blockGranularity, granularity)
	b = appendVarintField(b, blockDateGran, dateGranularity)
	return b
}

// toNano converts degrees to granularity units
func toNano(deg float64) int64 {
	return int64(math.Round(deg * coordScale))
}

// timestampUnits returns a timestamp in dateGranularity units, zero for unset times
func timestampUnits(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UnixMilli() / dateGranularity
}

func appendSint64(b []byte, v int64) []byte {
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendSint64Field(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return appendSint64(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// appendPacked writes a packed repeated field; empty fields are omitted
func appendPacked(b []byte, num protowire.Number, packed []byte) []byte {
	if len(packed) == 0 {
		return b
	}
	return appendMessage(b, num, packed)
}
