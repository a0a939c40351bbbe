package record

import (
	"encoding/binary"
	"math"
	"time"
	"unicode/utf16"
)

const bplistTrailerSize = 32

// maxExpandedNodes bounds the size of the decoded tree. Shared references
// are decoded once, but a tree that repeats them can still expand
// exponentially for anything walking it.
const maxExpandedNodes = 1 << 20

// plistEpoch is the reference date of binary plist timestamps.
var plistEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

type binaryTrailer struct {
	offsetIntSize     int
	objectRefSize     int
	numObjects        uint64
	topObject         uint64
	offsetTableOffset uint64
}

type binaryReader struct {
	data    []byte
	trailer binaryTrailer
	limit   int
	// end of the object area; no object may extend past it
	objectsEnd uint64

	decoded map[uint64]decodedObject
	active  map[uint64]bool
}

// treeStats describes the subtree rooted at an object: its height and the
// number of nodes it expands to.
type treeStats struct {
	height int
	nodes  uint64
}

type decodedObject struct {
	v     Value
	stats treeStats
}

func (st *treeStats) add(child treeStats) error {
	if child.height+1 > st.height {
		st.height = child.height + 1
	}
	st.nodes += child.nodes
	if st.nodes > maxExpandedNodes {
		return malformed("object tree expands past %d nodes", maxExpandedNodes)
	}
	return nil
}

func decodeBinary(data []byte, limit int) (Value, error) {
	if len(data) < len(binaryMagic)+bplistTrailerSize {
		return Value{}, malformed("binary plist shorter than header and trailer")
	}
	t := data[len(data)-bplistTrailerSize:]
	tr := binaryTrailer{
		offsetIntSize:     int(t[6]),
		objectRefSize:     int(t[7]),
		numObjects:        binary.BigEndian.Uint64(t[8:16]),
		topObject:         binary.BigEndian.Uint64(t[16:24]),
		offsetTableOffset: binary.BigEndian.Uint64(t[24:32]),
	}
	if tr.offsetIntSize < 1 || tr.offsetIntSize > 8 || tr.objectRefSize < 1 || tr.objectRefSize > 8 {
		return Value{}, malformed("invalid trailer integer sizes %d/%d", tr.offsetIntSize, tr.objectRefSize)
	}
	if tr.numObjects == 0 || tr.topObject >= tr.numObjects {
		return Value{}, malformed("invalid object count %d (top %d)", tr.numObjects, tr.topObject)
	}
	tableEnd := uint64(len(data) - bplistTrailerSize)
	if tr.offsetTableOffset < uint64(len(binaryMagic)) || tr.offsetTableOffset > tableEnd {
		return Value{}, malformed("offset table at %d outside buffer", tr.offsetTableOffset)
	}
	if tr.numObjects > (tableEnd-tr.offsetTableOffset)/uint64(tr.offsetIntSize) {
		return Value{}, malformed("offset table overruns buffer")
	}

	r := &binaryReader{
		data:       data,
		trailer:    tr,
		limit:      limit,
		objectsEnd: tr.offsetTableOffset,
		decoded:    make(map[uint64]decodedObject),
		active:     make(map[uint64]bool),
	}
	v, _, err := r.object(tr.topObject, 0)
	return v, err
}

func (r *binaryReader) readUint(off uint64, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v = v<<8 | uint64(r.data[off+uint64(i)])
	}
	return v
}

func (r *binaryReader) offsetOf(ref uint64) (uint64, error) {
	if ref >= r.trailer.numObjects {
		return 0, malformed("object reference %d out of range", ref)
	}
	pos := r.trailer.offsetTableOffset + ref*uint64(r.trailer.offsetIntSize)
	off := r.readUint(pos, r.trailer.offsetIntSize)
	if off < uint64(len(binaryMagic)) || off >= r.objectsEnd {
		return 0, malformed("object %d offset %d outside object area", ref, off)
	}
	return off, nil
}

// need verifies that n bytes starting at off lie inside the object area.
func (r *binaryReader) need(off, n uint64) error {
	if n > r.objectsEnd || off > r.objectsEnd-n {
		return malformed("object at %d overruns buffer (%d bytes)", off, n)
	}
	return nil
}

// length decodes the element count that follows a marker. It returns the
// count and the offset of the first payload byte.
func (r *binaryReader) length(off uint64, low byte) (uint64, uint64, error) {
	if low != 0x0F {
		return uint64(low), off + 1, nil
	}
	if err := r.need(off+1, 1); err != nil {
		return 0, 0, err
	}
	m := r.data[off+1]
	if m>>4 != 0x1 {
		return 0, 0, malformed("expected integer length marker at %d, got 0x%02x", off+1, m)
	}
	size := uint64(1) << (m & 0x0F)
	if size > 8 {
		return 0, 0, malformed("length integer too wide at %d", off+1)
	}
	if err := r.need(off+2, size); err != nil {
		return 0, 0, err
	}
	return r.readUint(off+2, int(size)), off + 2 + size, nil
}

func (r *binaryReader) refs(start, count uint64) ([]uint64, error) {
	size := uint64(r.trailer.objectRefSize)
	if count > r.objectsEnd/size {
		return nil, malformed("reference list of %d entries overruns buffer", count)
	}
	if err := r.need(start, count*size); err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := uint64(0); i < count; i++ {
		out[i] = r.readUint(start+i*size, int(size))
	}
	return out, nil
}

// object decodes ref once and reuses the result for later references. A
// reference back to an object still being decoded is a cycle.
func (r *binaryReader) object(ref uint64, depth int) (Value, treeStats, error) {
	if depth > r.limit {
		return Value{}, treeStats{}, tooDeep(r.limit)
	}
	if d, ok := r.decoded[ref]; ok {
		if depth+d.stats.height > r.limit {
			return Value{}, treeStats{}, tooDeep(r.limit)
		}
		return d.v, d.stats, nil
	}
	if r.active[ref] {
		return Value{}, treeStats{}, cyclic(ref)
	}

	r.active[ref] = true
	st := treeStats{nodes: 1}
	v, err := r.decode(ref, depth, &st)
	delete(r.active, ref)
	if err != nil {
		return Value{}, treeStats{}, err
	}
	r.decoded[ref] = decodedObject{v: v, stats: st}
	return v, st, nil
}

// decode reads the object at ref. Containers add their children to st.
func (r *binaryReader) decode(ref uint64, depth int, st *treeStats) (Value, error) {
	off, err := r.offsetOf(ref)
	if err != nil {
		return Value{}, err
	}
	marker := r.data[off]
	high, low := marker>>4, marker&0x0F

	switch high {
	case 0x0:
		switch low {
		case 0x0:
			return Null(), nil
		case 0x8:
			return Bool(false), nil
		case 0x9:
			return Bool(true), nil
		}
		return Value{}, malformed("unknown singleton marker 0x%02x at %d", marker, off)

	case 0x1:
		if low > 4 {
			return Value{}, malformed("integer width 2^%d unsupported at %d", low, off)
		}
		size := uint64(1) << low
		if err := r.need(off+1, size); err != nil {
			return Value{}, err
		}
		switch size {
		case 8:
			return Integer(int64(r.readUint(off+1, 8))), nil
		case 16:
			// 128-bit integers only carry values that fit in the low half.
			return Integer(int64(r.readUint(off+9, 8))), nil
		}
		return Integer(int64(r.readUint(off+1, int(size)))), nil

	case 0x2:
		switch low {
		case 0x2:
			if err := r.need(off+1, 4); err != nil {
				return Value{}, err
			}
			return Real(float64(math.Float32frombits(uint32(r.readUint(off+1, 4))))), nil
		case 0x3:
			if err := r.need(off+1, 8); err != nil {
				return Value{}, err
			}
			return Real(math.Float64frombits(r.readUint(off+1, 8))), nil
		}
		return Value{}, malformed("real width 2^%d unsupported at %d", low, off)

	case 0x3:
		if low != 0x3 {
			return Value{}, malformed("invalid date marker 0x%02x at %d", marker, off)
		}
		if err := r.need(off+1, 8); err != nil {
			return Value{}, err
		}
		secs := math.Float64frombits(r.readUint(off+1, 8))
		return Date(plistEpoch.Add(time.Duration(secs * float64(time.Second)))), nil

	case 0x4:
		n, start, err := r.length(off, low)
		if err != nil {
			return Value{}, err
		}
		if err := r.need(start, n); err != nil {
			return Value{}, err
		}
		return Data(r.data[start : start+n]), nil

	case 0x5, 0x7:
		n, start, err := r.length(off, low)
		if err != nil {
			return Value{}, err
		}
		if err := r.need(start, n); err != nil {
			return Value{}, err
		}
		return String(string(r.data[start : start+n])), nil

	case 0x6:
		n, start, err := r.length(off, low)
		if err != nil {
			return Value{}, err
		}
		if n > r.objectsEnd/2 {
			return Value{}, malformed("utf-16 string at %d overruns buffer", off)
		}
		if err := r.need(start, n*2); err != nil {
			return Value{}, err
		}
		units := make([]uint16, n)
		for i := uint64(0); i < n; i++ {
			units[i] = binary.BigEndian.Uint16(r.data[start+i*2:])
		}
		return String(string(utf16.Decode(units))), nil

	case 0x8:
		size := uint64(low) + 1
		if size > 8 {
			return Value{}, malformed("uid width %d unsupported at %d", size, off)
		}
		if err := r.need(off+1, size); err != nil {
			return Value{}, err
		}
		return UID(r.readUint(off+1, int(size))), nil

	case 0xA, 0xB, 0xC:
		n, start, err := r.length(off, low)
		if err != nil {
			return Value{}, err
		}
		refs, err := r.refs(start, n)
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, len(refs))
		for _, child := range refs {
			v, cst, err := r.object(child, depth+1)
			if err != nil {
				return Value{}, err
			}
			if err := st.add(cst); err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{kind: KindArray, items: items}, nil

	case 0xD:
		n, start, err := r.length(off, low)
		if err != nil {
			return Value{}, err
		}
		if n > r.objectsEnd/2 {
			return Value{}, malformed("dictionary at %d overruns buffer", off)
		}
		refs, err := r.refs(start, n*2)
		if err != nil {
			return Value{}, err
		}
		m := NewMapping()
		for i := uint64(0); i < n; i++ {
			kv, kst, err := r.object(refs[i], depth+1)
			if err != nil {
				return Value{}, err
			}
			if err := st.add(kst); err != nil {
				return Value{}, err
			}
			key, ok := kv.AsString()
			if !ok {
				return Value{}, malformed("dictionary key at %d is %s, not string", off, kv.Kind())
			}
			val, vst, err := r.object(refs[n+i], depth+1)
			if err != nil {
				return Value{}, err
			}
			if err := st.add(vst); err != nil {
				return Value{}, err
			}
			if !m.Set(key, val) {
				return Value{}, malformed("duplicate key %q", key)
			}
		}
		return MappingValue(m), nil
	}

	return Value{}, malformed("unknown object marker 0x%02x at %d", marker, off)
}
