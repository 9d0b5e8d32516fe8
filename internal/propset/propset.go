// Package propset decodes OLE property set streams (MS-OLEPS), the format
// behind \x05SummaryInformation and \x05DocumentSummaryInformation. The
// decoder is lenient per property and strict per structure: an unknown
// variant type is preserved as raw bytes and reported, a broken header or
// an offset pointing outside the stream fails the whole parse.
package propset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/olekit/olekit/internal/codepage"
)

var (
	// ErrMalformed reports a structurally broken property set stream.
	ErrMalformed = errors.New("propset: malformed property set")
	// ErrUnsupportedType marks a property whose variant type has no
	// decoder. The property is still listed with its raw bytes.
	ErrUnsupportedType = errors.New("propset: unsupported property type")
)

// VarType is an OLE variant type code (VT_*).
type VarType uint32

const (
	VTEmpty    VarType = 0
	VTNull     VarType = 1
	VTI2       VarType = 2
	VTI4       VarType = 3
	VTR4       VarType = 4
	VTR8       VarType = 5
	VTBool     VarType = 11
	VTVariant  VarType = 12
	VTI1       VarType = 16
	VTUI1      VarType = 17
	VTUI2      VarType = 18
	VTUI4      VarType = 19
	VTI8       VarType = 20
	VTUI8      VarType = 21
	VTLPSTR    VarType = 30
	VTLPWSTR   VarType = 31
	VTFiletime VarType = 64
	VTBlob     VarType = 65
	VTCF       VarType = 71
	VTClSID    VarType = 72

	vtVector VarType = 0x1000
)

// Property is one decoded property. Value is nil when the type is
// unsupported; Raw then holds the undecoded payload so nothing is lost.
type Property struct {
	ID    uint32
	Name  string // well-known name for the set's FMTID, "" otherwise
	Type  VarType
	Value any
	Raw   []byte
	Err   error // ErrUnsupportedType when the decoder skipped this one
}

// Section is one property set section with its format identifier.
type Section struct {
	FMTID      uuid.UUID
	Codepage   uint16
	Properties []Property
}

// Get returns the decoded value for a property ID, nil if absent.
func (s *Section) Get(id uint32) any {
	for i := range s.Properties {
		if s.Properties[i].ID == id {
			return s.Properties[i].Value
		}
	}
	return nil
}

// PropertySet is a parsed property set stream.
type PropertySet struct {
	SystemID uint32
	CLSID    uuid.UUID
	Sections []Section
}

const (
	propsetByteOrder = 0xFFFE
	pidCodepage      = 0x00000001
	pidDictionary    = 0x00000000
	defaultCodepage  = 1252
)

// Parse decodes a property set stream.
func Parse(data []byte) (*PropertySet, error) {
	le := binary.LittleEndian
	if len(data) < 28 {
		return nil, fmt.Errorf("%w: stream of %d bytes cannot hold a header", ErrMalformed, len(data))
	}
	if bo := le.Uint16(data[0:2]); bo != propsetByteOrder {
		return nil, fmt.Errorf("%w: byte order 0x%04X", ErrMalformed, bo)
	}
	ps := &PropertySet{
		SystemID: le.Uint32(data[4:8]),
		CLSID:    clsidToUUID(data[8:24]),
	}
	numSets := le.Uint32(data[24:28])
	// Real writers emit one or two sections; anything bigger is hostile.
	if numSets == 0 || numSets > 4 {
		return nil, fmt.Errorf("%w: %d sections", ErrMalformed, numSets)
	}
	if len(data) < 28+int(numSets)*20 {
		return nil, fmt.Errorf("%w: section table past end of stream", ErrMalformed)
	}
	for i := 0; i < int(numSets); i++ {
		fmtid := clsidToUUID(data[28+i*20 : 44+i*20])
		off := le.Uint32(data[44+i*20 : 48+i*20])
		sec, err := parseSection(data, off, fmtid)
		if err != nil {
			return nil, err
		}
		ps.Sections = append(ps.Sections, *sec)
	}
	return ps, nil
}

func parseSection(data []byte, off uint32, fmtid uuid.UUID) (*Section, error) {
	le := binary.LittleEndian
	if int64(off)+8 > int64(len(data)) {
		return nil, fmt.Errorf("%w: section offset 0x%X past end of stream", ErrMalformed, off)
	}
	body := data[off:]
	size := le.Uint32(body[0:4])
	if size < 8 || int64(size) > int64(len(body)) {
		return nil, fmt.Errorf("%w: section size %d", ErrMalformed, size)
	}
	body = body[:size]
	count := le.Uint32(body[4:8])
	if 8+int64(count)*8 > int64(size) {
		return nil, fmt.Errorf("%w: %d properties exceed section size %d", ErrMalformed, count, size)
	}

	type slot struct {
		id  uint32
		off uint32
	}
	slots := make([]slot, 0, count)
	offs := make([]uint32, 0, count)
	for i := 0; i < int(count); i++ {
		id := le.Uint32(body[8+i*8:])
		po := le.Uint32(body[12+i*8:])
		if int64(po)+4 > int64(size) {
			return nil, fmt.Errorf("%w: property %d at offset 0x%X past section end", ErrMalformed, id, po)
		}
		slots = append(slots, slot{id: id, off: po})
		offs = append(offs, po)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	// upper bound of a property's payload: the next property's offset, or
	// the section end. Needed to carve raw bytes for unsupported types.
	boundFor := func(po uint32) uint32 {
		i := sort.Search(len(offs), func(i int) bool { return offs[i] > po })
		end := size
		if i < len(offs) {
			end = offs[i]
		}
		// A hostile table can place the next offset inside this
		// property's type field; the payload is then empty.
		if end < po+4 {
			end = po + 4
		}
		return end
	}

	sec := &Section{FMTID: fmtid, Codepage: defaultCodepage}
	// The codepage property governs VT_LPSTR decoding for the whole
	// section, so it is resolved before any string property.
	for _, sl := range slots {
		if sl.id != pidCodepage {
			continue
		}
		if v, err := decodeValue(body, sl.off, sec.Codepage, fmtid, sl.id); err == nil {
			switch cp := v.(type) {
			case int16:
				sec.Codepage = uint16(cp)
			case uint32:
				sec.Codepage = uint16(cp)
			}
		}
	}

	for _, sl := range slots {
		p := Property{
			ID:   sl.id,
			Name: propertyName(fmtid, sl.id),
			Type: VarType(le.Uint32(body[sl.off:])),
		}
		v, err := decodeValue(body, sl.off, sec.Codepage, fmtid, sl.id)
		switch {
		case err == nil:
			p.Value = v
		case errors.Is(err, ErrUnsupportedType):
			p.Err = err
			p.Raw = body[sl.off+4 : boundFor(sl.off)]
		default:
			return nil, err
		}
		sec.Properties = append(sec.Properties, p)
	}
	sort.Slice(sec.Properties, func(i, j int) bool { return sec.Properties[i].ID < sec.Properties[j].ID })
	return sec, nil
}

// decodeValue reads the typed value at off. Values that do not fit their
// declared payloads are structural failures.
func decodeValue(body []byte, off uint32, cp uint16, fmtid uuid.UUID, pid uint32) (any, error) {
	le := binary.LittleEndian
	vt := VarType(le.Uint32(body[off:]))
	val := body[off+4:]
	need := func(n int) error {
		if len(val) < n {
			return fmt.Errorf("%w: property %d type %d needs %d bytes, %d left", ErrMalformed, pid, vt, n, len(val))
		}
		return nil
	}
	switch vt {
	case VTEmpty, VTNull:
		return nil, nil
	case VTI2:
		if err := need(2); err != nil {
			return nil, err
		}
		return int16(le.Uint16(val)), nil
	case VTBool:
		if err := need(2); err != nil {
			return nil, err
		}
		return le.Uint16(val) != 0, nil
	case VTUI2:
		if err := need(2); err != nil {
			return nil, err
		}
		return le.Uint16(val), nil
	case VTI4:
		if err := need(4); err != nil {
			return nil, err
		}
		return int32(le.Uint32(val)), nil
	case VTI1:
		if err := need(1); err != nil {
			return nil, err
		}
		return int8(val[0]), nil
	case VTUI1:
		if err := need(1); err != nil {
			return nil, err
		}
		return val[0], nil
	case VTUI4:
		if err := need(4); err != nil {
			return nil, err
		}
		return le.Uint32(val), nil
	case VTI8:
		if err := need(8); err != nil {
			return nil, err
		}
		return int64(le.Uint64(val)), nil
	case VTUI8:
		if err := need(8); err != nil {
			return nil, err
		}
		return le.Uint64(val), nil
	case VTR4:
		if err := need(4); err != nil {
			return nil, err
		}
		return math.Float32frombits(le.Uint32(val)), nil
	case VTR8:
		if err := need(8); err != nil {
			return nil, err
		}
		return math.Float64frombits(le.Uint64(val)), nil
	case VTLPSTR:
		if err := need(4); err != nil {
			return nil, err
		}
		n := int(le.Uint32(val))
		if err := need(4 + n); err != nil {
			return nil, err
		}
		raw := val[4 : 4+n]
		for len(raw) > 0 && raw[len(raw)-1] == 0 {
			raw = raw[:len(raw)-1]
		}
		return codepage.Decode(raw, cp), nil
	case VTLPWSTR:
		if err := need(4); err != nil {
			return nil, err
		}
		n := int(le.Uint32(val)) // UTF-16 code units including terminator
		if err := need(4 + n*2); err != nil {
			return nil, err
		}
		u := make([]uint16, n)
		for i := 0; i < n; i++ {
			u[i] = le.Uint16(val[4+i*2:])
		}
		for len(u) > 0 && u[len(u)-1] == 0 {
			u = u[:len(u)-1]
		}
		return string(utf16.Decode(u)), nil
	case VTFiletime:
		if err := need(8); err != nil {
			return nil, err
		}
		ft := le.Uint64(val)
		// SummaryInformation's TotalEditTime is a duration stored in the
		// FILETIME slot, not a date.
		if fmtid == FMTIDSummaryInformation && pid == PIDEditTime {
			return time.Duration(ft * 100), nil
		}
		return filetimeToTime(ft), nil
	case VTBlob, VTCF:
		if err := need(4); err != nil {
			return nil, err
		}
		n := int(le.Uint32(val))
		if err := need(4 + n); err != nil {
			return nil, err
		}
		out := make([]byte, n)
		copy(out, val[4:4+n])
		return out, nil
	case VTClSID:
		if err := need(16); err != nil {
			return nil, err
		}
		return clsidToUUID(val[:16]), nil
	default:
		if vt&vtVector != 0 {
			return nil, fmt.Errorf("%w: vector type 0x%04X", ErrUnsupportedType, uint32(vt))
		}
		return nil, fmt.Errorf("%w: type 0x%04X", ErrUnsupportedType, uint32(vt))
	}
}

const filetimeEpochDelta = 116444736000000000

func filetimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - filetimeEpochDelta
	return time.Unix(ticks/1e7, (ticks%1e7)*100).UTC()
}

// clsidToUUID converts an on-disk little-endian CLSID to RFC 4122 order.
func clsidToUUID(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}
