package propset_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/olekit/olekit/internal/cfb"
	"github.com/olekit/olekit/internal/cfb/cfbtest"
	"github.com/olekit/olekit/internal/propset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prop struct {
	id      uint32
	payload []byte // type field included
}

func typed(vt uint32, payload ...byte) []byte {
	out := binary.LittleEndian.AppendUint32(nil, vt)
	return append(out, payload...)
}

func vtI2(v int16) []byte { return typed(2, byte(v), byte(v>>8), 0, 0) }
func vtI4(v int32) []byte { return typed(3, byte(v), byte(v>>8), byte(v>>16), byte(v>>24)) }

func vtLPSTR(raw []byte) []byte {
	out := typed(30)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(raw)+1))
	out = append(out, raw...)
	return append(out, 0)
}

func vtLPWSTR(s string) []byte {
	out := typed(31)
	u := []rune(s)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(u)+1))
	for _, r := range u {
		out = binary.LittleEndian.AppendUint16(out, uint16(r))
	}
	return binary.LittleEndian.AppendUint16(out, 0)
}

func vtFiletime(ft uint64) []byte {
	return binary.LittleEndian.AppendUint64(typed(64), ft)
}

// uuidToCLSID writes a UUID in the on-disk little-endian CLSID order.
func uuidToCLSID(u uuid.UUID) []byte {
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}

func buildStream(fmtid uuid.UUID, props []prop) []byte {
	le := binary.LittleEndian
	out := le.AppendUint16(nil, 0xFFFE) // byte order
	out = le.AppendUint16(out, 0)       // format version
	out = le.AppendUint32(out, 0x00020006)
	out = append(out, make([]byte, 16)...) // CLSID
	out = le.AppendUint32(out, 1)          // one section
	out = append(out, uuidToCLSID(fmtid)...)
	out = le.AppendUint32(out, uint32(len(out)+4)) // section follows immediately

	head := 8 + 8*len(props)
	body := make([]byte, head)
	for i, p := range props {
		le.PutUint32(body[8+i*8:], p.id)
		le.PutUint32(body[12+i*8:], uint32(len(body)))
		body = append(body, p.payload...)
		for len(body)%4 != 0 {
			body = append(body, 0)
		}
	}
	le.PutUint32(body[0:], uint32(len(body)))
	le.PutUint32(body[4:], uint32(len(props)))
	return append(out, body...)
}

// 2020-05-01 00:00:00 UTC in FILETIME ticks.
const ftMay2020 = uint64(132327648000000000)

func TestParseSummaryInformation(t *testing.T) {
	stream := buildStream(propset.FMTIDSummaryInformation, []prop{
		{1, vtI2(1252)},
		{propset.PIDTitle, vtLPSTR([]byte("Quarterly Report"))},
		{propset.PIDAuthor, vtLPSTR([]byte("M. Curie"))},
		{propset.PIDPageCount, vtI4(42)},
		{propset.PIDCreated, vtFiletime(ftMay2020)},
		{propset.PIDEditTime, vtFiletime(600 * 10_000_000)}, // ten minutes
	})

	ps, err := propset.Parse(stream)
	require.NoError(t, err)
	require.Len(t, ps.Sections, 1)

	sec := ps.Sections[0]
	assert.Equal(t, propset.FMTIDSummaryInformation, sec.FMTID)
	assert.Equal(t, uint16(1252), sec.Codepage)

	assert.Equal(t, "Quarterly Report", sec.Get(propset.PIDTitle))
	assert.Equal(t, "M. Curie", sec.Get(propset.PIDAuthor))
	assert.Equal(t, int32(42), sec.Get(propset.PIDPageCount))
	assert.Equal(t, time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC), sec.Get(propset.PIDCreated))
	assert.Equal(t, 10*time.Minute, sec.Get(propset.PIDEditTime),
		"edit time is a duration, not a date")

	for _, p := range sec.Properties {
		if p.ID == propset.PIDTitle {
			assert.Equal(t, "Title", p.Name)
		}
	}
}

func TestParseStrings(t *testing.T) {
	// 0xC0 is CYRILLIC CAPITAL LETTER A in Windows-1251.
	stream := buildStream(propset.FMTIDSummaryInformation, []prop{
		{1, vtI2(1251)},
		{propset.PIDTitle, vtLPSTR([]byte{0xC0, 0x42})},
		{propset.PIDSubject, vtLPWSTR("Ünïcode")},
	})

	ps, err := propset.Parse(stream)
	require.NoError(t, err)
	sec := ps.Sections[0]
	assert.Equal(t, "АB", sec.Get(propset.PIDTitle))
	assert.Equal(t, "Ünïcode", sec.Get(propset.PIDSubject))
}

func TestUnsupportedTypePreserved(t *testing.T) {
	vectorPayload := typed(0x100C, 0xDE, 0xAD, 0xBE, 0xEF) // VT_VECTOR|VT_VARIANT
	stream := buildStream(propset.FMTIDSummaryInformation, []prop{
		{propset.PIDTitle, vtLPSTR([]byte("still here"))},
		{99, vectorPayload},
	})

	ps, err := propset.Parse(stream)
	require.NoError(t, err, "an unsupported property never fails the parse")
	sec := ps.Sections[0]

	assert.Equal(t, "still here", sec.Get(propset.PIDTitle))

	var odd *propset.Property
	for i := range sec.Properties {
		if sec.Properties[i].ID == 99 {
			odd = &sec.Properties[i]
		}
	}
	require.NotNil(t, odd)
	assert.ErrorIs(t, odd.Err, propset.ErrUnsupportedType)
	assert.Nil(t, odd.Value)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, odd.Raw[:4],
		"raw payload survives for unknown types")
}

func TestOverlappingPropertyOffsets(t *testing.T) {
	stream := buildStream(propset.FMTIDSummaryInformation, []prop{
		{40, typed(0x100C, 0xDE, 0xAD, 0xBE, 0xEF)},
		{41, typed(0x100C, 1, 2, 3, 4)},
	})
	// Move the second property inside the first one's type field. The
	// first property's payload is then empty, not inverted.
	binary.LittleEndian.PutUint32(stream[48+20:], 26)

	ps, err := propset.Parse(stream)
	require.NoError(t, err)

	sec := ps.Sections[0]
	for i := range sec.Properties {
		p := sec.Properties[i]
		assert.ErrorIs(t, p.Err, propset.ErrUnsupportedType)
		if p.ID == 40 {
			assert.Empty(t, p.Raw)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	valid := buildStream(propset.FMTIDSummaryInformation, []prop{
		{propset.PIDTitle, vtLPSTR([]byte("x"))},
	})

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"truncated header", func(b []byte) []byte { return b[:20] }},
		{"bad byte order", func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[0:], 0xFEFF)
			return b
		}},
		{"section offset past end", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[44:], uint32(len(b)+100))
			return b
		}},
		{"property count wraps 32 bits", func(b []byte) []byte {
			// count lives right after the section size at offset 48.
			binary.LittleEndian.PutUint32(b[52:], 0x20000000)
			return b
		}},
		{"lpstr length past section", func(b []byte) []byte {
			// The LPSTR length field sits after the section header, the
			// property table and the 4-byte type.
			off := 48 + 8 + 8 + 4
			binary.LittleEndian.PutUint32(b[off:], 0xFFFF)
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(append([]byte(nil), valid...))
			_, err := propset.Parse(b)
			assert.ErrorIs(t, err, propset.ErrMalformed)
		})
	}
}

func TestReadFromContainer(t *testing.T) {
	stream := buildStream(propset.FMTIDSummaryInformation, []prop{
		{1, vtI2(1252)},
		{propset.PIDTitle, vtLPSTR([]byte("In Container"))},
	})
	fx := cfbtest.New().
		AddStream("\x05SummaryInformation", stream).
		AddStream("WordDocument", []byte("body")).
		Build()

	c, err := cfb.Open(fx.Image)
	require.NoError(t, err)

	found := propset.Find(c)
	require.Len(t, found, 1)
	assert.Equal(t, propset.SummaryStreamName, found[0].Name)

	ps, ok, err := propset.ReadSummary(c)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "In Container", ps.Sections[0].Get(propset.PIDTitle))

	_, ok, err = propset.ReadDocSummary(c)
	require.NoError(t, err)
	assert.False(t, ok)
}
