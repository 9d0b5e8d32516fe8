package cfb_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/olekit/olekit/internal/cfb"
	"github.com/olekit/olekit/internal/cfb/cfbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pattern fills a buffer with a non-repeating byte sequence so off-by-one
// sector math shows up as content mismatches, not just length mismatches.
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func TestOpenRoundTrip(t *testing.T) {
	big := pattern(5000)
	small := []byte("hello mini")

	fx := cfbtest.New().
		AddStream("BigStream", big).
		AddStream("Tiny", small).
		AddStream("Empty", nil).
		AddStorage("Macros").
		AddStorageIn("Macros", "VBA").
		AddStreamIn("VBA", "dir", []byte("module table")).
		Build()

	c, err := cfb.Open(fx.Image)
	require.NoError(t, err)

	assert.Equal(t, "Root Entry", c.Root().Name)
	assert.Equal(t, 512, c.SectorSize())

	got, err := c.ReadStream("BigStream")
	require.NoError(t, err)
	assert.Equal(t, big, got)

	got, err = c.ReadStream("Tiny")
	require.NoError(t, err)
	assert.Equal(t, small, got)

	got, err = c.ReadStream("Empty")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = c.ReadStream("Macros/VBA/dir")
	require.NoError(t, err)
	assert.Equal(t, []byte("module table"), got)

	e, err := c.EntryByPath("macros/vba/DIR")
	require.NoError(t, err, "path lookup is case-insensitive")
	assert.Equal(t, []string{"Macros", "VBA", "dir"}, e.Path)
	assert.Equal(t, cfb.TypeStream, e.Type)

	_, err = c.EntryByPath("Macros/NoSuch")
	assert.ErrorIs(t, err, cfb.ErrNotFound)
	assert.True(t, c.Exists("Macros/VBA"))
	assert.False(t, c.Exists("VBA"))
}

func TestEntriesDeterministic(t *testing.T) {
	fx := cfbtest.New().
		AddStream("bb", []byte("1")).
		AddStream("a", []byte("2")).
		AddStream("ba", []byte("3")).
		AddFreeEntry().
		Build()

	c, err := cfb.Open(fx.Image)
	require.NoError(t, err)

	paths := func() []string {
		var out []string
		for _, e := range c.Entries() {
			out = append(out, e.PathString())
		}
		return out
	}

	first := paths()
	// Shorter names sort before longer ones regardless of content.
	assert.Equal(t, []string{"Root Entry", "a", "ba", "bb", ""}, first)
	assert.Equal(t, first, paths(), "repeated enumeration is stable")

	var orphans int
	require.NoError(t, c.Walk(func(e *cfb.DirEntry) error {
		if e.Orphaned {
			orphans++
		}
		return nil
	}))
	assert.Equal(t, 1, orphans, "the free slot is surfaced as orphaned")
}

func TestStreamReadSeek(t *testing.T) {
	data := pattern(5000)
	fx := cfbtest.New().AddStream("s", data).Build()
	c, err := cfb.Open(fx.Image)
	require.NoError(t, err)

	s, err := c.OpenPath("s")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), s.Size())

	all, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, data, all)

	// ReadAt across a sector boundary.
	buf := make([]byte, 100)
	n, err := s.ReadAt(buf, 480)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[480:580], buf)

	pos, err := s.Seek(-100, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(4900), pos)
	tail, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, data[4900:], tail)

	_, err = s.ReadAt(buf, 5000)
	assert.Equal(t, io.EOF, err)
}

func TestStreamSlack(t *testing.T) {
	data := pattern(100)
	fx := cfbtest.New().AddStreamDeclared("sl", data, 90).Build()
	c, err := cfb.Open(fx.Image)
	require.NoError(t, err)

	s, err := c.OpenPath("sl")
	require.NoError(t, err)

	content, err := s.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data[:90], content, "reads stop at the declared size")

	slack, err := s.Slack()
	require.NoError(t, err)
	// Two mini sectors were chained: 128 bytes capacity, 90 declared.
	require.Len(t, slack, 38)
	assert.Equal(t, data[90:], slack[:10], "slack exposes bytes past the declared size")
	assert.Equal(t, make([]byte, 28), slack[10:])
}

func TestTruncatedStream(t *testing.T) {
	t.Run("regular", func(t *testing.T) {
		fx := cfbtest.New().AddStreamDeclared("t", pattern(4608), 9000).Build()
		c, err := cfb.Open(fx.Image)
		require.NoError(t, err)

		_, err = c.OpenPath("t")
		require.ErrorIs(t, err, cfb.ErrTruncatedStream)
		var te *cfb.TruncatedStreamError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, uint64(9000), te.Declared)
		assert.Equal(t, uint64(4608), te.Actual)
	})

	t.Run("mini", func(t *testing.T) {
		fx := cfbtest.New().AddStreamDeclared("mt", pattern(100), 200).Build()
		c, err := cfb.Open(fx.Image)
		require.NoError(t, err)

		_, err = c.OpenPath("mt")
		assert.ErrorIs(t, err, cfb.ErrTruncatedStream)
	})
}

// A file cut off mid-sector still counts that short tail as a sector.
// Reads of a mini stream hosted there must error, never slice past the
// buffer.
func TestShortFinalMiniHostSector(t *testing.T) {
	fx := cfbtest.New().AddStream("Tiny", pattern(100)).Build()

	// Append a short sector and rehome the mini stream host into it.
	short := uint32((len(fx.Image) - 512) / 512)
	img := append(append([]byte(nil), fx.Image...), pattern(80)...)
	binary.LittleEndian.PutUint32(img[fx.FATEntryOffset(short):], uint32(cfb.EndOfChain))
	binary.LittleEndian.PutUint32(img[fx.DirEntryOffset(0)+116:], short)

	c, err := cfb.Open(img)
	require.NoError(t, err)

	s, err := c.OpenPath("Tiny")
	require.NoError(t, err)
	_, err = io.ReadAll(s)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCyclicChain(t *testing.T) {
	fx := cfbtest.New().AddStream("big", pattern(5000)).Build()
	start := fx.StreamStart["big"]

	// Point the fifth sector of the chain back at the second.
	binary.LittleEndian.PutUint32(fx.Image[fx.FATEntryOffset(start+4):], start+1)

	c, err := cfb.Open(fx.Image)
	require.NoError(t, err, "the directory itself is intact")

	_, err = c.OpenPath("big")
	require.ErrorIs(t, err, cfb.ErrCorruptChain)
	var ce *cfb.ChainError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "cycle detected", ce.Reason)
}

func TestChainLengthLimit(t *testing.T) {
	fx := cfbtest.New().AddStream("big", pattern(5000)).Build()
	c, err := cfb.Open(fx.Image, cfb.WithMaxChainLength(3))
	require.NoError(t, err)

	_, err = c.OpenPath("big")
	assert.ErrorIs(t, err, cfb.ErrTraversalLimit)
}

func TestDirEntriesLimit(t *testing.T) {
	fx := cfbtest.New().AddStream("a", []byte("x")).Build()
	_, err := cfb.Open(fx.Image, cfb.WithMaxDirEntries(2))
	assert.ErrorIs(t, err, cfb.ErrTraversalLimit)
}

func TestHeaderRejection(t *testing.T) {
	valid := cfbtest.New().AddStream("s", []byte("x")).Build().Image

	tests := []struct {
		name    string
		mutate  func(img []byte)
		wantErr error
	}{
		{
			name:    "bad signature",
			mutate:  func(img []byte) { img[0] = 0x4D },
			wantErr: cfb.ErrInvalidSignature,
		},
		{
			name:    "bad byte order",
			mutate:  func(img []byte) { binary.LittleEndian.PutUint16(img[28:], 0xFEFF) },
			wantErr: cfb.ErrHeaderOutOfRange,
		},
		{
			name:    "sector shift out of range",
			mutate:  func(img []byte) { binary.LittleEndian.PutUint16(img[30:], 15) },
			wantErr: cfb.ErrHeaderOutOfRange,
		},
		{
			name:    "unknown major version",
			mutate:  func(img []byte) { binary.LittleEndian.PutUint16(img[26:], 7) },
			wantErr: cfb.ErrHeaderOutOfRange,
		},
		{
			name:    "bad mini cutoff",
			mutate:  func(img []byte) { binary.LittleEndian.PutUint32(img[56:], 512) },
			wantErr: cfb.ErrHeaderOutOfRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := append([]byte(nil), valid...)
			tt.mutate(img)
			_, err := cfb.Open(img)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := cfb.Open([]byte("short"))
	assert.ErrorIs(t, err, cfb.ErrHeaderOutOfRange)
}

func TestMalformedDirectory(t *testing.T) {
	build := func() *cfbtest.Fixture {
		return cfbtest.New().
			AddStream("a", []byte("1")).
			AddStream("b", []byte("2")).
			AddStream("c", []byte("3")).
			Build()
	}

	t.Run("missing root", func(t *testing.T) {
		fx := build()
		fx.Image[fx.DirEntryOffset(0)+66] = 1 // root slot becomes a storage
		_, err := cfb.Open(fx.Image)
		assert.ErrorIs(t, err, cfb.ErrMalformedDirectory)
	})

	t.Run("duplicate root", func(t *testing.T) {
		fx := build()
		fx.Image[fx.DirEntryOffset(1)+66] = 5
		_, err := cfb.Open(fx.Image)
		assert.ErrorIs(t, err, cfb.ErrMalformedDirectory)
	})

	t.Run("sibling cycle", func(t *testing.T) {
		fx := build()
		// Entry 2 ("b") points its right sibling at itself.
		binary.LittleEndian.PutUint32(fx.Image[fx.DirEntryOffset(2)+72:], 2)
		_, err := cfb.Open(fx.Image)
		require.ErrorIs(t, err, cfb.ErrMalformedDirectory)
		var de *cfb.DirectoryError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "cycle in sibling links", de.Reason)
	})
}

func TestOrphanedEntries(t *testing.T) {
	fx := cfbtest.New().
		AddStream("big", pattern(5000)).
		AddOrphanStream("ghost", pattern(4200)).
		Build()

	c, err := cfb.Open(fx.Image)
	require.NoError(t, err)

	entries := c.Entries()
	require.Len(t, entries, 3)
	ghost := entries[2]
	assert.Equal(t, "ghost", ghost.Name)
	assert.True(t, ghost.Orphaned)

	_, err = c.EntryByPath("ghost")
	assert.ErrorIs(t, err, cfb.ErrNotFound, "orphans are not addressable by path")

	// The chain is still readable through the entry itself.
	s, err := c.Open(ghost)
	require.NoError(t, err)
	got, err := s.Bytes()
	require.NoError(t, err)
	assert.Equal(t, pattern(4200), got)
}

func TestSectorMap(t *testing.T) {
	fx := cfbtest.New().
		AddStream("big", pattern(5000)). // sectors 1..10
		AddStream("small", pattern(10)). // one mini sector
		Build()

	c, err := cfb.Open(fx.Image)
	require.NoError(t, err)

	m := c.SectorMap()
	require.Len(t, m, c.NumSectors())

	assert.Equal(t, cfb.SectorFAT, m[0])
	for i := 1; i <= 10; i++ {
		assert.Equalf(t, cfb.SectorStream, m[i], "sector %d", i)
	}
	assert.Equal(t, cfb.SectorMiniStream, m[fx.MiniStreamHost])
	assert.Equal(t, cfb.SectorMiniFAT, m[fx.MiniFATStart])
	assert.Equal(t, cfb.SectorDirectory, m[fx.DirStart])
}

func TestSectorMapOrphans(t *testing.T) {
	fx := cfbtest.New().
		AddStream("big", pattern(5000)).
		AddOrphanStream("ghost", pattern(4200)).
		Build()

	c, err := cfb.Open(fx.Image)
	require.NoError(t, err)

	m := c.SectorMap()
	start := int(fx.StreamStart["ghost"])
	for i := start; i < start+9; i++ {
		assert.Equalf(t, cfb.SectorOrphaned, m[i], "sector %d", i)
	}
	assert.Equal(t, "orphaned", cfb.SectorOrphaned.String())
}

func TestIsCompoundFile(t *testing.T) {
	fx := cfbtest.New().AddStream("s", []byte("x")).Build()
	assert.True(t, cfb.IsCompoundFile(fx.Image))
	assert.False(t, cfb.IsCompoundFile([]byte("PK\x03\x04")))
	assert.False(t, cfb.IsCompoundFile(nil))
	assert.False(t, cfb.IsCompoundFile(bytes.Repeat([]byte{0xD0}, 16)))
}

func TestOpenNonStream(t *testing.T) {
	fx := cfbtest.New().AddStorage("dirOnly").Build()
	c, err := cfb.Open(fx.Image)
	require.NoError(t, err)

	e, err := c.EntryByPath("dirOnly")
	require.NoError(t, err)
	_, err = c.Open(e)
	assert.ErrorIs(t, err, cfb.ErrNotStream)

	_, err = c.OpenPath("dirOnly")
	assert.ErrorIs(t, err, cfb.ErrNotStream)
}
