// Package cfbtest builds small synthetic compound files for tests. The
// builder emits version 3 containers (512-byte sectors) with a single FAT
// sector, which is plenty for fixtures and keeps the layout predictable:
// sector 0 is always the FAT, chains are allocated in registration order.
package cfbtest

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

const (
	sectorSize     = 512
	miniSectorSize = 64
	miniCutoff     = 4096
	dirEntryLen    = 128

	endOfChain = 0xFFFFFFFE
	freeSector = 0xFFFFFFFF
	fatSector  = 0xFFFFFFFD
)

type stream struct {
	name     string
	data     []byte
	declared uint64 // entry size field; defaults to len(data)
	orphan   bool
	storage  string // parent storage name, "" for root
}

type storage struct {
	name   string
	parent string
}

// Builder accumulates streams and storages and then produces the image.
type Builder struct {
	streams  []*stream
	storages []*storage
	rawDir   [][]byte // extra raw 128-byte entries appended to the directory
}

func New() *Builder { return &Builder{} }

// AddStream registers a stream under the root storage. Streams shorter
// than the mini cutoff are written through the mini stream.
func (b *Builder) AddStream(name string, data []byte) *Builder {
	b.streams = append(b.streams, &stream{name: name, data: data, declared: uint64(len(data))})
	return b
}

// AddStreamIn registers a stream under a (previously added) storage.
func (b *Builder) AddStreamIn(storageName, name string, data []byte) *Builder {
	b.streams = append(b.streams, &stream{name: name, data: data, declared: uint64(len(data)), storage: storageName})
	return b
}

// AddStorage registers a sub-storage under the root.
func (b *Builder) AddStorage(name string) *Builder {
	b.storages = append(b.storages, &storage{name: name})
	return b
}

// AddStorageIn registers a sub-storage under another storage.
func (b *Builder) AddStorageIn(parent, name string) *Builder {
	b.storages = append(b.storages, &storage{name: name, parent: parent})
	return b
}

// AddStreamDeclared registers a stream whose directory entry declares a
// size different from the bytes actually chained. Declared < len(data)
// leaves slack; declared > capacity produces a truncated stream.
func (b *Builder) AddStreamDeclared(name string, data []byte, declared uint64) *Builder {
	b.streams = append(b.streams, &stream{name: name, data: data, declared: declared})
	return b
}

// AddOrphanStream registers a stream with a live chain whose directory
// entry is not linked into the root tree.
func (b *Builder) AddOrphanStream(name string, data []byte) *Builder {
	b.streams = append(b.streams, &stream{name: name, data: data, declared: uint64(len(data)), orphan: true})
	return b
}

// AddFreeEntry appends an all-zero (unallocated) directory slot.
func (b *Builder) AddFreeEntry() *Builder {
	b.rawDir = append(b.rawDir, make([]byte, dirEntryLen))
	return b
}

// Fixture is the built image plus the sector positions tests need for
// targeted corruption.
type Fixture struct {
	Image          []byte
	FATSector      uint32 // always 0
	DirStart       uint32
	MiniFATStart   uint32
	MiniStreamHost uint32 // first sector of the mini stream, 0 if none
	StreamStart    map[string]uint32
}

// FATEntryOffset returns the image offset of the FAT slot for a sector.
func (f *Fixture) FATEntryOffset(sector uint32) int {
	return sectorSize + int(f.FATSector)*sectorSize + int(sector)*4
}

// DirEntryOffset returns the image offset of a directory entry.
func (f *Fixture) DirEntryOffset(sid int) int {
	return sectorSize + int(f.DirStart)*sectorSize + sid*dirEntryLen
}

type image struct {
	sectors [][]byte
	fat     []uint32
}

func (im *image) alloc() uint32 {
	id := uint32(len(im.sectors))
	im.sectors = append(im.sectors, make([]byte, sectorSize))
	im.fat = append(im.fat, freeSector)
	return id
}

func (im *image) writeChain(data []byte) uint32 {
	if len(data) == 0 {
		return endOfChain
	}
	first := uint32(endOfChain)
	prev := -1
	for off := 0; off < len(data); off += sectorSize {
		id := im.alloc()
		end := off + sectorSize
		if end > len(data) {
			end = len(data)
		}
		copy(im.sectors[id], data[off:end])
		if prev >= 0 {
			im.fat[prev] = id
		} else {
			first = id
		}
		prev = int(id)
	}
	im.fat[prev] = endOfChain
	return first
}

type miniArea struct {
	data    []byte
	miniFAT []uint32
}

func (m *miniArea) writeChain(data []byte) uint32 {
	if len(data) == 0 {
		return endOfChain
	}
	first := uint32(endOfChain)
	prev := -1
	for off := 0; off < len(data); off += miniSectorSize {
		id := uint32(len(m.miniFAT))
		m.miniFAT = append(m.miniFAT, endOfChain)
		chunk := make([]byte, miniSectorSize)
		end := off + miniSectorSize
		if end > len(data) {
			end = len(data)
		}
		copy(chunk, data[off:end])
		m.data = append(m.data, chunk...)
		if prev >= 0 {
			m.miniFAT[prev] = id
		} else {
			first = id
		}
		prev = int(id)
	}
	return first
}

// cfbLess is the directory name ordering: length first, then upper-cased
// UTF-16 comparison.
func cfbLess(a, b string) bool {
	ua, ub := utf16.Encode([]rune(strings.ToUpper(a))), utf16.Encode([]rune(strings.ToUpper(b)))
	if len(ua) != len(ub) {
		return len(ua) < len(ub)
	}
	for i := range ua {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return false
}

func dirEntry(name string, typ byte, left, right, child, start uint32, size uint64) []byte {
	b := make([]byte, dirEntryLen)
	le := binary.LittleEndian
	u := utf16.Encode([]rune(name))
	if len(u) > 31 {
		panic(fmt.Sprintf("cfbtest: name %q too long", name))
	}
	for i, cu := range u {
		le.PutUint16(b[i*2:], cu)
	}
	le.PutUint16(b[64:], uint16((len(u)+1)*2))
	b[66] = typ
	b[67] = 1 // black
	le.PutUint32(b[68:], left)
	le.PutUint32(b[72:], right)
	le.PutUint32(b[76:], child)
	le.PutUint32(b[116:], start)
	le.PutUint64(b[120:], size)
	return b
}

// Build assembles the container image.
func (b *Builder) Build() *Fixture {
	im := &image{}
	fatID := im.alloc() // sector 0 reserved for the FAT itself
	im.fat[fatID] = fatSector

	mini := &miniArea{}
	starts := make(map[string]uint32, len(b.streams))

	// Regular chains first so simple fixtures land at sector 1.
	for _, s := range b.streams {
		if len(s.data) >= miniCutoff || len(s.data) == 0 {
			starts[s.name] = im.writeChain(s.data)
		}
	}
	for _, s := range b.streams {
		if len(s.data) < miniCutoff && len(s.data) > 0 {
			starts[s.name] = mini.writeChain(s.data)
		}
	}

	miniHost := uint32(endOfChain)
	miniFATStart := uint32(endOfChain)
	numMiniFAT := uint32(0)
	if len(mini.data) > 0 {
		miniHost = im.writeChain(mini.data)
		fatBytes := make([]byte, 0, sectorSize)
		for _, v := range mini.miniFAT {
			fatBytes = binary.LittleEndian.AppendUint32(fatBytes, v)
		}
		for len(fatBytes)%sectorSize != 0 {
			fatBytes = binary.LittleEndian.AppendUint32(fatBytes, freeSector)
		}
		miniFATStart = im.writeChain(fatBytes)
		numMiniFAT = uint32(len(fatBytes) / sectorSize)
	}

	// Directory: entry 0 is the root, then storages, then streams, then
	// raw slots. Children of each storage are linked as a right-pointing
	// list in CFB name order, which is a degenerate but valid red-black
	// shape for in-order traversal.
	type node struct {
		sid  int
		name string
	}
	sidOf := map[string]int{"": 0}
	entryCount := 1 + len(b.storages) + len(b.streams) + len(b.rawDir)
	raw := make([][]byte, entryCount)
	kids := map[string][]node{}

	sid := 1
	for _, st := range b.storages {
		sidOf[st.name] = sid
		kids[st.parent] = append(kids[st.parent], node{sid: sid, name: st.name})
		sid++
	}
	streamSID := make(map[string]int, len(b.streams))
	for _, s := range b.streams {
		streamSID[s.name] = sid
		if !s.orphan {
			kids[s.storage] = append(kids[s.storage], node{sid: sid, name: s.name})
		}
		sid++
	}

	sortNodes := func(list []node) []node {
		sorted := append([]node(nil), list...)
		for i := 1; i < len(sorted); i++ {
			for j := i; j > 0 && cfbLess(sorted[j].name, sorted[j-1].name); j-- {
				sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			}
		}
		return sorted
	}
	link := func(list []node) uint32 {
		if len(list) == 0 {
			return freeSector
		}
		return uint32(sortNodes(list)[0].sid)
	}
	rightOf := make(map[int]uint32)
	for _, list := range kids {
		sorted := sortNodes(list)
		for i := 0; i < len(sorted)-1; i++ {
			rightOf[sorted[i].sid] = uint32(sorted[i+1].sid)
		}
		rightOf[sorted[len(sorted)-1].sid] = freeSector
	}
	rightLink := func(sid int) uint32 {
		if r, ok := rightOf[sid]; ok {
			return r
		}
		return freeSector
	}

	rootStart := miniHost
	raw[0] = dirEntry("Root Entry", 5, freeSector, freeSector, link(kids[""]), rootStart, uint64(len(mini.data)))
	for _, st := range b.storages {
		s := sidOf[st.name]
		raw[s] = dirEntry(st.name, 1, freeSector, rightLink(s), link(kids[st.name]), 0, 0)
	}
	for _, s := range b.streams {
		id := streamSID[s.name]
		right := rightLink(id)
		if s.orphan {
			right = freeSector
		}
		raw[id] = dirEntry(s.name, 2, freeSector, right, freeSector, starts[s.name], s.declared)
	}
	for i, r := range b.rawDir {
		raw[1+len(b.storages)+len(b.streams)+i] = r
	}

	dirBytes := make([]byte, 0, entryCount*dirEntryLen)
	for _, r := range raw {
		dirBytes = append(dirBytes, r...)
	}
	for len(dirBytes)%sectorSize != 0 {
		pad := make([]byte, dirEntryLen)
		dirBytes = append(dirBytes, pad...)
	}
	dirStart := im.writeChain(dirBytes)

	if len(im.fat) > sectorSize/4 {
		panic("cfbtest: fixture needs more than one FAT sector")
	}

	le := binary.LittleEndian
	for i, v := range im.fat {
		le.PutUint32(im.sectors[fatID][i*4:], v)
	}
	for i := len(im.fat); i < sectorSize/4; i++ {
		le.PutUint32(im.sectors[fatID][i*4:], freeSector)
	}

	hdr := make([]byte, sectorSize)
	copy(hdr, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	le.PutUint16(hdr[24:], 0x003E) // minor version
	le.PutUint16(hdr[26:], 3)      // major version
	le.PutUint16(hdr[28:], 0xFFFE) // byte order
	le.PutUint16(hdr[30:], 9)      // sector shift
	le.PutUint16(hdr[32:], 6)      // mini sector shift
	le.PutUint32(hdr[44:], 1)      // one FAT sector
	le.PutUint32(hdr[48:], dirStart)
	le.PutUint32(hdr[56:], miniCutoff)
	le.PutUint32(hdr[60:], miniFATStart)
	le.PutUint32(hdr[64:], numMiniFAT)
	le.PutUint32(hdr[68:], endOfChain) // no DIFAT chain
	le.PutUint32(hdr[76:], uint32(fatID))
	for i := 1; i < 109; i++ {
		le.PutUint32(hdr[76+i*4:], freeSector)
	}

	img := append([]byte(nil), hdr...)
	for _, s := range im.sectors {
		img = append(img, s...)
	}

	fx := &Fixture{
		Image:        img,
		FATSector:    fatID,
		DirStart:     dirStart,
		MiniFATStart: miniFATStart,
		StreamStart:  starts,
	}
	if miniHost != endOfChain {
		fx.MiniStreamHost = miniHost
	}
	return fx
}
