package cfb

import (
	"encoding/binary"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

// EntryType is the object type byte of a directory entry.
type EntryType uint8

const (
	TypeEmpty     EntryType = 0 // unallocated slot, retained for diagnostics
	TypeStorage   EntryType = 1
	TypeStream    EntryType = 2
	TypeLockBytes EntryType = 3
	TypeProperty  EntryType = 4
	TypeRoot      EntryType = 5
)

func (t EntryType) String() string {
	switch t {
	case TypeEmpty:
		return "empty"
	case TypeStorage:
		return "storage"
	case TypeStream:
		return "stream"
	case TypeLockBytes:
		return "lockbytes"
	case TypeProperty:
		return "property"
	case TypeRoot:
		return "root"
	}
	return "invalid"
}

// noStream is the null value for sibling/child stream IDs.
const noStream uint32 = 0xFFFFFFFF

// DirEntry is one 128-byte directory entry. Entries live in an arena
// indexed by stream ID; Left, Right and Child are indices into that arena
// (noStream when absent) rather than pointers, which keeps cycle detection
// a plain visited-set check.
type DirEntry struct {
	ID   int
	Name string
	Type EntryType

	Left  uint32
	Right uint32
	Child uint32

	CLSID       uuid.UUID
	StateBits   uint32
	Created     time.Time
	Modified    time.Time
	StartSector SectorID
	Size        uint64

	// Orphaned marks entries not reachable from the root storage tree,
	// including unallocated slots kept as padding.
	Orphaned bool

	// Path holds the storage names from the root down to this entry,
	// excluding the root itself and including the entry's own name.
	Path []string

	children []int
}

// PathString joins the entry path with "/" separators.
func (e *DirEntry) PathString() string { return strings.Join(e.Path, "/") }

func parseDirEntry(b []byte, id int, v3 bool) *DirEntry {
	le := binary.LittleEndian
	e := &DirEntry{
		ID:          id,
		Type:        EntryType(b[66]),
		Left:        le.Uint32(b[68:72]),
		Right:       le.Uint32(b[72:76]),
		Child:       le.Uint32(b[76:80]),
		CLSID:       clsidToUUID(b[80:96]),
		StateBits:   le.Uint32(b[96:100]),
		Created:     filetimeToTime(le.Uint64(b[100:108])),
		Modified:    filetimeToTime(le.Uint64(b[108:116])),
		StartSector: SectorID(le.Uint32(b[116:120])),
		Size:        le.Uint64(b[120:128]),
	}
	if v3 {
		// Version 3 writers leave garbage in the upper half of the size.
		e.Size &= 0xFFFFFFFF
	}
	nameLen := int(le.Uint16(b[64:66]))
	if nameLen >= 2 && nameLen <= 64 {
		u := make([]uint16, nameLen/2-1) // drop the UTF-16 null terminator
		for i := range u {
			u[i] = le.Uint16(b[i*2 : i*2+2])
		}
		e.Name = string(utf16.Decode(u))
	}
	return e
}

// compareNames is the MS-CFB directory ordering: shorter names sort first,
// equal lengths compare by upper-cased UTF-16 code units. Sibling order in
// listings must reproduce this rule exactly.
func compareNames(a, b string) int {
	ua, ub := utf16.Encode([]rune(strings.ToUpper(a))), utf16.Encode([]rune(strings.ToUpper(b)))
	if len(ua) != len(ub) {
		if len(ua) < len(ub) {
			return -1
		}
		return 1
	}
	for i := range ua {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// loadDirectory reads the directory chain and parses the entry arena.
func (c *Container) loadDirectory() error {
	chain, err := c.walkChain("fat", c.header.firstDirSector, c.fat)
	if err != nil {
		return err
	}
	c.dirSectors = chain
	perSector := c.sectorSize / dirEntryLen
	if len(chain)*perSector > c.limits.maxDirEntries {
		return &LimitError{What: "directory", Limit: c.limits.maxDirEntries}
	}
	v3 := c.header.majorVersion == versionThree
	for _, s := range chain {
		buf, err := c.readSector(s)
		if err != nil {
			return err
		}
		for i := 0; i+dirEntryLen <= len(buf); i += dirEntryLen {
			c.entries = append(c.entries, parseDirEntry(buf[i:i+dirEntryLen], len(c.entries), v3))
		}
	}
	if len(c.entries) == 0 {
		return &DirectoryError{Entry: -1, Reason: "empty directory stream"}
	}
	return c.buildTree()
}

// buildTree links every storage's red-black sibling tree into children
// lists and flags everything left over as orphaned. Cycles in sibling or
// child links and duplicated or missing roots are structural failures.
func (c *Container) buildTree() error {
	if c.entries[0].Type != TypeRoot {
		return &DirectoryError{Entry: 0, Reason: "first entry is not a root storage"}
	}
	for i, e := range c.entries[1:] {
		if e.Type == TypeRoot {
			return &DirectoryError{Entry: i + 1, Reason: "duplicate root entry"}
		}
	}

	visited := make([]bool, len(c.entries))
	visited[0] = true

	var fill func(parent *DirEntry) error
	fill = func(parent *DirEntry) error {
		if parent.Child == noStream {
			return nil
		}
		// In-order traversal of the sibling tree, iteratively, so crafted
		// deep trees cannot blow the stack.
		type frame struct {
			sid      uint32
			expanded bool
		}
		stack := []frame{{sid: parent.Child}}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if f.sid == noStream {
				continue
			}
			if int(f.sid) >= len(c.entries) {
				return &DirectoryError{Entry: int(f.sid), Reason: "sibling link out of range"}
			}
			e := c.entries[f.sid]
			if f.expanded {
				parent.children = append(parent.children, int(f.sid))
				continue
			}
			if visited[f.sid] {
				return &DirectoryError{Entry: int(f.sid), Reason: "cycle in sibling links"}
			}
			if len(parent.children)+len(stack) > c.limits.maxDirEntries {
				return &LimitError{What: "sibling tree", Limit: c.limits.maxDirEntries}
			}
			visited[f.sid] = true
			stack = append(stack, frame{sid: e.Right})
			stack = append(stack, frame{sid: f.sid, expanded: true})
			stack = append(stack, frame{sid: e.Left})
		}
		// The on-disk tree should already be ordered; sorting by the CFB
		// comparison rule keeps listings deterministic even when it is not.
		sort.SliceStable(parent.children, func(i, j int) bool {
			return compareNames(c.entries[parent.children[i]].Name, c.entries[parent.children[j]].Name) < 0
		})
		for _, kid := range parent.children {
			e := c.entries[kid]
			e.Path = append(append([]string(nil), parent.Path...), e.Name)
			if e.Type == TypeStorage || e.Type == TypeRoot {
				if err := fill(e); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := fill(c.entries[0]); err != nil {
		return err
	}
	// Children carry rootless paths; the root names itself.
	c.entries[0].Path = []string{c.entries[0].Name}

	// Unallocated slots and unreachable allocated entries are retained and
	// surfaced, never dropped.
	for i, e := range c.entries {
		if !visited[i] && i != 0 {
			e.Orphaned = true
			e.Path = []string{e.Name}
		}
	}
	return nil
}

// Windows FILETIME epoch (1601-01-01) to Unix epoch, in 100ns ticks.
const filetimeEpochDelta = 116444736000000000

func filetimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - filetimeEpochDelta
	return time.Unix(ticks/10000000, (ticks%10000000)*100).UTC()
}

// clsidToUUID converts the on-disk little-endian CLSID layout to RFC 4122
// byte order.
func clsidToUUID(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}
