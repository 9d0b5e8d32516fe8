// Package cfb reads the Compound File Binary Format (OLE2 structured
// storage, MS-CFB): a sector-based container hosting a tree of named
// storages and streams. The parser is built for hostile input; every
// chain walk is cycle-checked and bounded, and orphaned sectors and
// directory entries are surfaced rather than dropped.
//
// A Container treats its input as an immutable byte buffer. Once Open
// returns, the Container and everything derived from it are read-only and
// safe to share without locking; parse different files with different
// Container instances.
package cfb

import "strings"

type limits struct {
	maxChainLength int
	maxDirEntries  int
}

// Option tunes traversal ceilings for crafted-input resistance.
type Option func(*limits)

// WithMaxChainLength caps the number of sectors any single chain may have.
// Cycle detection already bounds every walk by the allocation table size;
// set this to fail fast on huge inputs instead.
func WithMaxChainLength(n int) Option {
	return func(l *limits) { l.maxChainLength = n }
}

// WithMaxDirEntries caps the number of directory entries parsed.
func WithMaxDirEntries(n int) Option {
	return func(l *limits) { l.maxDirEntries = n }
}

const defaultMaxDirEntries = 1 << 16

// Container is one parsed compound file.
type Container struct {
	data []byte

	header         *header
	sectorSize     int
	miniSectorSize int
	numSectors     int
	limits         limits

	fatSectors     []SectorID
	difatSectors   []SectorID
	fat            []SectorID
	miniFAT        []SectorID
	miniFATSectors []SectorID
	dirSectors     []SectorID

	miniStreamChain []SectorID

	entries []*DirEntry
}

// Open parses a compound file from a fully buffered byte slice. The slice
// must not be mutated for the lifetime of the Container. Structural
// failures (bad signature, header out of range, cyclic directory) abort
// the parse; per-stream problems surface later, when the stream is read.
func Open(data []byte, opts ...Option) (*Container, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	c := &Container{
		data:           data,
		header:         h,
		sectorSize:     h.sectorSize(),
		miniSectorSize: h.miniSectorSize(),
	}
	c.numSectors = (len(data) - headerLen + c.sectorSize - 1) / c.sectorSize
	c.limits = limits{maxDirEntries: defaultMaxDirEntries}
	for _, o := range opts {
		o(&c.limits)
	}

	if err := c.loadDIFAT(); err != nil {
		return nil, err
	}
	if err := c.loadFAT(); err != nil {
		return nil, err
	}
	if err := c.loadMiniFAT(); err != nil {
		return nil, err
	}
	if err := c.loadDirectory(); err != nil {
		return nil, err
	}
	// The mini stream is the root entry's regular chain; every mini-FAT
	// stream resolves its bytes inside it.
	root := c.entries[0]
	if root.Size > 0 && root.StartSector.regular() {
		chain, err := c.walkChain("fat", root.StartSector, c.fat)
		if err != nil {
			return nil, err
		}
		c.miniStreamChain = chain
	}
	return c, nil
}

// Root returns the root storage entry.
func (c *Container) Root() *DirEntry { return c.entries[0] }

// SectorSize returns the regular sector size declared by the header.
func (c *Container) SectorSize() int { return c.sectorSize }

// NumSectors returns the number of sectors following the header.
func (c *Container) NumSectors() int { return c.numSectors }

// Entries lists all directory entries: the root first, then its subtree
// depth-first with every storage's children in CFB name order, then all
// orphaned or unallocated slots in stream-ID order. The sequence is
// deterministic for a given input.
func (c *Container) Entries() []*DirEntry {
	out := make([]*DirEntry, 0, len(c.entries))
	var walk func(e *DirEntry)
	walk = func(e *DirEntry) {
		out = append(out, e)
		for _, kid := range e.children {
			walk(c.entries[kid])
		}
	}
	walk(c.entries[0])
	for _, e := range c.entries {
		if e.Orphaned {
			out = append(out, e)
		}
	}
	return out
}

// Walk calls fn for every entry in Entries order, stopping on error.
func (c *Container) Walk(fn func(*DirEntry) error) error {
	for _, e := range c.Entries() {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// EntryByPath finds an entry by a case-insensitive slash-separated path,
// e.g. "Macros/VBA/dir". Orphaned entries are not addressable by path.
func (c *Container) EntryByPath(path string) (*DirEntry, error) {
	node := c.entries[0]
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		var next *DirEntry
		for _, kid := range node.children {
			if strings.EqualFold(c.entries[kid].Name, name) {
				next = c.entries[kid]
				break
			}
		}
		if next == nil {
			return nil, ErrNotFound
		}
		node = next
	}
	return node, nil
}

// OpenPath opens the stream at the given path.
func (c *Container) OpenPath(path string) (*Stream, error) {
	e, err := c.EntryByPath(path)
	if err != nil {
		return nil, err
	}
	return c.Open(e)
}

// ReadStream reads a whole stream by path.
func (c *Container) ReadStream(path string) ([]byte, error) {
	s, err := c.OpenPath(path)
	if err != nil {
		return nil, err
	}
	return s.Bytes()
}

// Exists reports whether a stream or storage exists at the given path.
func (c *Container) Exists(path string) bool {
	_, err := c.EntryByPath(path)
	return err == nil
}

// IsCompoundFile reports whether data starts with the compound file
// signature. It never errors on short input.
func IsCompoundFile(data []byte) bool {
	const sig = "\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1"
	return len(data) >= len(sig) && string(data[:len(sig)]) == sig
}
