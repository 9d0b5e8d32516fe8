package cfb

import "encoding/binary"

// SectorID is a zero-based sector index. Values above MaxRegularSector are
// sentinels defined by MS-CFB.
type SectorID uint32

const (
	MaxRegularSector SectorID = 0xFFFFFFFA // largest addressable sector
	ReservedSector   SectorID = 0xFFFFFFFB // reserved, treated as bad
	DIFATSector      SectorID = 0xFFFFFFFC // FAT entry marks a DIFAT sector
	FATSector        SectorID = 0xFFFFFFFD // FAT entry marks a FAT sector
	EndOfChain       SectorID = 0xFFFFFFFE // chain terminator
	FreeSector       SectorID = 0xFFFFFFFF // unallocated
)

func (s SectorID) regular() bool { return s <= MaxRegularSector }

// sectorOffset returns the byte offset of a regular sector. Sector 0
// starts right after the 512-byte header.
func (c *Container) sectorOffset(id SectorID) int64 {
	return headerLen + int64(id)*int64(c.sectorSize)
}

// readSector returns the raw bytes of a regular sector. The final sector
// of a container may be short; callers get whatever bytes exist.
func (c *Container) readSector(id SectorID) ([]byte, error) {
	if !id.regular() || int(id) >= c.numSectors {
		return nil, &ChainError{Table: "fat", Start: id, Sector: id, Reason: "sector index out of range"}
	}
	start := c.sectorOffset(id)
	end := start + int64(c.sectorSize)
	if end > int64(len(c.data)) {
		end = int64(len(c.data))
	}
	return c.data[start:end], nil
}

// loadDIFAT assembles the full FAT sector list: 109 entries inline in the
// header, the rest chained through dedicated DIFAT sectors. The chained
// path is required once the FAT no longer fits the header, it is not an
// optional extension.
func (c *Container) loadDIFAT() error {
	for _, s := range c.header.difat {
		if s == FreeSector || s == EndOfChain {
			break
		}
		c.fatSectors = append(c.fatSectors, s)
	}
	if c.header.numDIFAT == 0 {
		return nil
	}

	perSector := c.sectorSize/4 - 1 // last slot chains to the next DIFAT sector
	seen := make(map[SectorID]bool)
	sector := c.header.firstDIFAT
	for sector != EndOfChain && sector != FreeSector {
		if seen[sector] {
			return &ChainError{Table: "difat", Start: c.header.firstDIFAT, Sector: sector, Reason: "cycle detected"}
		}
		if len(seen) >= int(c.header.numDIFAT) {
			return &ChainError{Table: "difat", Start: c.header.firstDIFAT, Sector: sector, Reason: "more sectors than header declares"}
		}
		seen[sector] = true

		buf, err := c.readSector(sector)
		if err != nil {
			return err
		}
		if len(buf) < c.sectorSize {
			return &ChainError{Table: "difat", Start: c.header.firstDIFAT, Sector: sector, Reason: "short sector"}
		}
		c.difatSectors = append(c.difatSectors, sector)
		for i := 0; i < perSector; i++ {
			s := SectorID(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
			if s.regular() {
				c.fatSectors = append(c.fatSectors, s)
			}
		}
		sector = SectorID(binary.LittleEndian.Uint32(buf[perSector*4 : perSector*4+4]))
	}
	return nil
}

// loadFAT concatenates all FAT sectors into one table and trims it to the
// number of sectors actually present in the container.
func (c *Container) loadFAT() error {
	entries := c.sectorSize / 4
	c.fat = make([]SectorID, 0, len(c.fatSectors)*entries)
	for _, s := range c.fatSectors {
		buf, err := c.readSector(s)
		if err != nil {
			return err
		}
		if len(buf) < c.sectorSize {
			return &ChainError{Table: "fat", Start: s, Sector: s, Reason: "short FAT sector"}
		}
		for i := 0; i < entries; i++ {
			c.fat = append(c.fat, SectorID(binary.LittleEndian.Uint32(buf[i*4:i*4+4])))
		}
	}
	if len(c.fat) > c.numSectors {
		c.fat = c.fat[:c.numSectors]
	}
	return nil
}

// loadMiniFAT reads the MiniFAT, itself a regular FAT chain.
func (c *Container) loadMiniFAT() error {
	if c.header.numMiniFAT == 0 || !c.header.firstMiniFAT.regular() {
		return nil
	}
	chain, err := c.walkChain("minifat-table", c.header.firstMiniFAT, c.fat)
	if err != nil {
		return err
	}
	c.miniFATSectors = chain
	entries := c.sectorSize / 4
	c.miniFAT = make([]SectorID, 0, len(chain)*entries)
	for _, s := range chain {
		buf, err := c.readSector(s)
		if err != nil {
			return err
		}
		for i := 0; i+4 <= len(buf); i += 4 {
			c.miniFAT = append(c.miniFAT, SectorID(binary.LittleEndian.Uint32(buf[i:i+4])))
		}
	}
	return nil
}

// walkChain follows next-pointers from start until EndOfChain. A visited
// set catches cycles and the configured ceiling bounds work on crafted
// inputs; both are hard failures, never silent truncation.
func (c *Container) walkChain(table string, start SectorID, next []SectorID) ([]SectorID, error) {
	if start == EndOfChain {
		return nil, nil
	}
	var chain []SectorID
	seen := make(map[SectorID]bool)
	for s := start; s != EndOfChain; {
		if !s.regular() {
			return nil, &ChainError{Table: table, Start: start, Sector: s, Reason: "chain hit a sentinel other than end-of-chain"}
		}
		if int(s) >= len(next) {
			return nil, &ChainError{Table: table, Start: start, Sector: s, Reason: "sector index beyond allocation table"}
		}
		if seen[s] {
			return nil, &ChainError{Table: table, Start: start, Sector: s, Reason: "cycle detected"}
		}
		if c.limits.maxChainLength > 0 && len(chain) >= c.limits.maxChainLength {
			return nil, &LimitError{What: table + " chain", Limit: c.limits.maxChainLength}
		}
		seen[s] = true
		chain = append(chain, s)
		s = next[s]
	}
	return chain, nil
}

// SectorClass classifies a sector for diagnostic listings.
type SectorClass uint8

const (
	SectorFree SectorClass = iota
	SectorFAT
	SectorDIFAT
	SectorMiniFAT
	SectorDirectory
	SectorStream
	SectorMiniStream
	SectorBad
	SectorOrphaned
)

func (sc SectorClass) String() string {
	switch sc {
	case SectorFree:
		return "free"
	case SectorFAT:
		return "fat"
	case SectorDIFAT:
		return "difat"
	case SectorMiniFAT:
		return "minifat"
	case SectorDirectory:
		return "directory"
	case SectorStream:
		return "stream"
	case SectorMiniStream:
		return "ministream"
	case SectorBad:
		return "bad"
	case SectorOrphaned:
		return "orphaned"
	}
	return "unknown"
}

// SectorMap classifies every sector in the container. Sectors that look
// allocated in the FAT but are not reachable from the header, the
// directory or any directory entry's chain are reported as orphaned;
// diagnostic tools depend on seeing those.
func (c *Container) SectorMap() []SectorClass {
	m := make([]SectorClass, c.numSectors)
	for i := range m {
		var v SectorID
		if i < len(c.fat) {
			v = c.fat[i]
		} else {
			v = FreeSector
		}
		switch {
		case v == FreeSector:
			m[i] = SectorFree
		case v == FATSector:
			m[i] = SectorFAT
		case v == DIFATSector:
			m[i] = SectorDIFAT
		case v.regular() || v == EndOfChain:
			m[i] = SectorOrphaned // allocated; reclassified below if reachable
		default:
			m[i] = SectorBad
		}
	}
	mark := func(chain []SectorID, class SectorClass) {
		for _, s := range chain {
			if int(s) < len(m) {
				m[s] = class
			}
		}
	}
	// Header-listed tables win over FAT self-description.
	mark(c.fatSectors, SectorFAT)
	mark(c.difatSectors, SectorDIFAT)
	mark(c.miniFATSectors, SectorMiniFAT)
	mark(c.dirSectors, SectorDirectory)
	mark(c.miniStreamChain, SectorMiniStream)
	for _, e := range c.entries {
		if e == nil || e.Orphaned || e.Type != TypeStream || e.Size == 0 {
			continue
		}
		if c.useMiniFAT(e) {
			continue // lives inside the mini stream, already marked
		}
		if chain, err := c.walkChain("fat", e.StartSector, c.fat); err == nil {
			mark(chain, SectorStream)
		}
	}
	return m
}
