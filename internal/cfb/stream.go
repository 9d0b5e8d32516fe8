package cfb

import (
	"errors"
	"io"
)

// Stream is a read-only view over a directory entry's sector chain. The
// chain is resolved once at open time; reads then address the container
// buffer directly, so a Stream never copies sector data. Reads past the
// declared size return io.EOF even when the chain has trailing slack.
type Stream struct {
	c     *Container
	entry *DirEntry
	chain []SectorID
	mini  bool
	size  int64
	off   int64
}

// Open resolves the sector chain of a stream entry. Streams below the
// mini stream cutoff are chained through the MiniFAT inside the mini
// stream; everything else goes through the regular FAT. Mixing the two
// paths up yields wrong bytes, so the split lives here and nowhere else.
func (c *Container) Open(entry *DirEntry) (*Stream, error) {
	if entry.Type != TypeStream && entry.Type != TypeRoot {
		return nil, ErrNotStream
	}
	s := &Stream{c: c, entry: entry, size: int64(entry.Size)}
	if entry.Size == 0 {
		if entry.StartSector != EndOfChain && entry.StartSector != FreeSector {
			return nil, &ChainError{Table: "fat", Start: entry.StartSector, Sector: entry.StartSector,
				Reason: "empty stream with a live start sector"}
		}
		return s, nil
	}

	var secSize int
	var err error
	if c.useMiniFAT(entry) {
		s.mini = true
		secSize = c.miniSectorSize
		s.chain, err = c.walkChain("minifat", entry.StartSector, c.miniFAT)
	} else {
		secSize = c.sectorSize
		s.chain, err = c.walkChain("fat", entry.StartSector, c.fat)
	}
	if err != nil {
		return nil, err
	}
	capacity := uint64(len(s.chain)) * uint64(secSize)
	if capacity < entry.Size {
		return nil, &TruncatedStreamError{Entry: entry.ID, Name: entry.Name, Declared: entry.Size, Actual: capacity}
	}
	return s, nil
}

// useMiniFAT reports whether an entry's bytes live in the mini stream.
// The root entry's chain is the mini stream itself and always regular.
func (c *Container) useMiniFAT(e *DirEntry) bool {
	return e.Type == TypeStream && e.Size < uint64(c.header.miniCutoff)
}

func (s *Stream) sectorSize() int64 {
	if s.mini {
		return int64(s.c.miniSectorSize)
	}
	return int64(s.c.sectorSize)
}

// sourceRange maps a chain-local sector to its byte range in the container
// buffer. Mini sectors are located through the mini stream's own chain.
func (s *Stream) sourceRange(i int) (int64, int64, error) {
	id := s.chain[i]
	if !s.mini {
		off := s.c.sectorOffset(id)
		end := off + int64(s.c.sectorSize)
		if end > int64(len(s.c.data)) {
			end = int64(len(s.c.data))
		}
		return off, end, nil
	}
	miniOff := int64(id) * int64(s.c.miniSectorSize)
	host := int(miniOff / int64(s.c.sectorSize))
	if host >= len(s.c.miniStreamChain) {
		return 0, 0, &ChainError{Table: "minifat", Start: s.entry.StartSector, Sector: id,
			Reason: "mini sector beyond mini stream"}
	}
	off := s.c.sectorOffset(s.c.miniStreamChain[host]) + miniOff%int64(s.c.sectorSize)
	end := off + int64(s.c.miniSectorSize)
	// The host sector can be the file's short final sector.
	if limit := int64(len(s.c.data)); end > limit {
		end = limit
	}
	if off > end {
		off = end
	}
	return off, end, nil
}

// Size returns the declared stream size.
func (s *Stream) Size() int64 { return s.size }

// Entry returns the directory entry this stream was opened from.
func (s *Stream) Entry() *DirEntry { return s.entry }

// ReadAt implements io.ReaderAt over the declared content.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("cfb: negative offset")
	}
	if off >= s.size {
		return 0, io.EOF
	}
	if max := s.size - off; int64(len(p)) > max {
		p = p[:max]
	}
	secSize := s.sectorSize()
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		idx := int(pos / secSize)
		within := pos % secSize
		start, end, err := s.sourceRange(idx)
		if err != nil {
			return n, err
		}
		src := s.c.data[start:end]
		if int64(len(src)) <= within {
			return n, io.ErrUnexpectedEOF
		}
		n += copy(p[n:], src[within:])
	}
	if off+int64(n) >= s.size {
		return n, io.EOF
	}
	return n, nil
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.off)
	s.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Seek implements io.Seeker.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.off
	case io.SeekEnd:
		base = s.size
	default:
		return 0, errors.New("cfb: invalid whence")
	}
	pos := base + offset
	if pos < 0 {
		return 0, errors.New("cfb: negative position")
	}
	s.off = pos
	return pos, nil
}

// Bytes reads the whole declared content into a fresh buffer.
func (s *Stream) Bytes() ([]byte, error) {
	buf := make([]byte, s.size)
	if s.size == 0 {
		return buf, nil
	}
	if _, err := s.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// Slack returns the bytes between the declared size and the chain's
// sector capacity. This is a forensic accessor; regular reads never see
// these bytes.
func (s *Stream) Slack() ([]byte, error) {
	secSize := s.sectorSize()
	capacity := int64(len(s.chain)) * secSize
	if capacity <= s.size {
		return nil, nil
	}
	out := make([]byte, 0, capacity-s.size)
	for pos := s.size; pos < capacity; {
		idx := int(pos / secSize)
		within := pos % secSize
		start, end, err := s.sourceRange(idx)
		if err != nil {
			return nil, err
		}
		src := s.c.data[start:end]
		if int64(len(src)) <= within {
			break // short final sector; nothing more on disk
		}
		take := src[within:]
		if rem := capacity - pos; int64(len(take)) > rem {
			take = take[:rem]
		}
		out = append(out, take...)
		pos += int64(len(take))
	}
	return out, nil
}
