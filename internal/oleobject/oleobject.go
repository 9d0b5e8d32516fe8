// Package oleobject finds and extracts embedded objects (MS-OLEDS) from
// compound files. The interesting carrier is the \x01Ole10Native stream:
// Office's "Packager" format, the classic vehicle for smuggling
// executables inside documents. Plain Package and CONTENTS streams are
// surfaced too so nothing embedded goes unreported.
package oleobject

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/olekit/olekit/internal/cfb"
	"github.com/olekit/olekit/internal/codepage"
)

var (
	// ErrInvalidBounds reports a declared payload that does not fit its
	// stream. Always hostile or corrupt, never silently clamped.
	ErrInvalidBounds = errors.New("oleobject: payload bounds outside stream")
	// ErrMalformed reports an Ole10Native stream whose header cannot be
	// walked.
	ErrMalformed = errors.New("oleobject: malformed Ole10Native stream")
)

// Format tells how a record's payload is framed.
type Format int

const (
	// FormatOle10Native is a parsed Packager object with filename metadata.
	FormatOle10Native Format = iota
	// FormatPackage is a raw "Package" stream, payload taken whole.
	FormatPackage
	// FormatContents is a raw "CONTENTS" stream (typically PDF or image).
	FormatContents
)

func (f Format) String() string {
	switch f {
	case FormatOle10Native:
		return "ole10native"
	case FormatPackage:
		return "package"
	case FormatContents:
		return "contents"
	}
	return "unknown"
}

// Record describes one embedded object found in a container. For
// Ole10Native records the name fields come from the Packager header; raw
// formats only carry stream identity and payload bounds. A record with
// Err set marks a stream that looked like an object but failed to parse;
// it is reported rather than dropped so triage tooling sees it.
type Record struct {
	StreamPath string
	Format     Format
	ClassID    uuid.UUID // CLSID of the enclosing storage, zero at root

	Label      string
	SourcePath string
	TempPath   string

	Offset int64 // payload offset within the stream
	Size   uint32
	Err    error
}

const ole10NativeName = "\x01Ole10Native"

// Scan walks the directory tree and returns every embedded object stream,
// orphans included. Parse failures are carried inside the records.
func Scan(c *cfb.Container) []Record {
	var out []Record
	for _, e := range c.Entries() {
		if e.Type != cfb.TypeStream {
			continue
		}
		var format Format
		switch {
		case e.Name == ole10NativeName:
			format = FormatOle10Native
		case strings.EqualFold(e.Name, "Package"):
			format = FormatPackage
		case e.Name == "CONTENTS":
			format = FormatContents
		default:
			continue
		}

		rec := Record{
			StreamPath: e.PathString(),
			Format:     format,
			ClassID:    parentClassID(c, e),
		}
		data, err := readEntry(c, e)
		if err != nil {
			rec.Err = err
			out = append(out, rec)
			continue
		}
		if format == FormatOle10Native {
			if err := parseOle10Native(data, &rec); err != nil {
				rec.Err = err
			}
		} else {
			rec.Size = uint32(len(data))
		}
		out = append(out, rec)
	}
	return out
}

func readEntry(c *cfb.Container, e *cfb.DirEntry) ([]byte, error) {
	s, err := c.Open(e)
	if err != nil {
		return nil, err
	}
	return s.Bytes()
}

// parentClassID resolves the CLSID of the storage holding an entry; that
// is where OLE records the embedded object's class. Orphans have no parent.
func parentClassID(c *cfb.Container, e *cfb.DirEntry) uuid.UUID {
	if e.Orphaned || len(e.Path) < 2 {
		return uuid.UUID{}
	}
	parent, err := c.EntryByPath(strings.Join(e.Path[:len(e.Path)-1], "/"))
	if err != nil {
		return uuid.UUID{}
	}
	return parent.CLSID
}

// parseOle10Native walks the Packager header. Layout: total size (u32),
// flags (u16), label and source path as NUL-terminated ANSI strings, an
// u32 of unknown purpose, the temp path as an u32-counted string, then
// the payload size (u32) and the payload itself.
func parseOle10Native(data []byte, rec *Record) error {
	cur := cursor{data: data}

	total := cur.u32("total size")
	if cur.err == nil && uint64(total)+4 > uint64(len(data)) {
		return fmt.Errorf("%w: declared total %d in a %d byte stream", ErrInvalidBounds, total, len(data))
	}
	cur.u16("flags")
	rec.Label = cur.cstr("label")
	rec.SourcePath = cur.cstr("source path")
	cur.u32("reserved")
	tempLen := cur.u32("temp path length")
	rec.TempPath = cur.counted("temp path", tempLen)
	size := cur.u32("payload size")
	if cur.err != nil {
		return cur.err
	}
	if uint64(cur.off)+uint64(size) > uint64(len(data)) {
		return fmt.Errorf("%w: payload of %d bytes at offset %d in a %d byte stream",
			ErrInvalidBounds, size, cur.off, len(data))
	}
	rec.Offset = int64(cur.off)
	rec.Size = size
	return nil
}

type cursor struct {
	data []byte
	off  int
	err  error
}

func (c *cursor) need(n int, what string) bool {
	if c.err != nil {
		return false
	}
	if c.off+n > len(c.data) {
		c.err = fmt.Errorf("%w: truncated at %s (offset %d)", ErrMalformed, what, c.off)
		return false
	}
	return true
}

func (c *cursor) u16(what string) uint16 {
	if !c.need(2, what) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.data[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u32(what string) uint32 {
	if !c.need(4, what) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v
}

func (c *cursor) cstr(what string) string {
	if c.err != nil {
		return ""
	}
	end := c.off
	for end < len(c.data) && c.data[end] != 0 {
		end++
	}
	if end == len(c.data) {
		c.err = fmt.Errorf("%w: unterminated %s", ErrMalformed, what)
		return ""
	}
	s := codepage.Decode(c.data[c.off:end], 1252)
	c.off = end + 1
	return s
}

func (c *cursor) counted(what string, n uint32) string {
	if c.err != nil {
		return ""
	}
	if !c.need(int(n), what) {
		return ""
	}
	raw := c.data[c.off : c.off+int(n)]
	c.off += int(n)
	for len(raw) > 0 && raw[len(raw)-1] == 0 {
		raw = raw[:len(raw)-1]
	}
	return codepage.Decode(raw, 1252)
}

// Payload reads a record's bytes out of the container.
func Payload(c *cfb.Container, rec *Record) ([]byte, error) {
	if rec.Err != nil {
		return nil, rec.Err
	}
	e, err := entryFor(c, rec.StreamPath)
	if err != nil {
		return nil, err
	}
	data, err := readEntry(c, e)
	if err != nil {
		return nil, err
	}
	if rec.Offset+int64(rec.Size) > int64(len(data)) {
		return nil, ErrInvalidBounds
	}
	return data[rec.Offset : rec.Offset+int64(rec.Size)], nil
}

func entryFor(c *cfb.Container, path string) (*cfb.DirEntry, error) {
	if e, err := c.EntryByPath(path); err == nil {
		return e, nil
	}
	// Orphan records are not path-addressable; match by name.
	for _, e := range c.Entries() {
		if e.Orphaned && e.PathString() == path {
			return e, nil
		}
	}
	return nil, cfb.ErrNotFound
}
