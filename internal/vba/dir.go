package vba

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedProject reports a dir stream that cannot be walked.
var ErrMalformedProject = errors.New("vba: malformed project dir stream")

// moduleRecord is one MODULE record from the dir stream (MS-OVBA 2.3.4.2.3.2).
type moduleRecord struct {
	name        string // MBCS, in the project codepage
	nameUnicode []byte // UTF-16LE, optional
	streamName  string
	textOffset  uint32
	readOnly    bool
	private     bool
}

type dirInfo struct {
	sysKind  uint32
	codepage uint16
	name     string
	modules  []moduleRecord
}

// dirReader is a bounds-checked cursor over the decompressed dir stream.
// A read past the end poisons the reader; the parse checks err at record
// boundaries rather than after every field.
type dirReader struct {
	data []byte
	i    int
	err  error
}

func (r *dirReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrMalformedProject, fmt.Sprintf(format, args...))
	}
}

func (r *dirReader) u16() uint16 {
	if r.err != nil || r.i+2 > len(r.data) {
		r.fail("truncated at offset %d", r.i)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.i:])
	r.i += 2
	return v
}

func (r *dirReader) u32() uint32 {
	if r.err != nil || r.i+4 > len(r.data) {
		r.fail("truncated at offset %d", r.i)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.i:])
	r.i += 4
	return v
}

func (r *dirReader) bytes(n int) []byte {
	if r.err != nil || n < 0 || r.i+n > len(r.data) {
		r.fail("truncated at offset %d", r.i)
		return nil
	}
	b := r.data[r.i : r.i+n]
	r.i += n
	return b
}

func (r *dirReader) skip(n int) { r.bytes(n) }

// counted reads the u32-counted byte blob used throughout the dir stream.
func (r *dirReader) counted() []byte { return r.bytes(int(r.u32())) }

// parseDir walks the decompressed dir stream. Record IDs documented as
// fixed are not enforced; real writers disagree with the documented
// layout often enough that strictness loses data. Only structural
// impossibilities fail the parse.
func parseDir(data []byte) (*dirInfo, error) {
	r := &dirReader{data: data}
	info := &dirInfo{codepage: 1252}

	// PROJECTSYSKIND
	r.u16()
	r.u32()
	info.sysKind = r.u32()
	if r.err == nil && info.sysKind > 3 {
		return nil, fmt.Errorf("%w: syskind 0x%X", ErrMalformedProject, info.sysKind)
	}

	// Optional PROJECTCOMPATVERSION
	if id := r.u16(); id == 0x004A {
		r.u32()
		r.skip(4)
	} else {
		r.i -= 2
	}

	// PROJECTLCID, PROJECTLCIDINVOKE
	r.u16()
	r.u32()
	r.skip(4)
	r.u16()
	r.u32()
	r.skip(4)

	// PROJECTCODEPAGE
	r.u16()
	r.u32()
	info.codepage = r.u16()

	// PROJECTNAME
	r.u16()
	nameLen := int(r.u32())
	if r.err == nil && (nameLen < 1 || nameLen > 128) {
		return nil, fmt.Errorf("%w: project name length %d", ErrMalformedProject, nameLen)
	}
	info.name = string(r.bytes(nameLen))

	// PROJECTDOCSTRING: MBCS then reserved marker then UTF-16 copy.
	r.u16()
	r.counted()
	r.u16()
	r.counted()

	// PROJECTHELPFILEPATH: two copies of the same path.
	r.u16()
	r.counted()
	r.u16()
	r.counted()

	// PROJECTHELPCONTEXT
	r.u16()
	r.u32()
	r.skip(4)

	// PROJECTLIBFLAGS
	r.u16()
	r.u32()
	r.skip(4)

	// PROJECTVERSION: fixed 4-byte reserved, then major u32 + minor u16.
	r.u16()
	r.u32()
	r.skip(6)

	// Optional PROJECTCONSTANTS
	if id := r.u16(); id == 0x000C {
		r.counted()
		r.u16()
		r.counted()
	} else {
		r.i -= 2
	}
	if r.err != nil {
		return nil, r.err
	}

	if err := skipReferences(r); err != nil {
		return nil, err
	}

	// PROJECTMODULES header (the 0x000F id was consumed by the loop).
	r.u32() // size
	count := r.u16()
	r.u16() // PROJECTCOOKIE id
	r.u32() // cookie size
	r.skip(2)
	if r.err != nil {
		return nil, r.err
	}

	for m := 0; m < int(count); m++ {
		mod, err := parseModule(r)
		if err != nil {
			return nil, err
		}
		info.modules = append(info.modules, *mod)
	}
	return info, nil
}

// skipReferences walks the REFERENCE record array until the PROJECTMODULES
// id (0x000F). The terminator id is consumed.
func skipReferences(r *dirReader) error {
	for {
		id := r.u16()
		if r.err != nil {
			return r.err
		}
		switch id {
		case 0x000F:
			return nil
		case 0x0016: // REFERENCENAME
			r.counted()
			// The unicode half is optional in the wild; anything other
			// than the 0x003E marker is the next record's id.
			if marker := r.u16(); marker == 0x003E {
				r.counted()
			} else {
				r.i -= 2
			}
		case 0x0033: // REFERENCEORIGINAL
			r.counted()
		case 0x002F: // REFERENCECONTROL
			r.skip(4)
			r.counted()
			r.u32()
			r.u16()
			if next := r.u16(); next == 0x0016 {
				r.counted()
				if marker := r.u16(); marker == 0x003E {
					r.counted()
					r.u16() // reserved3
				}
			}
			r.skip(4)
			r.counted()
			r.skip(6 + 16 + 4)
		case 0x000D: // REFERENCEREGISTERED
			r.skip(4)
			r.counted()
			r.u32()
			r.u16()
		case 0x000E: // REFERENCEPROJECT
			r.skip(4)
			r.counted()
			r.counted()
			r.skip(6)
		default:
			return fmt.Errorf("%w: unknown reference record id 0x%04X", ErrMalformedProject, id)
		}
		if r.err != nil {
			return r.err
		}
	}
}

// parseModule reads one MODULE record. Every section after MODULENAME is
// optional and id-tagged, so the walk peeks an id and dispatches until the
// 0x002B terminator.
func parseModule(r *dirReader) (*moduleRecord, error) {
	mod := &moduleRecord{}

	if id := r.u16(); r.err == nil && id != 0x0019 {
		return nil, fmt.Errorf("%w: module record starts with id 0x%04X", ErrMalformedProject, id)
	}
	mod.name = string(r.counted())

	for {
		id := r.u16()
		if r.err != nil {
			return nil, r.err
		}
		switch id {
		case 0x0047: // MODULENAMEUNICODE
			mod.nameUnicode = append([]byte(nil), r.counted()...)
		case 0x001A: // MODULESTREAMNAME
			mod.streamName = string(r.counted())
			r.u16() // reserved
			r.counted()
		case 0x001C: // MODULEDOCSTRING
			r.counted()
			r.u16()
			r.counted()
		case 0x0031: // MODULEOFFSET
			r.u32()
			mod.textOffset = r.u32()
		case 0x001E: // MODULEHELPCONTEXT
			r.u32()
			r.skip(4)
		case 0x002C: // MODULECOOKIE
			r.u32()
			r.skip(2)
		case 0x0021, 0x0022: // MODULETYPE procedural / document|class
			r.skip(4)
		case 0x0025: // MODULEREADONLY
			mod.readOnly = true
			r.skip(4)
		case 0x0028: // MODULEPRIVATE
			mod.private = true
			r.skip(4)
		case 0x002B: // terminator
			r.skip(4)
			if r.err != nil {
				return nil, r.err
			}
			return mod, nil
		default:
			return nil, fmt.Errorf("%w: unknown module section id 0x%04X", ErrMalformedProject, id)
		}
		if r.err != nil {
			return nil, r.err
		}
	}
}
