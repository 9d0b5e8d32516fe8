package cfb

import "encoding/binary"

// Compound file header layout, MS-CFB 2.2. The header occupies the first
// 512 bytes regardless of sector size; for 4096-byte sectors the remainder
// of sector -1 is unused.
const (
	headerLen    = 512
	dirEntryLen  = 128
	headerDIFAT  = 109 // DIFAT slots inline in the header
	signature    = 0xE11AB1A1E011CFD0
	byteOrderLE  = 0xFFFE
	miniShift    = 6      // mini sectors are always 64 bytes
	miniCutoff   = 0x1000 // streams below this size live in the mini stream
	versionThree = 3
	versionFour  = 4
)

type header struct {
	minorVersion   uint16
	majorVersion   uint16
	sectorShift    uint16
	miniShift      uint16
	numDirSectors  uint32
	numFATSectors  uint32
	firstDirSector SectorID
	miniCutoff     uint32
	firstMiniFAT   SectorID
	numMiniFAT     uint32
	firstDIFAT     SectorID
	numDIFAT       uint32
	difat          [headerDIFAT]SectorID
}

func (h *header) sectorSize() int     { return 1 << h.sectorShift }
func (h *header) miniSectorSize() int { return 1 << h.miniShift }

// parseHeader validates the fixed header. Signature mismatches surface as
// ErrInvalidSignature, everything else as a HeaderError wrapping
// ErrHeaderOutOfRange; both abort the whole parse.
func parseHeader(data []byte) (*header, error) {
	if len(data) < headerLen {
		return nil, &HeaderError{Field: "length", Value: uint64(len(data))}
	}
	le := binary.LittleEndian
	if le.Uint64(data[0:8]) != signature {
		return nil, ErrInvalidSignature
	}
	h := &header{
		minorVersion:   le.Uint16(data[24:26]),
		majorVersion:   le.Uint16(data[26:28]),
		sectorShift:    le.Uint16(data[30:32]),
		miniShift:      le.Uint16(data[32:34]),
		numDirSectors:  le.Uint32(data[40:44]),
		numFATSectors:  le.Uint32(data[44:48]),
		firstDirSector: SectorID(le.Uint32(data[48:52])),
		miniCutoff:     le.Uint32(data[56:60]),
		firstMiniFAT:   SectorID(le.Uint32(data[60:64])),
		numMiniFAT:     le.Uint32(data[64:68]),
		firstDIFAT:     SectorID(le.Uint32(data[68:72])),
		numDIFAT:       le.Uint32(data[72:76]),
	}
	for i := 0; i < headerDIFAT; i++ {
		h.difat[i] = SectorID(le.Uint32(data[76+i*4 : 80+i*4]))
	}

	if bo := le.Uint16(data[28:30]); bo != byteOrderLE {
		return nil, &HeaderError{Field: "byte order", Value: uint64(bo)}
	}
	switch h.majorVersion {
	case versionThree:
		if h.sectorShift != 9 {
			return nil, &HeaderError{Field: "sector shift", Value: uint64(h.sectorShift)}
		}
		if h.numDirSectors != 0 {
			return nil, &HeaderError{Field: "directory sector count", Value: uint64(h.numDirSectors)}
		}
	case versionFour:
		if h.sectorShift != 12 {
			return nil, &HeaderError{Field: "sector shift", Value: uint64(h.sectorShift)}
		}
	default:
		return nil, &HeaderError{Field: "major version", Value: uint64(h.majorVersion)}
	}
	if h.miniShift != miniShift {
		return nil, &HeaderError{Field: "mini sector shift", Value: uint64(h.miniShift)}
	}
	if h.miniCutoff != miniCutoff {
		return nil, &HeaderError{Field: "mini stream cutoff", Value: uint64(h.miniCutoff)}
	}
	return h, nil
}
