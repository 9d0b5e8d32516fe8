// Package codepage decodes legacy Windows codepage bytes into UTF-8.
// Office file formats store strings in the writer's ANSI codepage; this
// maps the common ones and falls back to Windows-1252, which is what most
// tooling assumes when the page is unknown.
package codepage

import (
	"encoding/binary"
	"unicode/utf16"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// CP_WINUNICODE: the "codepage" value meaning the bytes are UTF-16LE.
const Unicode = 1200

var decoders = map[uint16]encoding.Encoding{
	874:   charmap.Windows874,
	932:   japanese.ShiftJIS,
	936:   simplifiedchinese.GBK,
	949:   korean.EUCKR,
	950:   traditionalchinese.Big5,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	10000: charmap.Macintosh,
	28591: charmap.ISO8859_1,
}

// Decode converts codepage bytes to a UTF-8 string. Undecodable input is
// returned as-is rather than dropped; callers display, they don't round-trip.
func Decode(b []byte, cp uint16) string {
	if cp == Unicode {
		return DecodeUTF16(b)
	}
	enc, ok := decoders[cp]
	if !ok {
		enc = charmap.Windows1252
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// DecodeUTF16 converts UTF-16LE bytes to a UTF-8 string. An odd trailing
// byte is ignored.
func DecodeUTF16(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+2 <= len(b); i += 2 {
		u = append(u, binary.LittleEndian.Uint16(b[i:]))
	}
	return string(utf16.Decode(u))
}
