package vba_test

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/olekit/olekit/internal/cfb"
	"github.com/olekit/olekit/internal/cfb/cfbtest"
	"github.com/olekit/olekit/internal/vba"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirBuilder struct{ b []byte }

func (d *dirBuilder) u16(v uint16) *dirBuilder {
	d.b = binary.LittleEndian.AppendUint16(d.b, v)
	return d
}

func (d *dirBuilder) u32(v uint32) *dirBuilder {
	d.b = binary.LittleEndian.AppendUint32(d.b, v)
	return d
}

func (d *dirBuilder) counted(s []byte) *dirBuilder {
	d.u32(uint32(len(s)))
	d.b = append(d.b, s...)
	return d
}

func utf16le(s string) []byte {
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		out = binary.LittleEndian.AppendUint16(out, u)
	}
	return out
}

type testModule struct {
	name       string
	textOffset uint32
	readOnly   bool
}

// buildDir assembles a plausible decompressed dir stream: the project
// information records, one registered reference, then one module record
// per entry.
func buildDir(projectName string, modules []testModule) []byte {
	d := &dirBuilder{}

	d.u16(0x0001).u32(4).u32(1)     // PROJECTSYSKIND: 32-bit
	d.u16(0x0002).u32(4).u32(0x409) // PROJECTLCID
	d.u16(0x0014).u32(4).u32(0x409) // PROJECTLCIDINVOKE
	d.u16(0x0003).u32(2).u16(1252)  // PROJECTCODEPAGE
	d.u16(0x0004).counted([]byte(projectName))
	d.u16(0x0005).counted(nil).u16(0x0040).counted(nil) // PROJECTDOCSTRING
	d.u16(0x0006).counted(nil).u16(0x003D).counted(nil) // PROJECTHELPFILEPATH

	d.u16(0x0007).u32(4).u32(0)        // PROJECTHELPCONTEXT
	d.u16(0x0008).u32(4).u32(0)        // PROJECTLIBFLAGS
	d.u16(0x0009).u32(4).u32(2).u16(1) // PROJECTVERSION

	// One REFERENCENAME + REFERENCEREGISTERED pair (stdole2.tlb).
	d.u16(0x0016).counted([]byte("stdole")).u16(0x003E).counted(utf16le("stdole"))
	d.u16(0x000D).u32(0).counted([]byte(`*\G{00020430-0000-0000-C000-000000000046}`)).u32(0).u16(0)

	// PROJECTMODULES header.
	d.u16(0x000F).u32(2).u16(uint16(len(modules)))
	d.u16(0x0013).u32(2).u16(0xFFFF) // PROJECTCOOKIE

	for _, m := range modules {
		d.u16(0x0019).counted([]byte(m.name))
		d.u16(0x0047).counted(utf16le(m.name))
		d.u16(0x001A).counted([]byte(m.name)).u16(0x0032).counted(utf16le(m.name))
		d.u16(0x001C).counted(nil).u16(0x0048).counted(nil)
		d.u16(0x0031).u32(4).u32(m.textOffset)
		d.u16(0x001E).u32(4).u32(0)
		d.u16(0x002C).u32(2).u16(0xFFFF)
		d.u16(0x0021).u32(0)
		if m.readOnly {
			d.u16(0x0025).u32(0)
		}
		d.u16(0x002B).u32(0)
	}
	return d.b
}

const macroSource = "Attribute VB_Name = \"Module1\"\r\nSub AutoOpen()\r\n    Shell \"calc.exe\"\r\nEnd Sub\r\n"

func buildMacroDoc(t *testing.T) []byte {
	t.Helper()

	dir := buildDir("VBAProject", []testModule{
		{name: "Module1", textOffset: 16},
		{name: "ThisDocument", textOffset: 0, readOnly: true},
	})

	module1 := append(make([]byte, 16), vba.CompressLiteral([]byte(macroSource))...)
	thisDoc := vba.CompressLiteral([]byte("Attribute VB_Name = \"ThisDocument\"\r\n"))

	project := "ID=\"{12345678-1234-1234-1234-123456789012}\"\r\n" +
		"Document=ThisDocument/&H00000000\r\n" +
		"Module=Module1\r\n" +
		"Name=\"VBAProject\"\r\n"

	return cfbtest.New().
		AddStorage("Macros").
		AddStorageIn("Macros", "VBA").
		AddStreamIn("Macros", "PROJECT", []byte(project)).
		AddStreamIn("VBA", "dir", vba.CompressLiteral(dir)).
		AddStreamIn("VBA", "Module1", module1).
		AddStreamIn("VBA", "ThisDocument", thisDoc).
		AddStream("WordDocument", []byte("document body")).
		Build().Image
}

func TestExtractProject(t *testing.T) {
	c, err := cfb.Open(buildMacroDoc(t))
	require.NoError(t, err)

	require.True(t, vba.HasProject(c))
	assert.Equal(t, "Macros/VBA", vba.FindRoot(c))

	proj, err := vba.ExtractProject(c)
	require.NoError(t, err)

	assert.Equal(t, "VBAProject", proj.Name)
	assert.Equal(t, uint32(1), proj.SysKind)
	assert.Equal(t, uint16(1252), proj.Codepage)
	require.Len(t, proj.Modules, 2)

	byName := map[string]vba.Module{}
	for _, m := range proj.Modules {
		byName[m.Name] = m
	}

	m1 := byName["Module1"]
	assert.Equal(t, macroSource, m1.Code)
	assert.Equal(t, "bas", m1.Type)
	assert.False(t, m1.ReadOnly)

	td := byName["ThisDocument"]
	assert.Equal(t, "cls", td.Type, "Document entries in PROJECT map to class modules")
	assert.True(t, td.ReadOnly)
	assert.Contains(t, td.Code, "ThisDocument")
}

func TestNoProject(t *testing.T) {
	img := cfbtest.New().AddStream("WordDocument", []byte("plain")).Build().Image
	c, err := cfb.Open(img)
	require.NoError(t, err)

	assert.False(t, vba.HasProject(c))
	_, err = vba.ExtractProject(c)
	assert.ErrorIs(t, err, vba.ErrNoProject)
}

func TestCorruptDirStream(t *testing.T) {
	img := cfbtest.New().
		AddStorage("VBA").
		AddStreamIn("VBA", "dir", []byte{0x00, 0x01, 0x02}).
		Build().Image
	c, err := cfb.Open(img)
	require.NoError(t, err)

	_, err = vba.ExtractProject(c)
	assert.ErrorIs(t, err, vba.ErrBadSignature)
}

func TestTruncatedDirRecords(t *testing.T) {
	dir := buildDir("P", []testModule{{name: "M", textOffset: 0}})
	img := cfbtest.New().
		AddStorage("VBA").
		AddStreamIn("VBA", "dir", vba.CompressLiteral(dir[:40])).
		Build().Image
	c, err := cfb.Open(img)
	require.NoError(t, err)

	_, err = vba.ExtractProject(c)
	assert.ErrorIs(t, err, vba.ErrMalformedProject)
}
