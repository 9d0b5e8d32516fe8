// Package vba locates and extracts VBA macro source from compound files
// (MS-OVBA). Resolution runs PROJECT stream -> decompressed dir stream ->
// per-module code streams, decompressing each module's source from its
// recorded text offset.
package vba

import (
	"errors"
	"fmt"
	"strings"

	"github.com/olekit/olekit/internal/cfb"
	"github.com/olekit/olekit/internal/codepage"
)

// ErrNoProject reports a container without a VBA project.
var ErrNoProject = errors.New("vba: no VBA project in container")

// Storage paths where Office applications keep the VBA project.
var projectRoots = []string{
	"Macros/VBA",           // Word
	"_VBA_PROJECT_CUR/VBA", // Excel
	"VBA",                  // PowerPoint, standalone vbaProject.bin
}

// Module extensions by how the PROJECT stream classifies them.
const (
	moduleExtension = "bas"
	classExtension  = "cls"
	formExtension   = "frm"
)

// Module is one extracted macro module.
type Module struct {
	Name       string
	StreamName string
	Type       string // bas, cls or frm; "" when PROJECT does not list it
	ReadOnly   bool
	Private    bool
	Code       string
}

// Project is an extracted VBA project.
type Project struct {
	Root     string // storage path the project was found under
	Name     string
	SysKind  uint32
	Codepage uint16
	Modules  []Module
}

// FindRoot returns the VBA storage path, or "" when the container holds
// no project.
func FindRoot(c *cfb.Container) string {
	for _, root := range projectRoots {
		if c.Exists(root + "/dir") {
			return root
		}
	}
	return ""
}

// HasProject reports whether the container carries a VBA project.
func HasProject(c *cfb.Container) bool { return FindRoot(c) != "" }

// ExtractProject pulls every macro module out of the container.
func ExtractProject(c *cfb.Container) (*Project, error) {
	root := FindRoot(c)
	if root == "" {
		return nil, ErrNoProject
	}

	dirData, err := c.ReadStream(root + "/dir")
	if err != nil {
		return nil, fmt.Errorf("vba: reading dir stream: %w", err)
	}
	plain, err := Decompress(dirData)
	if err != nil {
		return nil, fmt.Errorf("vba: dir stream: %w", err)
	}
	info, err := parseDir(plain)
	if err != nil {
		return nil, err
	}

	types := moduleTypes(c, root)

	proj := &Project{
		Root:     root,
		Name:     codepage.Decode([]byte(info.name), info.codepage),
		SysKind:  info.sysKind,
		Codepage: info.codepage,
	}
	for _, rec := range info.modules {
		streamName := codepage.Decode([]byte(rec.streamName), info.codepage)
		if streamName == "" {
			continue
		}
		code, err := moduleSource(c, root+"/"+streamName, rec.textOffset)
		if err != nil {
			return nil, fmt.Errorf("vba: module %q: %w", streamName, err)
		}
		if code == "" {
			continue
		}
		name := codepage.Decode([]byte(rec.name), info.codepage)
		if len(rec.nameUnicode) > 0 {
			name = codepage.DecodeUTF16(rec.nameUnicode)
		}
		proj.Modules = append(proj.Modules, Module{
			Name:       name,
			StreamName: streamName,
			Type:       types[name],
			ReadOnly:   rec.readOnly,
			Private:    rec.private,
			Code:       code,
		})
	}
	return proj, nil
}

// moduleSource reads a code stream and decompresses the source text
// starting at the module's recorded offset. A stream that is missing or
// holds nothing past the offset yields "".
func moduleSource(c *cfb.Container, path string, textOffset uint32) (string, error) {
	data, err := c.ReadStream(path)
	if errors.Is(err, cfb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if uint64(textOffset) >= uint64(len(data)) {
		return "", nil
	}
	src, err := Decompress(data[textOffset:])
	if err != nil {
		return "", err
	}
	return string(src), nil
}

// moduleTypes reads the PROJECT stream next to the VBA storage and maps
// module names to their source extensions. The stream is a plain
// key=value text file; a missing one just means no type information.
func moduleTypes(c *cfb.Container, root string) map[string]string {
	parent := ""
	if i := strings.LastIndexByte(root, '/'); i >= 0 {
		parent = root[:i+1]
	}
	data, err := c.ReadStream(parent + "PROJECT")
	if err != nil {
		return nil
	}

	types := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "Document":
			// Document=ThisDocument/&H00000000
			name, _, _ := strings.Cut(value, "/")
			types[name] = classExtension
		case "Class":
			types[value] = classExtension
		case "Module":
			types[value] = moduleExtension
		case "BaseClass":
			types[value] = formExtension
		}
	}
	return types
}
