// Package pathutil provides path validation and sanitization for
// extraction output. Filenames coming out of a compound file are
// attacker-controlled and must never escape the output directory.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// CheckDirectoryWritable checks that a directory exists and is writable,
// creating it when absent. Writability is probed with a real file because
// permission bits lie on some filesystems.
func CheckDirectoryWritable(fs afero.Fs, path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	info, err := fs.Stat(path)
	switch {
	case err != nil:
		if err := fs.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("directory %s does not exist and cannot be created: %w", path, err)
		}
	case !info.IsDir():
		return fmt.Errorf("path %s exists but is not a directory", path)
	}

	testFile := filepath.Join(path, ".olekit-write-test")
	file, err := fs.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", path, err)
	}
	_, writeErr := file.Write([]byte("test"))
	file.Close()
	fs.Remove(testFile)
	if writeErr != nil {
		return fmt.Errorf("directory %s is not writable: %w", path, writeErr)
	}
	return nil
}

// Windows device names that silently swallow writes when used as filenames.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
}

// SafeFileName reduces an untrusted name to a single path component that
// is safe to create under any output directory. The fallback is used when
// nothing survives sanitization.
func SafeFileName(name, fallback string) string {
	// Only the final component matters; embedded paths often carry the
	// source machine's full directory layout.
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7F:
			// drop control characters
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), " .")

	base := strings.ToLower(out)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if out == "" || out == "." || out == ".." || reservedNames[base] {
		return fallback
	}
	if len(out) > 200 {
		out = out[:200]
	}
	return out
}

// UniqueName returns name, or name with a numeric suffix when it already
// exists under dir.
func UniqueName(fs afero.Fs, dir, name string) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := fs.Stat(filepath.Join(dir, candidate)); err != nil {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}
