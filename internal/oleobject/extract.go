package oleobject

import (
	"fmt"
	"path/filepath"

	"github.com/olekit/olekit/internal/cfb"
	"github.com/olekit/olekit/internal/pathutil"
	"github.com/spf13/afero"
)

// ExtractAll writes every parseable record's payload under dir and returns
// the written paths, in record order. Records carrying a parse error are
// skipped; the caller already has them for reporting.
func ExtractAll(c *cfb.Container, fs afero.Fs, dir string) ([]string, error) {
	if err := pathutil.CheckDirectoryWritable(fs, dir); err != nil {
		return nil, err
	}
	var written []string
	for i, rec := range Scan(c) {
		if rec.Err != nil {
			continue
		}
		path, err := Extract(c, &rec, fs, dir, i)
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// Extract writes one record's payload to a sanitized, collision-free
// filename under dir and returns the full path. seq disambiguates
// records that carry no usable name of their own.
func Extract(c *cfb.Container, rec *Record, fs afero.Fs, dir string, seq int) (string, error) {
	payload, err := Payload(c, rec)
	if err != nil {
		return "", err
	}

	fallback := fmt.Sprintf("object_%03d.bin", seq)
	name := rec.Label
	if name == "" {
		name = rec.SourcePath
	}
	name = pathutil.SafeFileName(name, fallback)
	name = pathutil.UniqueName(fs, dir, name)

	full := filepath.Join(dir, name)
	if err := afero.WriteFile(fs, full, payload, 0o644); err != nil {
		return "", fmt.Errorf("oleobject: writing %s: %w", full, err)
	}
	return full, nil
}
