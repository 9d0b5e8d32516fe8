package propset

import (
	"strings"

	"github.com/olekit/olekit/internal/cfb"
)

// Standard property stream names. The \x05 prefix marks a stream as a
// property set per MS-CFB naming conventions.
const (
	SummaryStreamName    = "\x05SummaryInformation"
	DocSummaryStreamName = "\x05DocumentSummaryInformation"
)

// IsPropertyStream reports whether a directory entry looks like a
// property set stream.
func IsPropertyStream(e *cfb.DirEntry) bool {
	return e.Type == cfb.TypeStream && strings.HasPrefix(e.Name, "\x05")
}

// Find lists every property set stream in the container, orphans excluded.
func Find(c *cfb.Container) []*cfb.DirEntry {
	var out []*cfb.DirEntry
	for _, e := range c.Entries() {
		if !e.Orphaned && IsPropertyStream(e) {
			out = append(out, e)
		}
	}
	return out
}

// Read parses the property stream at the given path.
func Read(c *cfb.Container, path string) (*PropertySet, error) {
	data, err := c.ReadStream(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// ReadSummary parses \x05SummaryInformation if the container has one.
// The bool result reports presence; a present but broken stream errors.
func ReadSummary(c *cfb.Container) (*PropertySet, bool, error) {
	if !c.Exists(SummaryStreamName) {
		return nil, false, nil
	}
	ps, err := Read(c, SummaryStreamName)
	if err != nil {
		return nil, true, err
	}
	return ps, true, nil
}

// ReadDocSummary parses \x05DocumentSummaryInformation if present.
func ReadDocSummary(c *cfb.Container) (*PropertySet, bool, error) {
	if !c.Exists(DocSummaryStreamName) {
		return nil, false, nil
	}
	ps, err := Read(c, DocSummaryStreamName)
	if err != nil {
		return nil, true, err
	}
	return ps, true, nil
}
