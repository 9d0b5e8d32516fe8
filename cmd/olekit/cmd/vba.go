package cmd

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/olekit/olekit/internal/cfb"
	"github.com/olekit/olekit/internal/pathutil"
	"github.com/olekit/olekit/internal/vba"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	vbaShowCode bool
	vbaOutput   string
)

var vbaCmd = &cobra.Command{
	Use:   "vba <file>...",
	Short: "Detect and extract VBA macros",
	Long:  "vba extracts macro source from OLE2 documents and from OOXML archives (docm, xlsm, pptm), which carry the project as an embedded vbaProject.bin. Use --code to dump the decompressed source, --output to write one file per module.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runVba,
}

func init() {
	vbaCmd.Flags().BoolVar(&vbaShowCode, "code", false, "print module source code")
	vbaCmd.Flags().StringVarP(&vbaOutput, "output", "o", "", "write modules to this directory")
	rootCmd.AddCommand(vbaCmd)
}

func runVba(cmd *cobra.Command, args []string) error {
	return forEachInput(args, func(path string) error {
		projects, err := loadProjects(path)
		if err != nil {
			return err
		}
		var b strings.Builder
		if len(projects) == 0 {
			fmt.Fprintf(&b, "%s: no VBA project\n", path)
			report(b.String())
			return nil
		}
		for _, p := range projects {
			fmt.Fprintf(&b, "%s: project %q (root %q, %d modules)\n", path, p.Name, p.Root, len(p.Modules))
			for _, m := range p.Modules {
				attrs := ""
				if m.ReadOnly {
					attrs += " readonly"
				}
				if m.Private {
					attrs += " private"
				}
				fmt.Fprintf(&b, "  %s.%s%s\n", m.Name, moduleType(m), attrs)
				if vbaShowCode && m.Code != "" {
					fmt.Fprintln(&b, indent(m.Code, "    | "))
				}
			}
			if vbaOutput != "" {
				if err := writeModules(p, vbaOutput); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				slog.Info("wrote macro modules", "file", path, "project", p.Name, "dir", vbaOutput)
			}
		}
		report(b.String())
		return nil
	})
}

// loadProjects extracts VBA projects from an OLE2 file directly, or from
// every embedded .bin container inside an OOXML zip.
func loadProjects(path string) ([]*vba.Project, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}

	if cfb.IsCompoundFile(data) {
		p, err := projectFrom(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if p == nil {
			return nil, nil
		}
		return []*vba.Project{p}, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: neither OLE2 nor zip", path)
	}
	var projects []*vba.Project
	for _, f := range zr.File {
		if !strings.EqualFold(filepath.Ext(f.Name), ".bin") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			slog.Warn("unreadable archive member", "file", path, "member", f.Name, "error", err)
			continue
		}
		var r io.Reader = rc
		if max := cfg.Limits.MaxInputBytes; max > 0 {
			r = io.LimitReader(r, max)
		}
		inner, err := io.ReadAll(r)
		rc.Close()
		if err != nil {
			slog.Warn("unreadable archive member", "file", path, "member", f.Name, "error", err)
			continue
		}
		if !cfb.IsCompoundFile(inner) {
			continue
		}
		p, err := projectFrom(inner)
		if err != nil {
			slog.Warn("bad embedded container", "file", path, "member", f.Name, "error", err)
			continue
		}
		if p != nil {
			projects = append(projects, p)
		}
	}
	return projects, nil
}

func projectFrom(data []byte) (*vba.Project, error) {
	c, err := cfb.Open(data,
		cfb.WithMaxDirEntries(cfg.Limits.MaxDirEntries),
		cfb.WithMaxChainLength(cfg.Limits.MaxChainLength),
	)
	if err != nil {
		return nil, err
	}
	p, err := vba.ExtractProject(c)
	if errors.Is(err, vba.ErrNoProject) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func writeModules(p *vba.Project, dir string) error {
	if err := pathutil.CheckDirectoryWritable(appFs, dir); err != nil {
		return err
	}
	for _, m := range p.Modules {
		name := pathutil.SafeFileName(m.Name+"."+moduleType(m), "module."+moduleType(m))
		name = pathutil.UniqueName(appFs, dir, name)
		if err := afero.WriteFile(appFs, filepath.Join(dir, name), []byte(m.Code), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func moduleType(m vba.Module) string {
	if m.Type == "" {
		return "bas"
	}
	return m.Type
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + strings.TrimRight(l, "\r")
	}
	return strings.Join(lines, "\n")
}
