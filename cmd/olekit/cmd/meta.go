package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/olekit/olekit/internal/propset"
	"github.com/spf13/cobra"
)

var metaCmd = &cobra.Command{
	Use:   "meta <file>...",
	Short: "Print document metadata from property set streams",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMeta,
}

func init() {
	rootCmd.AddCommand(metaCmd)
}

func runMeta(cmd *cobra.Command, args []string) error {
	return forEachInput(args, func(path string) error {
		c, err := openContainer(path)
		if err != nil {
			return err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s:\n", path)
		for _, e := range propset.Find(c) {
			name := e.PathString()
			ps, err := propset.Read(c, name)
			if err != nil {
				slog.Warn("unreadable property stream", "file", path, "stream", name, "error", err)
				fmt.Fprintf(&b, "  %q: %v\n", name, err)
				continue
			}
			fmt.Fprintf(&b, "  %q:\n", name)
			for _, sec := range ps.Sections {
				for _, p := range sec.Properties {
					label := p.Name
					if label == "" {
						label = fmt.Sprintf("PID %d", p.ID)
					}
					if p.Value == nil {
						fmt.Fprintf(&b, "    %-20s <type 0x%04X, %d bytes>\n", label, uint32(p.Type), len(p.Raw))
						continue
					}
					fmt.Fprintf(&b, "    %-20s %v\n", label, p.Value)
				}
			}
		}
		report(b.String())
		return nil
	})
}
