package cmd

import (
	"fmt"
	"strings"

	"github.com/olekit/olekit/internal/cfb"
	"github.com/spf13/cobra"
)

var mapFull bool

var mapCmd = &cobra.Command{
	Use:   "map <file>...",
	Short: "Show sector allocation for a compound file",
	Long:  "map classifies every sector in the file (FAT, directory, stream, free, orphaned, bad). Orphaned sectors are allocated but unreachable from any directory entry and often hide carved-out payloads.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMap,
}

func init() {
	mapCmd.Flags().BoolVar(&mapFull, "full", false, "print one line per sector instead of totals")
	rootCmd.AddCommand(mapCmd)
}

func runMap(cmd *cobra.Command, args []string) error {
	return forEachInput(args, func(path string) error {
		c, err := openContainer(path)
		if err != nil {
			return err
		}
		m := c.SectorMap()
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %d sectors\n", path, len(m))
		if mapFull {
			for i, sc := range m {
				fmt.Fprintf(&b, "  %6d %s\n", i, sc)
			}
		} else {
			counts := make(map[cfb.SectorClass]int)
			for _, sc := range m {
				counts[sc]++
			}
			order := []cfb.SectorClass{
				cfb.SectorFAT, cfb.SectorDIFAT, cfb.SectorMiniFAT,
				cfb.SectorDirectory, cfb.SectorStream, cfb.SectorMiniStream,
				cfb.SectorFree, cfb.SectorOrphaned, cfb.SectorBad,
			}
			for _, sc := range order {
				if n := counts[sc]; n > 0 {
					fmt.Fprintf(&b, "  %-10s %d\n", sc, n)
				}
			}
		}
		report(b.String())
		return nil
	})
}
