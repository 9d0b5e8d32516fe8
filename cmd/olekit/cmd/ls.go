package cmd

import (
	"fmt"
	"strings"

	"github.com/olekit/olekit/internal/cfb"
	"github.com/spf13/cobra"
)

var lsShowAll bool

var lsCmd = &cobra.Command{
	Use:   "ls <file>...",
	Short: "List storages and streams in a compound file",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLs,
}

func init() {
	lsCmd.Flags().BoolVarP(&lsShowAll, "all", "a", false, "include orphaned directory entries")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	return forEachInput(args, func(path string) error {
		c, err := openContainer(path)
		if err != nil {
			return err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s:\n", path)
		for _, e := range c.Entries() {
			if e.Orphaned && !lsShowAll {
				continue
			}
			marker := " "
			if e.Orphaned {
				marker = "?"
			}
			switch e.Type {
			case cfb.TypeStorage, cfb.TypeRoot:
				fmt.Fprintf(&b, "  %s storage  %*s %q\n", marker, 10, "", e.PathString())
			case cfb.TypeStream:
				fmt.Fprintf(&b, "  %s stream   %10d %q\n", marker, e.Size, e.PathString())
			}
		}
		report(b.String())
		return nil
	})
}
