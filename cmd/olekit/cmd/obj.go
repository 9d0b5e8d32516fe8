package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/olekit/olekit/internal/oleobject"
	"github.com/spf13/cobra"
)

var (
	objExtract bool
	objOutput  string
)

var objCmd = &cobra.Command{
	Use:   "obj <file>...",
	Short: "List and extract embedded OLE objects",
	Long:  "obj finds Ole10Native packages, Package streams and CONTENTS streams. With --extract the payloads are carved to disk under sanitized file names.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runObj,
}

func init() {
	objCmd.Flags().BoolVarP(&objExtract, "extract", "x", false, "write object payloads to the output directory")
	objCmd.Flags().StringVarP(&objOutput, "output", "o", "", "output directory (default from config)")
	rootCmd.AddCommand(objCmd)
}

func runObj(cmd *cobra.Command, args []string) error {
	return forEachInput(args, func(path string) error {
		c, err := openContainer(path)
		if err != nil {
			return err
		}
		recs := oleobject.Scan(c)
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %d embedded object(s)\n", path, len(recs))
		for i := range recs {
			rec := &recs[i]
			fmt.Fprintf(&b, "  %q format=%s size=%d\n", rec.StreamPath, rec.Format, rec.Size)
			if rec.ClassID != (uuid.UUID{}) {
				fmt.Fprintf(&b, "    clsid:  %s\n", rec.ClassID)
			}
			if rec.Label != "" {
				fmt.Fprintf(&b, "    label:  %q\n", rec.Label)
			}
			if rec.SourcePath != "" {
				fmt.Fprintf(&b, "    source: %q\n", rec.SourcePath)
			}
			if rec.TempPath != "" {
				fmt.Fprintf(&b, "    temp:   %q\n", rec.TempPath)
			}
			if rec.Err != nil {
				fmt.Fprintf(&b, "    error:  %v\n", rec.Err)
			}
		}
		if objExtract {
			dir := objOutput
			if dir == "" {
				dir = cfg.Extract.OutputDir
			}
			written, err := oleobject.ExtractAll(c, appFs, dir)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			for _, w := range written {
				fmt.Fprintf(&b, "  wrote %s\n", w)
			}
			slog.Info("extracted embedded objects", "file", path, "count", len(written), "dir", dir)
		}
		report(b.String())
		return nil
	})
}
