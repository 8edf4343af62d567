// cmd/pagealloc/oversize.go
package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sonemaro/pagealloc/pkg/bigarrays"
	"github.com/sonemaro/pagealloc/pkg/pagecache"
	"github.com/spf13/cobra"
)

var oversizeKind string

var oversizeCmd = &cobra.Command{
	Use:   "oversize <elements>...",
	Short: "Print the capacity a growing array would allocate",
	Long: `Prints the over-sized capacity for each requested element count, as used
when a big array or a stream grows. Below one page growth is geometric,
from one page on it is rounded up to whole pages.

Example:
  pagealloc oversize 1 100 16000 16385
  pagealloc oversize --kind long 5000`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOversize,
}

func init() {
	oversizeCmd.Flags().StringVar(&oversizeKind, "kind", "byte", "element kind (byte, int, long, object)")
}

func parseKind(s string) (pagecache.Kind, error) {
	for _, k := range pagecache.Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

func runOversize(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions()
	if err != nil {
		return err
	}
	kind, err := parseKind(oversizeKind)
	if err != nil {
		return err
	}
	pageElems := opts.PageSize / kind.ElementSize()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUESTED\tCAPACITY\tBYTES")
	for _, arg := range args {
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid element count %q", arg)
		}

		size := min(bigarrays.OverSize(n, pageElems, kind.ElementSize()), bigarrays.MaxSize)
		fmt.Fprintf(w, "%d\t%d\t%s\n", n, size, humanize.IBytes(uint64(size)*uint64(kind.ElementSize())))
	}

	return w.Flush()
}
