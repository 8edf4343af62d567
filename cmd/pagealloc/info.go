// cmd/pagealloc/info.go
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sonemaro/pagealloc/pkg/pagecache"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show page sizes and pooled capacity per page kind",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := newAllocator(newLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "recycler:      %s (%d shards)\n", a.opts.Type, a.opts.Processors)
	fmt.Fprintf(out, "pool limit:    %s\n", humanize.IBytes(uint64(a.opts.Limit)))
	fmt.Fprintf(out, "page size:     %s\n", humanize.IBytes(uint64(a.pool.PageSize())))
	fmt.Fprintf(out, "pages/kind:    %d\n", a.pool.Capacity())
	fmt.Fprintf(out, "breaker:       %s (limit %s)\n\n", a.opts.BreakerName, formatLimit(a.opts.BreakerLimit))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tELEMENT\tELEMENTS/PAGE\tPOOLED MAX")
	for _, k := range pagecache.Kinds {
		pooled := int64(a.pool.Capacity()) * int64(a.pool.PageSize())
		fmt.Fprintf(w, "%s\t%dB\t%d\t%s\n",
			k, k.ElementSize(), a.pool.PageElements(k), humanize.IBytes(uint64(pooled)))
	}

	return w.Flush()
}

func formatLimit(limit int64) string {
	if limit <= 0 {
		return "unbounded"
	}
	return humanize.IBytes(uint64(limit))
}
