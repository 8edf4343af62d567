// cmd/pagealloc/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pagealloc",
	Short: "pagealloc - pooled page allocator toolkit",
	Long: `pagealloc inspects and exercises the pooled page cache, the big array
allocator and its circuit breaker, and the append byte stream built on them.`,
	SilenceUsage: true,
}

var (
	logLevel     string
	poolLimit    string
	recyclerType string
	pageSize     string
	processors   int
	breakerLimit string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&poolLimit, "limit", "1MiB", "total bytes the page cache may pool")
	rootCmd.PersistentFlags().StringVar(&recyclerType, "type", "concurrent", "recycler type (concurrent, queue, none)")
	rootCmd.PersistentFlags().StringVar(&pageSize, "page-size", "16KiB", "page size, a power of two")
	rootCmd.PersistentFlags().IntVar(&processors, "processors", 0, "shards for the concurrent recycler (0 = GOMAXPROCS)")
	rootCmd.PersistentFlags().StringVar(&breakerLimit, "breaker-limit", "0", "request breaker limit (0 = unbounded)")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(stressCmd)
	rootCmd.AddCommand(oversizeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
