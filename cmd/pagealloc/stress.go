// cmd/pagealloc/stress.go
package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sonemaro/pagealloc/pkg/bigarrays"
	"github.com/sonemaro/pagealloc/pkg/breaker"
	"github.com/sonemaro/pagealloc/pkg/checksum"
	"github.com/sonemaro/pagealloc/pkg/options"
	"github.com/sonemaro/pagealloc/pkg/pagecache"
	"github.com/sonemaro/pagealloc/pkg/stream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	stressWorkers    int
	stressIterations int
	stressPayload    string
	stressWrites     int
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run concurrent stream writers through the circuit-breaking allocator",
	Long: `Each worker repeatedly fills a releasable stream with payload writes,
frames its content with a checksum, verifies the frame and releases the
stream. Writes rejected by the breaker are counted,
not fatal. The run fails if any memory is still charged to the breaker
once all workers are done.`,
	Args: cobra.NoArgs,
	RunE: runStress,
}

func init() {
	stressCmd.Flags().IntVar(&stressWorkers, "workers", 8, "concurrent writers")
	stressCmd.Flags().IntVar(&stressIterations, "iterations", 1000, "streams per worker")
	stressCmd.Flags().IntVar(&stressWrites, "writes", 16, "payload writes per stream")
	stressCmd.Flags().StringVar(&stressPayload, "payload", "4KiB", "size of one write")
}

type stressResult struct {
	streams  atomic.Int64
	rejected atomic.Int64
	written  atomic.Int64
}

func runStress(cmd *cobra.Command, args []string) error {
	log := newLogger()

	payloadSize, err := parseSize("payload", stressPayload)
	if err != nil {
		return err
	}
	if stressWorkers <= 0 || stressIterations <= 0 || stressWrites <= 0 {
		return errors.New("--workers, --iterations and --writes must be positive")
	}

	a, err := newAllocator(log)
	if err != nil {
		return err
	}
	defer a.Close()

	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	checked := a.arrays.WithCircuitBreaking()
	crc, err := checksum.NewManager(options.DefaultChecksumConfig())
	if err != nil {
		return err
	}
	want := expectedChecksum(crc, payload, stressWrites)

	var res stressResult
	start := time.Now()

	g, ctx := errgroup.WithContext(cmd.Context())
	for w := 0; w < stressWorkers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < stressIterations; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := writeStream(checked, payload, crc, want, &res); err != nil {
					return fmt.Errorf("worker %d: %w", w, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	elapsed := time.Since(start)

	log.Info("stress run finished",
		"streams", res.streams.Load(),
		"rejected", res.rejected.Load(),
		"elapsed", elapsed)

	printStressReport(cmd, a, &res, elapsed)

	used := a.breakers.Breaker(a.opts.BreakerName).Used()
	if used != 0 {
		return fmt.Errorf("breaker %q still charged %d bytes after all streams were released", a.opts.BreakerName, used)
	}
	return nil
}

func writeStream(ba *bigarrays.BigArrays, payload []byte, crc *checksum.Manager, want uint32, res *stressResult) error {
	out := stream.NewReleasableOutput(ba)
	defer out.Close()

	for j := 0; j < stressWrites; j++ {
		if _, err := out.Write(payload); err != nil {
			if errors.Is(err, breaker.ErrCircuitBreaking) {
				res.rejected.Add(1)
				return nil
			}
			return err
		}
	}

	ref, err := out.Bytes()
	if err != nil {
		return err
	}
	// the frame is a flat copy, so verifying it also checks the paged reads
	content, got, err := crc.Unframe(crc.Append(nil, ref))
	if err != nil {
		return err
	}
	if got != want || int64(len(content)) != out.Size() {
		return fmt.Errorf("%w: got %08x over %d bytes, want %08x over %d bytes",
			checksum.ErrMismatch, got, len(content), want, out.Size())
	}

	res.streams.Add(1)
	res.written.Add(out.Size())
	return nil
}

func expectedChecksum(crc *checksum.Manager, payload []byte, writes int) uint32 {
	out := stream.NewOutput(nil)
	defer out.Release()

	for i := 0; i < writes; i++ {
		_, _ = out.Write(payload)
	}
	sum, _ := out.Checksum(crc)
	return sum
}

func printStressReport(cmd *cobra.Command, a *allocator, res *stressResult, elapsed time.Duration) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "streams:   %d completed, %d rejected by the breaker\n", res.streams.Load(), res.rejected.Load())
	fmt.Fprintf(out, "written:   %s in %s\n", humanize.IBytes(uint64(res.written.Load())), elapsed.Round(time.Millisecond))

	for _, s := range a.breakers.Stats() {
		fmt.Fprintf(out, "breaker:   %s used=%s limit=%s trips=%d\n",
			s.Name, humanize.IBytes(uint64(max(s.Used, 0))), formatLimit(s.Limit), s.Trips)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tOBTAINED\tRECYCLED\tCREATED\tRELEASED\tDROPPED\tPOOLED")
	stats := a.pool.Stats()
	for _, k := range pagecache.Kinds {
		s := stats[k]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n", k,
			humanize.Comma(s.Obtained), humanize.Comma(s.Recycled), humanize.Comma(s.Created),
			humanize.Comma(s.Released), humanize.Comma(s.Dropped), s.Pooled)
	}
	_ = w.Flush()
}
