// cmd/pagealloc/utils.go
package main

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/sonemaro/pagealloc/pkg/bigarrays"
	"github.com/sonemaro/pagealloc/pkg/breaker"
	"github.com/sonemaro/pagealloc/pkg/logger"
	"github.com/sonemaro/pagealloc/pkg/options"
	"github.com/sonemaro/pagealloc/pkg/pagecache"
)

func newLogger() *logger.Manager {
	return logger.NewManager(logLevel == "debug").SetLevel(logger.ParseLevel(logLevel))
}

func parseSize(flag, value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid --%s: %s is too large", flag, value)
	}
	return int64(n), nil
}

// loadOptions turns the global flags into validated options.
func loadOptions() (options.Options, error) {
	opts := options.DefaultOptions()

	var err error
	if opts.Limit, err = parseSize("limit", poolLimit); err != nil {
		return opts, err
	}
	if opts.Type, err = options.ParseRecyclerType(recyclerType); err != nil {
		return opts, err
	}

	size, err := parseSize("page-size", pageSize)
	if err != nil {
		return opts, err
	}
	if size > options.MaxPageSize {
		return opts, fmt.Errorf("invalid --page-size: %w", options.ErrInvalidPageSize)
	}
	opts.PageSize = int(size)

	if processors > 0 {
		opts.Processors = processors
	}
	if opts.BreakerLimit, err = parseSize("breaker-limit", breakerLimit); err != nil {
		return opts, err
	}

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

type allocator struct {
	opts     options.Options
	pool     *pagecache.Recycler
	breakers *breaker.Service
	arrays   *bigarrays.BigArrays
}

func newAllocator(log *logger.Manager) (*allocator, error) {
	opts, err := loadOptions()
	if err != nil {
		return nil, err
	}

	pool, err := pagecache.New(opts, log.Named("pagecache"))
	if err != nil {
		return nil, err
	}

	breakers := breaker.NewService(log)
	breakers.Register(opts.BreakerName, opts.BreakerLimit)

	return &allocator{
		opts:     opts,
		pool:     pool,
		breakers: breakers,
		arrays:   bigarrays.New(pool, breakers, opts.BreakerName, log),
	}, nil
}

func (a *allocator) Close() {
	a.pool.Close()
}
