package bigarrays

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sonemaro/pagealloc/pkg/breaker"
	"github.com/sonemaro/pagealloc/pkg/options"
	"github.com/sonemaro/pagealloc/pkg/pagecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fixture struct {
	pool    *pagecache.Recycler
	ledger  *breaker.Service
	plain   *BigArrays
	checked *BigArrays
}

func (f *fixture) used() int64 {
	return f.ledger.Breaker(breaker.Request).Used()
}

func newFixture(t *testing.T, poolLimit, breakerLimit int64) *fixture {
	t.Helper()

	opts := options.DefaultOptions()
	opts.Type = options.RecyclerQueue
	opts.Limit = poolLimit
	opts.Processors = 2

	pool, err := pagecache.New(opts, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ledger := breaker.NewService(nil)
	ledger.Register(breaker.Request, breakerLimit)

	plain := New(pool, ledger, breaker.Request, nil)
	return &fixture{
		pool:    pool,
		ledger:  ledger,
		plain:   plain,
		checked: plain.WithCircuitBreaking(),
	}
}

func TestViews(t *testing.T) {
	f := newFixture(t, options.DefaultLimit, 0)

	assert.False(t, f.plain.IsCircuitBreaking())
	assert.True(t, f.checked.IsCircuitBreaking())
	assert.Same(t, f.checked, f.checked.WithCircuitBreaking())
	assert.Same(t, f.plain, f.checked.WithoutCircuitBreaking())
	assert.Same(t, f.plain, f.plain.WithoutCircuitBreaking())

	assert.Same(t, f.plain.Recycler(), f.checked.Recycler())
	assert.Equal(t, f.plain.Ledger(), f.checked.Ledger())
	assert.Equal(t, breaker.Request, f.checked.BreakerName())
	assert.Equal(t, options.DefaultPageSize, f.checked.PageSize())
	assert.Equal(t, 4096, f.checked.PageElements(pagecache.IntKind))
}

func TestNewArray(t *testing.T) {
	t.Run("small arrays are flat and charged per element", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 0)

		a, err := f.checked.NewLongArray(100, false)
		require.NoError(t, err)
		assert.False(t, a.IsPaged())
		assert.Equal(t, int64(800), a.RamBytesUsed())
		assert.Equal(t, int64(800), f.used())
		assert.Equal(t, int64(0), f.pool.Stats()[pagecache.LongKind].Obtained)

		require.NoError(t, a.Release())
		assert.Equal(t, int64(0), f.used())
	})

	t.Run("one page is still flat", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 0)

		a, err := f.checked.NewByteArray(16384, false)
		require.NoError(t, err)
		assert.False(t, a.IsPaged())
		assert.Equal(t, int64(16384), f.used())
		require.NoError(t, a.Release())
	})

	t.Run("large arrays take whole pages", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 0)

		a, err := f.checked.NewByteArray(16385, false)
		require.NoError(t, err)
		assert.True(t, a.IsPaged())
		assert.Len(t, a.Pages(), 2)
		assert.Equal(t, int64(32768), a.RamBytesUsed())
		assert.Equal(t, int64(32768), f.used())
		assert.Equal(t, int64(2), f.pool.Stats()[pagecache.ByteKind].Obtained)

		require.NoError(t, a.Release())
		assert.Equal(t, int64(0), f.used())
		assert.Equal(t, 2, f.pool.Stats()[pagecache.ByteKind].Pooled)
	})

	t.Run("zero size", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 0)

		a, err := f.checked.NewIntArray(0, false)
		require.NoError(t, err)
		assert.Equal(t, int64(0), a.Size())
		assert.Equal(t, int64(0), a.RamBytesUsed())
		require.NoError(t, a.Release())
	})
}

func TestAddressingOverflow(t *testing.T) {
	f := newFixture(t, options.DefaultLimit, 0)

	for _, size := range []int64{-1, MaxSize + 1, 1 << 40} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			_, err := f.checked.NewByteArray(size, false)
			assert.ErrorIs(t, err, ErrAddressingOverflow)

			_, err = f.plain.NewLongArray(size, false)
			assert.ErrorIs(t, err, ErrAddressingOverflow)
		})
	}

	assert.Equal(t, int64(0), f.used())
	for _, kind := range pagecache.Kinds {
		assert.Equal(t, int64(0), f.pool.Stats()[kind].Obtained, kind.String())
	}

	a, err := f.checked.NewByteArray(10, false)
	require.NoError(t, err)
	_, err = f.checked.GrowByteArray(a, MaxSize+1)
	assert.ErrorIs(t, err, ErrAddressingOverflow)
	_, err = f.checked.ResizeByteArray(a, -5)
	assert.ErrorIs(t, err, ErrAddressingOverflow)
	assert.Equal(t, int64(10), a.Size())
	assert.Equal(t, int64(10), f.used())
}

func TestCircuitBreaking(t *testing.T) {
	t.Run("checked view rejects and charges nothing", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 1000)

		_, err := f.checked.NewByteArray(2000, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, breaker.ErrCircuitBreaking)

		var be *breaker.BreakingError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, int64(2000), be.Wanted)
		assert.Equal(t, reusedArraysLabel, be.Label)

		assert.Equal(t, int64(0), f.used())
	})

	t.Run("paged rejection obtains no pages", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 20000)

		_, err := f.checked.NewByteArray(20000, false)
		assert.ErrorIs(t, err, breaker.ErrCircuitBreaking)
		assert.Equal(t, int64(0), f.pool.Stats()[pagecache.ByteKind].Obtained)
		assert.Equal(t, int64(0), f.used())
	})

	t.Run("plain view records usage over the limit", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 1000)

		a, err := f.plain.NewByteArray(2000, false)
		require.NoError(t, err)
		assert.Equal(t, int64(2000), f.used())
		assert.Equal(t, int64(0), f.ledger.Breaker(breaker.Request).Trips())

		require.NoError(t, a.Release())
		assert.Equal(t, int64(0), f.used())
	})

	t.Run("rejected resize leaves the array unchanged", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 1000)

		a, err := f.checked.NewByteArray(500, false)
		require.NoError(t, err)
		a.Set(499, 42)

		_, err = f.checked.ResizeByteArray(a, 1500)
		assert.ErrorIs(t, err, breaker.ErrCircuitBreaking)
		assert.Equal(t, int64(500), a.Size())
		assert.Equal(t, byte(42), a.Get(499))
		assert.Equal(t, int64(500), f.used())

		_, err = f.checked.GrowByteArray(a, 1200)
		assert.ErrorIs(t, err, breaker.ErrCircuitBreaking)
		assert.Equal(t, int64(500), a.Size())

		require.NoError(t, a.Release())
		assert.Equal(t, int64(0), f.used())
	})

	t.Run("resize charges only the delta", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 40000)

		a, err := f.checked.NewByteArray(20000, false)
		require.NoError(t, err)
		assert.Equal(t, int64(32768), f.used())

		_, err = f.checked.ResizeByteArray(a, 30000)
		require.NoError(t, err)
		assert.Equal(t, int64(32768), f.used())

		_, err = f.checked.ResizeByteArray(a, 40000)
		assert.ErrorIs(t, err, breaker.ErrCircuitBreaking)
		assert.Equal(t, int64(30000), a.Size())

		require.NoError(t, a.Release())
		assert.Equal(t, int64(0), f.used())
	})
}

func TestWrapBytes(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 0)

		buf := []byte("hello world")
		a, err := f.checked.WrapBytes(buf)
		require.NoError(t, err)
		assert.Equal(t, int64(len(buf)), a.Size())
		assert.Equal(t, byte('w'), a.Get(6))
		assert.Equal(t, int64(len(buf)), f.used())

		require.NoError(t, a.Release())
		assert.Equal(t, int64(0), f.used())
	})

	t.Run("rejected wrap nets to zero", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 10)

		_, err := f.checked.WrapBytes(make([]byte, 100))
		assert.ErrorIs(t, err, breaker.ErrCircuitBreaking)
		assert.Equal(t, int64(0), f.used())
		assert.Equal(t, int64(1), f.ledger.Breaker(breaker.Request).Trips())
	})
}

func TestResize(t *testing.T) {
	t.Run("flat to paged keeps contents", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 0)

		a, err := f.checked.NewByteArray(100, false)
		require.NoError(t, err)
		for i := int64(0); i < 100; i++ {
			a.Set(i, byte(i))
		}

		_, err = f.checked.ResizeByteArray(a, 20000)
		require.NoError(t, err)
		assert.True(t, a.IsPaged())
		assert.Equal(t, int64(32768), f.used())
		for i := int64(0); i < 100; i++ {
			require.Equal(t, byte(i), a.Get(i))
		}
		assert.Equal(t, byte(0), a.Get(19999))

		require.NoError(t, a.Release())
		assert.Equal(t, int64(0), f.used())
	})

	t.Run("flat shrink reallocates", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 0)

		a, err := f.checked.NewIntArray(1000, false)
		require.NoError(t, err)
		a.Set(9, 7)

		_, err = f.checked.ResizeIntArray(a, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(40), a.RamBytesUsed())
		assert.Equal(t, int64(40), f.used())
		assert.Equal(t, int32(7), a.Get(9))
	})

	t.Run("paged shrink returns pages", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 0)

		a, err := f.checked.NewByteArray(40000, false)
		require.NoError(t, err)
		require.Len(t, a.Pages(), 3)

		_, err = f.checked.ResizeByteArray(a, 20000)
		require.NoError(t, err)
		assert.Len(t, a.Pages(), 2)
		assert.Equal(t, int64(32768), f.used())
		assert.Equal(t, 1, f.pool.Stats()[pagecache.ByteKind].Pooled)

		_, err = f.checked.ResizeByteArray(a, 10)
		require.NoError(t, err)
		assert.True(t, a.IsPaged())
		assert.Equal(t, int64(16384), f.used())

		require.NoError(t, a.Release())
		assert.Equal(t, int64(0), f.used())
		assert.Equal(t, 3, f.pool.Stats()[pagecache.ByteKind].Pooled)
	})

	t.Run("clear on resize zeroes the reused tail", func(t *testing.T) {
		for _, clearOnResize := range []bool{true, false} {
			t.Run(fmt.Sprint(clearOnResize), func(t *testing.T) {
				f := newFixture(t, options.DefaultLimit, 0)

				a, err := f.plain.NewByteArray(20000, clearOnResize)
				require.NoError(t, err)
				a.Set(19999, 7)

				_, err = f.plain.ResizeByteArray(a, 19000)
				require.NoError(t, err)
				_, err = f.plain.ResizeByteArray(a, 20000)
				require.NoError(t, err)

				if clearOnResize {
					assert.Equal(t, byte(0), a.Get(19999))
				} else {
					assert.Equal(t, byte(7), a.Get(19999))
				}
			})
		}
	})

	t.Run("released arrays cannot resize", func(t *testing.T) {
		f := newFixture(t, options.DefaultLimit, 0)

		a, err := f.checked.NewLongArray(10, false)
		require.NoError(t, err)
		require.NoError(t, a.Release())

		_, err = f.checked.ResizeLongArray(a, 20)
		assert.ErrorIs(t, err, ErrAlreadyReleased)
	})
}

func TestGrow(t *testing.T) {
	f := newFixture(t, options.DefaultLimit, 0)

	a, err := f.checked.NewByteArray(0, false)
	require.NoError(t, err)

	prev := a.Size()
	for _, n := range []int64{1, 7, 8, 100, 1000, 16000, 16384, 16385, 50000, 100000} {
		_, err = f.checked.GrowByteArray(a, n)
		require.NoError(t, err)
		require.GreaterOrEqual(t, a.Size(), n)
		require.GreaterOrEqual(t, a.Size(), prev)
		prev = a.Size()
	}
	assert.Equal(t, int64(7*16384), a.Size())
	assert.Equal(t, a.RamBytesUsed(), f.used())

	size := a.Size()
	_, err = f.checked.GrowByteArray(a, 10)
	require.NoError(t, err)
	assert.Equal(t, size, a.Size())

	require.NoError(t, a.Release())
	assert.Equal(t, int64(0), f.used())
}

func TestOverSize(t *testing.T) {
	tests := []struct {
		min      int64
		page     int
		elemSize int
		want     int64
	}{
		{0, 16384, 1, 0},
		{1, 16384, 1, 8},
		{100, 16384, 1, 112},
		{16000, 16384, 1, 16384},
		{16384, 16384, 1, 16384},
		{16385, 16384, 1, 32768},
		{10, 4096, 4, 14},
		{10, 2048, 8, 13},
		{MaxSize, 16384, 1, 131072 * 16384},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d/%d", tt.min, tt.page, tt.elemSize), func(t *testing.T) {
			got := OverSize(tt.min, tt.page, tt.elemSize)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, tt.min)
		})
	}

	assert.Panics(t, func() { OverSize(-1, 16384, 1) })
	assert.Panics(t, func() { OverSize(1, 0, 1) })
	assert.Panics(t, func() { OverSize(1, 16384, 0) })

	f := newFixture(t, options.DefaultLimit, 0)
	assert.Equal(t, int64(MaxSize), f.plain.growTarget(pagecache.ByteKind, MaxSize))
}

func TestZeroPagePool(t *testing.T) {
	f := newFixture(t, 0, 0)
	assert.Equal(t, 0, f.pool.Capacity())

	a, err := f.checked.NewByteArray(40000, false)
	require.NoError(t, err)
	assert.Equal(t, int64(49152), f.used())

	require.NoError(t, a.Release())
	assert.Equal(t, int64(0), f.used())

	stats := f.pool.Stats()[pagecache.ByteKind]
	assert.Equal(t, int64(3), stats.Created)
	assert.Equal(t, 0, stats.Pooled)
}

func TestPoolReuse(t *testing.T) {
	f := newFixture(t, options.DefaultLimit, 0)

	a, err := f.checked.NewLongArray(5000, false)
	require.NoError(t, err)
	require.NoError(t, a.Release())

	b, err := f.checked.NewLongArray(5000, true)
	require.NoError(t, err)
	defer b.Release()

	stats := f.pool.Stats()[pagecache.LongKind]
	assert.Equal(t, int64(3), stats.Created)
	assert.Equal(t, int64(3), stats.Recycled)
	assert.Equal(t, int64(0), b.Get(4999))
}

func TestNonRecycling(t *testing.T) {
	assert.Nil(t, NonRecycling.Recycler())
	assert.Nil(t, NonRecycling.Ledger())

	a, err := NonRecycling.WithCircuitBreaking().NewByteArray(40000, false)
	require.NoError(t, err)
	assert.True(t, a.IsPaged())
	a.Set(39999, 1)
	assert.Equal(t, byte(1), a.Get(39999))

	_, err = NonRecycling.GrowByteArray(a, 60000)
	require.NoError(t, err)
	assert.Equal(t, int64(65536), a.Size())
	require.NoError(t, a.Release())
}

func TestDoubleRelease(t *testing.T) {
	f := newFixture(t, options.DefaultLimit, 0)

	a, err := f.checked.NewByteArray(40000, false)
	require.NoError(t, err)
	require.NoError(t, a.Release())
	assert.ErrorIs(t, a.Release(), ErrAlreadyReleased)
	assert.Equal(t, int64(0), f.used())
	assert.Equal(t, 3, f.pool.Stats()[pagecache.ByteKind].Pooled)
	assert.Equal(t, int64(0), a.Size())
	assert.Equal(t, int64(0), a.RamBytesUsed())

	for _, n := range []int64{0, 100, 40000, 50000} {
		_, err = f.checked.GrowByteArray(a, n)
		assert.ErrorIs(t, err, ErrAlreadyReleased, "grow to %d", n)
	}

	l, err := f.plain.NewLongArray(10, false)
	require.NoError(t, err)
	require.NoError(t, l.Release())
	_, err = f.plain.GrowLongArray(l, 5)
	assert.ErrorIs(t, err, ErrAlreadyReleased)
	assert.Equal(t, int64(0), f.used())
}

func TestByteArrayBulk(t *testing.T) {
	f := newFixture(t, options.DefaultLimit, 0)

	for _, size := range []int64{1000, 40000} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			a, err := f.checked.NewByteArray(size, false)
			require.NoError(t, err)
			defer a.Release()

			src := make([]byte, 600)
			for i := range src {
				src[i] = byte(i % 251)
			}

			// crosses the first page boundary when paged
			at := min(size-500, 16384-250)
			a.SetBytes(at, src, 100, 500)

			dst := make([]byte, 500)
			n := a.ReadBytes(at, dst)
			assert.Equal(t, 500, n)
			assert.Equal(t, src[100:], dst)

			assert.Panics(t, func() { a.SetBytes(size-10, src, 0, 11) })
			assert.Panics(t, func() { a.ReadBytes(size+1, dst) })
		})
	}
}

func TestTypedArrays(t *testing.T) {
	f := newFixture(t, options.DefaultLimit, 0)

	t.Run("int", func(t *testing.T) {
		a, err := f.checked.NewIntArray(10000, false)
		require.NoError(t, err)
		defer a.Release()

		assert.Equal(t, int32(5), a.Increment(4097, 5))
		assert.Equal(t, int32(3), a.Increment(4097, -2))
		a.Fill(4000, 5000, 9)
		assert.Equal(t, int32(9), a.Get(4096))
		assert.Equal(t, int32(0), a.Get(5000))
		assert.Panics(t, func() { a.Fill(0, 10001, 1) })
	})

	t.Run("long", func(t *testing.T) {
		a, err := f.checked.NewLongArray(3000, false)
		require.NoError(t, err)
		defer a.Release()

		a.Set(2999, 1<<40)
		assert.Equal(t, int64(1<<40+1), a.Increment(2999, 1))
		assert.Equal(t, int64(2*16384), a.RamBytesUsed())
	})

	t.Run("object pages are cleared on release", func(t *testing.T) {
		a, err := f.checked.NewObjectArray(3000)
		require.NoError(t, err)
		a.Set(2047, "x")
		assert.Nil(t, a.Swap(10, "y"))
		assert.Equal(t, "y", a.Swap(10, nil))
		require.NoError(t, a.Release())

		b, err := f.checked.NewObjectArray(3000)
		require.NoError(t, err)
		defer b.Release()
		for i := int64(0); i < b.Size(); i++ {
			require.Nil(t, b.Get(i))
		}
	})
}

func TestConcurrentAllocation(t *testing.T) {
	f := newFixture(t, options.DefaultLimit, 0)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				a, err := f.checked.NewByteArray(0, false)
				if err != nil {
					return err
				}
				if _, err := f.checked.GrowByteArray(a, int64(1000*(i+1))); err != nil {
					return err
				}
				if err := a.Release(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(0), f.used())
}

func BenchmarkGrowByteArray(b *testing.B) {
	ba := New(nil, breaker.Noop, breaker.Request, nil)
	for i := 0; i < b.N; i++ {
		a, _ := ba.NewByteArray(0, false)
		for n := int64(1); n < 1<<17; n *= 2 {
			_, _ = ba.GrowByteArray(a, n)
		}
		_ = a.Release()
	}
}
