package filecache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mustCreate writes an empty file at every path so the cache has something
// real to open.
func mustCreate(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	}
}

func TestOpenEvictsOldest(t *testing.T) {
	fc := New(2)

	tmp := t.TempDir()
	fooName := filepath.Join(tmp, "foo")
	barName := filepath.Join(tmp, "bar")
	bazName := filepath.Join(tmp, "baz")
	mustCreate(t, fooName, barName, bazName)

	_, err := fc.Open(fooName)
	require.NoError(t, err)

	barFile, err := fc.Open(barName)
	require.NoError(t, err)
	require.NoError(t, fc.Close(barFile))

	fooFile, err := fc.Open(fooName)
	require.NoError(t, err)
	require.Equal(t, 2, fc.Len())

	// Opening a third distinct name evicts bar: it's least-recently-used
	// and has no outstanding borrow.
	bazFile, err := fc.Open(bazName)
	require.NoError(t, err)
	require.Equal(t, 2, fc.Len())

	// bar was closed on eviction, so a fresh Close on its old handle fails.
	require.Error(t, barFile.Close())

	barFile, err = fc.Open(barName)
	require.NoError(t, err)
	require.NoError(t, fc.Close(barFile))

	require.NoError(t, fc.Close(fooFile))
	require.NoError(t, fc.Close(fooFile))
	err = fc.Close(fooFile)
	require.ErrorContains(t, err, os.ErrClosed.Error())

	require.NoError(t, fc.Close(bazFile))
}

func TestEvictionKeepsHandleAliveUntilDrained(t *testing.T) {
	// A handle with outstanding borrows must survive eviction: the cache
	// defers the real close until the last Close lands.
	fc := New(2)

	tmp := t.TempDir()
	fooName := filepath.Join(tmp, "foo")
	barName := filepath.Join(tmp, "bar")
	bazName := filepath.Join(tmp, "baz")
	mustCreate(t, fooName, barName, bazName)

	fooFile, err := fc.Open(fooName)
	require.NoError(t, err)
	_, err = fc.Open(fooName)
	require.NoError(t, err)
	_, err = fc.Open(fooName)
	require.NoError(t, err)

	barFile, err := fc.Open(barName)
	require.NoError(t, err)
	require.NoError(t, fc.Close(barFile))
	require.Equal(t, 2, fc.Len())

	// foo (3 outstanding borrows) gets evicted by baz, but stays open.
	bazFile, err := fc.Open(bazName)
	require.NoError(t, err)
	require.Equal(t, 2, fc.Len())
	require.NoError(t, fc.Close(bazFile))

	// Reopening foo now yields a distinct handle: the evicted one is
	// draining, not reusable.
	fooFileX, err := fc.Open(fooName)
	require.NoError(t, err)
	require.NotEqual(t, fooFile, fooFileX)
	require.NoError(t, fc.Close(fooFileX))

	// Three closes drain the original handle's three borrows.
	require.NoError(t, fc.Close(fooFile))
	require.NoError(t, fc.Close(fooFile))
	require.NoError(t, fc.Close(fooFile))
	err = fc.Close(fooFile)
	require.ErrorContains(t, err, os.ErrClosed.Error())
}

func TestZeroCapacityBypassesCache(t *testing.T) {
	fc := New(0)
	require.Zero(t, fc.Len())
	require.Zero(t, fc.Cap())

	tmp := t.TempDir()
	fooName := filepath.Join(tmp, "foo")
	barName := filepath.Join(tmp, "bar")
	mustCreate(t, fooName, barName)

	file1, err := fc.Open(fooName)
	require.NoError(t, err)
	require.Zero(t, fc.Len())

	file2, err := fc.Open(barName)
	require.NoError(t, err)
	require.Zero(t, fc.Len())

	require.NoError(t, fc.Close(file1))
	require.NoError(t, fc.Close(file2))
}

func TestConcurrentOpenClose(t *testing.T) {
	const (
		capacity    = 3
		concurrency = 200
		reps        = 20
		delay       = 200 * time.Microsecond
	)

	fc := New(capacity)

	tmp := t.TempDir()
	names := []string{
		filepath.Join(tmp, "docids"),
		filepath.Join(tmp, "freqs"),
		filepath.Join(tmp, "document_index"),
		filepath.Join(tmp, "lexicon"),
	}
	mustCreate(t, names...)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		name := names[i%len(names)]
		go func(name string) {
			defer wg.Done()
			for x := 0; x < reps; x++ {
				f, err := fc.Open(name)
				require.NoError(t, err, "opening file %s", name)
				time.Sleep(delay)
				require.NoError(t, fc.Close(f), "closing file %s", name)
			}
		}(name)
	}
	wg.Wait()

	for name, elem := range fc.byName {
		h := elem.Value.(*handle)
		require.Zero(t, h.refs, "expected zero ref count for cached file %s", name)
	}
	require.Zero(t, len(fc.draining))
}
