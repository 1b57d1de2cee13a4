package cowindex

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"nexusepoch/pkg/epoch"
)

func TestIndexInsertGetDelete(t *testing.T) {
	idx := New(epoch.NewCollector())

	require.NoError(t, idx.Insert(1, []byte("one")))
	require.NoError(t, idx.Insert(2, []byte("two")))

	v, err := idx.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v)

	require.NoError(t, idx.Delete(1))
	_, err = idx.Get(1)
	require.ErrorIs(t, err, ErrKeyNotFound)

	v, err = idx.Get(2)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), v)
}

func TestIndexRejectsReservedKey(t *testing.T) {
	idx := New(epoch.NewCollector())
	require.ErrorIs(t, idx.Insert(epoch.INACTIVE, []byte("x")), ErrInvalidKey)
	require.ErrorIs(t, idx.Delete(epoch.INACTIVE), ErrInvalidKey)
}

func TestIndexSplitsAcrossManyKeys(t *testing.T) {
	idx := NewWithConfig(epoch.NewCollector(), NodeConfig{MaxKeys: 4})
	for i := 1; i <= 200; i++ {
		key := epoch.Epoch(i)
		require.NoError(t, idx.Insert(key, []byte(fmt.Sprintf("v-%d", i))))
	}
	require.Equal(t, int64(200), idx.KeyCount())
	require.Greater(t, idx.Stats().SplitCount, int64(0))

	for i := 1; i <= 200; i++ {
		v, err := idx.Get(epoch.Epoch(i))
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("v-%d", i)), v)
	}
}

func TestIndexRangeScanIsOrdered(t *testing.T) {
	idx := NewWithConfig(epoch.NewCollector(), NodeConfig{MaxKeys: 4})
	for i := 1; i <= 50; i++ {
		key := epoch.Epoch(i)
		require.NoError(t, idx.Insert(key, []byte(fmt.Sprintf("v-%d", i))))
	}

	var seen []epoch.Epoch
	require.NoError(t, idx.Range(10, 20, func(k epoch.Epoch, v []byte) bool {
		seen = append(seen, k)
		return true
	}))
	require.Len(t, seen, 11)
	require.Equal(t, epoch.Epoch(10), seen[0])
	require.Equal(t, epoch.Epoch(20), seen[len(seen)-1])
}

func TestIndexDeleteRebalancesViaBorrowAndMerge(t *testing.T) {
	idx := NewWithConfig(epoch.NewCollector(), NodeConfig{MaxKeys: 4})
	const n = 120
	for i := 1; i <= n; i++ {
		require.NoError(t, idx.Insert(epoch.Epoch(i), []byte(fmt.Sprintf("v-%d", i))))
	}

	// Delete every other key: this is enough to force most leaves below
	// their minimum occupancy, exercising both the borrow and merge paths
	// rather than just one.
	for i := 1; i <= n; i += 2 {
		require.NoError(t, idx.Delete(epoch.Epoch(i)))
	}
	require.Equal(t, int64(n/2), idx.KeyCount())

	stats := idx.Stats()
	require.True(t, stats.MergeCount > 0 || stats.BorrowCount > 0,
		"expected delete-driven rebalancing to borrow or merge at least once")

	for i := 2; i <= n; i += 2 {
		v, err := idx.Get(epoch.Epoch(i))
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("v-%d", i)), v)
	}
	for i := 1; i <= n; i += 2 {
		_, err := idx.Get(epoch.Epoch(i))
		require.ErrorIs(t, err, ErrKeyNotFound)
	}

	var ordered []epoch.Epoch
	require.NoError(t, idx.ForEach(func(k epoch.Epoch, _ []byte) bool {
		ordered = append(ordered, k)
		return true
	}))
	for i := 1; i < len(ordered); i++ {
		require.Less(t, ordered[i-1], ordered[i])
	}
}

func TestCursorIteratesInOrder(t *testing.T) {
	idx := NewWithConfig(epoch.NewCollector(), NodeConfig{MaxKeys: 4})
	for i := 1; i <= 30; i++ {
		require.NoError(t, idx.Insert(epoch.Epoch(i), []byte(fmt.Sprintf("v-%d", i))))
	}

	c := idx.Cursor()
	defer c.Close()

	c.First()
	count := 0
	var last epoch.Epoch
	for c.Valid() {
		if count > 0 {
			require.Less(t, last, c.Key())
		}
		last = c.Key()
		count++
		c.Next()
	}
	require.Equal(t, 30, count)
}

// A writer retiring old nodes while readers are mid-walk must never panic
// or corrupt a reader's view: this is cowindex's end-to-end exercise of
// the reclamation engine's safety property.
func TestIndexConcurrentReadersDuringWrites(t *testing.T) {
	idx := NewWithConfig(epoch.NewCollector(), NodeConfig{MaxKeys: 8})
	for i := 1; i <= 100; i++ {
		require.NoError(t, idx.Insert(epoch.Epoch(i), []byte(fmt.Sprintf("v-%d", i))))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = idx.Get(50)
			}
		}()
	}

	for i := 101; i <= 300; i++ {
		require.NoError(t, idx.Insert(epoch.Epoch(i), []byte(fmt.Sprintf("v-%d", i))))
	}
	close(stop)
	wg.Wait()

	require.Equal(t, int64(300), idx.KeyCount())
}

func TestIndexCloseRejectsFurtherOperations(t *testing.T) {
	idx := New(epoch.NewCollector())
	require.NoError(t, idx.Close())
	require.ErrorIs(t, idx.Insert(1, []byte("one")), ErrIndexClosed)
}
