package epoch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// S1: single-thread advance without pins.
func TestCollectorAdvanceWithoutPins(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 4; i++ {
		require.True(t, c.TryAdvance())
	}
	require.Equal(t, Epoch(4), c.CurrentEpoch())
}

// S2: pinned thread blocks advance.
func TestCollectorPinnedThreadBlocksAdvance(t *testing.T) {
	c := NewCollector()
	hA := c.Join()
	gA := c.Pin(hA)
	require.Equal(t, Epoch(0), gA.Epoch())

	require.True(t, c.TryAdvance())
	require.Equal(t, Epoch(1), c.CurrentEpoch())

	require.False(t, c.TryAdvance())
	require.Equal(t, Epoch(1), c.CurrentEpoch())

	gA.Dispose()

	require.True(t, c.TryAdvance())
	require.Equal(t, Epoch(2), c.CurrentEpoch())
}

// S3: two-epoch grace period.
func TestCollectorTwoEpochGracePeriod(t *testing.T) {
	c := NewCollector()
	hA := c.Join()
	gA := c.Pin(hA)

	counter := 0
	gA.DeferFunc(func() { counter++ })
	gA.Dispose()

	require.True(t, c.TryAdvanceAndCollect())
	require.Equal(t, Epoch(1), c.CurrentEpoch())
	require.Equal(t, 0, counter)

	require.True(t, c.TryAdvanceAndCollect())
	require.Equal(t, Epoch(2), c.CurrentEpoch())
	require.Equal(t, 1, counter)

	stats := c.Statistics()
	require.Equal(t, int64(1), stats.Collections)
	require.Equal(t, int64(1), stats.ObjectsCollected)
}

// S6: nested pin.
func TestCollectorNestedPin(t *testing.T) {
	c := NewCollector()
	h := c.Join()

	g1 := c.Pin(h)
	g2 := c.Pin(h)

	require.True(t, c.TryAdvance())
	require.Equal(t, Epoch(1), c.CurrentEpoch())

	g1.Dispose()
	require.Equal(t, Epoch(0), g2.Epoch())

	require.False(t, c.TryAdvance())
	require.Equal(t, Epoch(1), c.CurrentEpoch())

	g2.Dispose()

	require.True(t, c.TryAdvance())
	require.Equal(t, Epoch(2), c.CurrentEpoch())
}

// Property 9: re-entrant pin depth tracks live guards, and the observed
// epoch is the one recorded by the outermost live guard.
func TestCollectorReentrantPinDepth(t *testing.T) {
	c := NewCollector()
	h := c.Join()

	g1 := c.Pin(h)
	require.True(t, c.TryAdvance()) // global epoch now 1, but g1 still sees 0

	g2 := c.Pin(h) // re-entrant: must not re-read the now-advanced epoch
	require.Equal(t, Epoch(0), g1.Epoch())
	require.Equal(t, Epoch(0), g2.Epoch())

	g2.Dispose()
	require.Equal(t, Epoch(0), g1.Epoch())

	g1.Dispose()
}

// Property 8: shutdown drain idempotence.
func TestCollectorShutdownDrainsAllBags(t *testing.T) {
	c := NewCollector()
	var ran int
	for i := 0; i < 3; i++ {
		h := c.Join()
		g := c.Pin(h)
		g.DeferFunc(func() { ran++ })
		g.Dispose()
		c.TryAdvance()
	}

	c.Shutdown()
	require.Equal(t, 3, ran)

	// Idempotent: a second Shutdown must not re-run any destructor.
	c.Shutdown()
	require.Equal(t, 3, ran)
}

func TestCollectorDeferWithoutGuardPanics(t *testing.T) {
	c := NewCollector()
	h := c.Join()
	g := c.Pin(h)
	g.Dispose()

	require.PanicsWithValue(t, ErrNotPinned, func() {
		g.DeferFunc(func() {})
	})
}

func TestCollectorPinKeyedReusesHandle(t *testing.T) {
	c := NewCollector()
	key := new(int)

	g1 := c.PinKeyed(key)
	g1.Dispose()
	g2 := c.PinKeyed(key)
	g2.Dispose()

	// Same key must resolve to the same participant slot both times.
	require.Same(t, g1.participant, g2.participant)
}

func TestCollectorActiveParticipantsMatchesTree(t *testing.T) {
	c := NewCollector()
	h1 := c.Join()
	h2 := c.Join()
	g1 := c.Pin(h1)
	g2 := c.Pin(h2)

	require.Equal(t, 2, c.ActiveParticipants())
	require.Equal(t, 2, c.tree.ActiveCount())

	g1.Dispose()
	require.Equal(t, 1, c.ActiveParticipants())
	g2.Dispose()
	require.Equal(t, 0, c.ActiveParticipants())
}

func TestCollectorJoinExhaustionPanics(t *testing.T) {
	c := NewCollector(WithMaxParticipants(2))
	c.Join()
	c.Join()
	require.PanicsWithValue(t, ErrParticipantsExhausted, func() {
		c.Join()
	})
}

// Property 3: monotonicity, under concurrent pin/defer/advance traffic
// from many goroutines.
func TestCollectorMonotonicEpochUnderConcurrency(t *testing.T) {
	c := NewCollector(WithGCFrequency(4))

	var wg sync.WaitGroup
	var destroyed int64
	var destroyedMu sync.Mutex

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := c.Join()
			for i := 0; i < 50; i++ {
				guard := c.Pin(h)
				guard.DeferFunc(func() {
					destroyedMu.Lock()
					destroyed++
					destroyedMu.Unlock()
				})
				guard.Dispose()
			}
		}()
	}
	wg.Wait()

	var last Epoch
	for i := 0; i < 20; i++ {
		c.TryAdvanceAndCollect()
		cur := c.CurrentEpoch()
		require.GreaterOrEqual(t, cur, last)
		last = cur
	}

	c.Shutdown()
	require.Equal(t, int64(8*50), destroyed)
}

func TestDeferGenericRunsBoundDestructor(t *testing.T) {
	c := NewCollector()
	h := c.Join()
	g := c.Pin(h)

	type resource struct{ closed bool }
	r := &resource{}
	Defer(g, r, func(r *resource) { r.closed = true })
	g.Dispose()

	c.TryAdvanceAndCollect()
	c.TryAdvanceAndCollect()
	require.True(t, r.closed)
}
