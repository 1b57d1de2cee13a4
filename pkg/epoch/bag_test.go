package epoch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGarbageBagDrainRunsEachDestructorOnce(t *testing.T) {
	b := newGarbageBag()
	require.True(t, b.isEmpty())

	var ran []int
	for i := 0; i < 5; i++ {
		i := i
		b.defer_(retirement{destroy: func() { ran = append(ran, i) }})
	}
	require.Equal(t, 5, b.len())

	n := b.drain()
	require.Equal(t, 5, n)
	require.Equal(t, []int{0, 1, 2, 3, 4}, ran)
	require.True(t, b.isEmpty())

	// Draining an already-empty bag runs nothing and is not an error.
	require.Equal(t, 0, b.drain())
}
