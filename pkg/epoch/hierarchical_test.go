package epoch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeDepthRounding(t *testing.T) {
	cases := []struct {
		requested    int
		wantCapacity int
		wantDepth    int
	}{
		{1, 4, 1},
		{4, 4, 1},
		{5, 16, 2},
		{16, 16, 2},
		{17, 64, 3},
		{32, 64, 3},
		{256, 256, 4},
	}
	for _, c := range cases {
		capacity, depth := computeDepth(c.requested, DefaultBranchingFactor)
		require.Equalf(t, c.wantCapacity, capacity, "requested=%d", c.requested)
		require.Equalf(t, c.wantDepth, depth, "requested=%d", c.requested)
	}
}

// S5: capacity rounding.
func TestHierarchicalTreeCapacityRounding(t *testing.T) {
	tree := NewHierarchicalTree(17)
	require.Equal(t, 64, tree.Capacity())
	require.Equal(t, 3, tree.Depth())
}

// S4: hierarchical minimum across 16 threads.
func TestHierarchicalTreeGlobalMinimum16(t *testing.T) {
	tree := NewHierarchicalTree(16)
	values := []Epoch{5, 7, 3, 9, 11, 8, 6, 12, 4, 13, 10, 11, 12, 13, 14, 4}
	for i, v := range values {
		tree.UpdateLocal(i, v)
	}
	require.Equal(t, Epoch(3), tree.GlobalMinimum())

	tree.UpdateLocal(2, INACTIVE)
	require.Equal(t, Epoch(4), tree.GlobalMinimum())
}

// Property 5: quiescent correctness.
func TestHierarchicalTreeQuiescentCorrectness(t *testing.T) {
	tree := NewHierarchicalTree(64)
	for i := 0; i < tree.Capacity(); i++ {
		tree.UpdateLocal(i, Epoch(i+1))
	}
	require.Equal(t, Epoch(1), tree.GlobalMinimum())

	var want Epoch = INACTIVE
	for i := 0; i < tree.Capacity(); i++ {
		if i%3 == 0 {
			tree.UpdateLocal(i, INACTIVE)
			continue
		}
		if want == INACTIVE || tree.LocalEpoch(i) < want {
			want = tree.LocalEpoch(i)
		}
	}
	require.Equal(t, want, tree.GlobalMinimum())
}

func TestHierarchicalTreeAllInactiveIsInactive(t *testing.T) {
	tree := NewHierarchicalTree(16)
	require.Equal(t, INACTIVE, tree.GlobalMinimum())
	require.Equal(t, 0, tree.ActiveCount())
}

func TestHierarchicalTreeCanReclaim(t *testing.T) {
	tree := NewHierarchicalTree(4)
	tree.UpdateLocal(0, 5)
	require.True(t, tree.CanReclaim(3))
	require.False(t, tree.CanReclaim(5))
	require.False(t, tree.CanReclaim(6))

	tree.UpdateLocal(0, INACTIVE)
	require.False(t, tree.CanReclaim(0))
}

func TestHierarchicalTreeActiveCount(t *testing.T) {
	tree := NewHierarchicalTree(16)
	for i := 0; i < 5; i++ {
		tree.UpdateLocal(i, Epoch(i))
	}
	require.Equal(t, 5, tree.ActiveCount())
}

func TestNewHierarchicalTreePanicsPastMaxDepth(t *testing.T) {
	require.Panics(t, func() {
		NewHierarchicalTree(1000, WithMaxDepth(2))
	})
}
