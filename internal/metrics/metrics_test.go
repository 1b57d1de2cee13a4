package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"nexusepoch/pkg/epoch"
)

func TestCollectorExportsFourSeries(t *testing.T) {
	c := epoch.NewCollector()
	c.TryAdvance()

	mc := New(c, "nexusepoch", "epoch")
	require.Equal(t, 4, testutil.CollectAndCount(mc))
}
