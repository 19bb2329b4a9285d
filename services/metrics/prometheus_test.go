package metricsvc

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-pkl/core/placement"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPrometheus(reg, "test")
	require.NoError(t, err)

	c.AssignmentCreated()
	c.AssignmentCreated()
	c.AssignmentRejected(placement.RejectedHostAtCapacity)
	c.AssignmentDeleted()
	c.MoveApplied()
	c.MoveConfirmed()
	c.MutationFailed("assign")
	c.Resynced(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.assignments.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.assignments.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejections.WithLabelValues("host_at_capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("assign")))

	expected := `
# HELP test_board_resyncs_total Board reloads following a failed mutation, by outcome.
# TYPE test_board_resyncs_total counter
test_board_resyncs_total{ok="true"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_board_resyncs_total"))

	_, err = NewPrometheus(reg, "test")
	assert.Error(t, err, "collectors are registered once per registry")
}
