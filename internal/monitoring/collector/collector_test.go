package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

type stub struct{ name string }

func (s stub) Name() string        { return s.name }
func (s stub) Description() string { return "stub" }
func (s stub) Collect(context.Context) ([]model.MetricPoint, error) {
	return nil, nil
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub{name: "cpu"}))
	assert.ErrorIs(t, r.Register(stub{name: "cpu"}), ErrDuplicateCollector)
}

func TestRegistryEnabledKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub{name: "memory"}))
	require.NoError(t, r.Register(stub{name: "cpu"}))
	require.NoError(t, r.Register(stub{name: "disk"}))

	names := func() []string {
		var out []string
		for _, c := range r.Enabled() {
			out = append(out, c.Name())
		}
		return out
	}
	assert.Equal(t, []string{"memory", "cpu", "disk"}, names())

	r.SetEnabled("cpu", false)
	assert.Equal(t, []string{"memory", "disk"}, names())

	r.SetEnabled("cpu", true)
	assert.Equal(t, []string{"memory", "cpu", "disk"}, names())
}

func TestMemoryCollectorSmoke(t *testing.T) {
	points, err := NewMemoryCollector().Collect(context.Background())
	if err != nil {
		t.Skipf("host memory stats unavailable: %v", err)
	}
	names := make(map[string]bool, len(points))
	for _, p := range points {
		names[p.Name] = true
		assert.Equal(t, model.MetricGauge, p.Type)
		assert.NotZero(t, p.Timestamp)
	}
	assert.True(t, names["memory_usage"])
	assert.True(t, names["memory_total"])
}

func TestRegistryListSortedWithState(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub{name: "memory"}))
	require.NoError(t, r.Register(stub{name: "cpu"}))
	r.SetEnabled("memory", false)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "cpu", list[0].Name)
	assert.True(t, list[0].Enabled)
	assert.Equal(t, "memory", list[1].Name)
	assert.False(t, list[1].Enabled)
}
