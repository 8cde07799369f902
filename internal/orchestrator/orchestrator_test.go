package orchestrator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

func zone(name string, priority int) store.Zone {
	z := store.Zone{Name: name}
	if priority > 0 {
		z.Configuration = fmt.Sprintf(`{"priority": %d}`, priority)
	}
	return z
}

func TestPlanStartupOrdering(t *testing.T) {
	zones := []store.Zone{
		zone("db01", 90),
		zone("web01", 50),
		zone("web02", 50),
		zone("batch01", 10),
	}

	groups := Plan(zones, descending)
	require.Len(t, groups, 3)

	require.Equal(t, 90, groups[0].Priority)
	require.Equal(t, []string{"db01"}, groups[0].Zones)

	require.Equal(t, 50, groups[1].Priority)
	require.Equal(t, []string{"web01", "web02"}, groups[1].Zones)

	require.Equal(t, 10, groups[2].Priority)
}

func TestPlanShutdownOrdering(t *testing.T) {
	zones := []store.Zone{
		zone("db01", 90),
		zone("batch01", 10),
	}

	groups := Plan(zones, ascending)
	require.Len(t, groups, 2)
	require.Equal(t, 10, groups[0].Priority)
	require.Equal(t, 90, groups[1].Priority)
}

func TestZonePriorityDefaults(t *testing.T) {
	require.Equal(t, 50, zonePriority(store.Zone{Name: "bare"}))
	require.Equal(t, 50, zonePriority(store.Zone{Name: "bad", Configuration: "not json"}))
	require.Equal(t, 50, zonePriority(store.Zone{Name: "zero", Configuration: `{"priority": 0}`}))
	require.Equal(t, 75, zonePriority(store.Zone{Name: "set", Configuration: `{"priority": 75, "brand": "bhyve"}`}))
}
