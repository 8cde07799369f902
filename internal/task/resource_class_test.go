package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResourceClass(t *testing.T) {
	cases := []struct {
		op   string
		want string
	}{
		{"zpool_create", "zpool"},
		{"zpool_scrub", "zpool"},
		{"zfs_create_snapshot", "zfs"},
		{"dhcp_add_host", "dhcp"},
		{"nat_create", "nat"},
		{"artifact_upload_process", "artifact"},
		{"provision_image", "provision"},
		// Unprefixed system operations serialize only against themselves.
		{"discover", "discover"},
		{"forwarding_configure", "forwarding_configure"},
	}

	for _, c := range cases {
		t.Run(c.op, func(t *testing.T) {
			require.Equal(t, c.want, ResourceClass(c.op))
		})
	}
}
