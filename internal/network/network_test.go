package network

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub001/internal/parse"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

func newTestRepo(t *testing.T) *store.Repo {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.bdb"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo, err := store.NewRepo(s)
	require.NoError(t, err)
	return repo
}

func withTempIpnat(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ipnat.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	orig := IpnatPath
	IpnatPath = path
	t.Cleanup(func() { IpnatPath = orig })
	return path
}

func TestRenderNatRule(t *testing.T) {
	cases := []struct {
		rule store.NatRule
		want string
	}{
		{
			store.NatRule{Type: store.NatMap, Bridge: "igb0", Subnet: "10.190.190.0/24", Target: "0/32", Protocol: "tcp/udp"},
			"map igb0 10.190.190.0/24 -> 0/32 portmap tcp/udp auto",
		},
		{
			store.NatRule{Type: store.NatBimap, Bridge: "igb0", Subnet: "10.0.0.5/32", Target: "192.168.1.5/32"},
			"bimap igb0 10.0.0.5/32 -> 192.168.1.5/32",
		},
		{
			store.NatRule{Type: store.NatRdr, Bridge: "igb0", Subnet: "0.0.0.0/0", Target: "10.0.0.5"},
			"rdr igb0 0.0.0.0/0 -> 10.0.0.5",
		},
	}

	for _, c := range cases {
		require.Equal(t, c.want, RenderNatRule(c.rule))
	}
}

// Reconciliation imports file lines the DB has never seen with
// created_by=system_import and drops DB rows whose raw_rule no longer
// appears in the file.
func TestReconcileNatRulesImportAndPrune(t *testing.T) {
	repo := newTestRepo(t)
	withTempIpnat(t, "map igb0 10.190.190.0/24 -> 0/32 portmap tcp/udp auto # imported\n")

	// A DB row not present in the file must be pruned.
	stale := store.NatRule{
		ID:      "stale",
		Type:    store.NatBimap,
		RawRule: "bimap igb0 10.9.9.9/32 -> 192.168.9.9/32",
	}
	require.NoError(t, repo.NatRules.Create(stale.ID, stale))

	require.NoError(t, ReconcileNatRules(repo))

	all, err := repo.NatRules.All()
	require.NoError(t, err)
	require.Len(t, all, 1)

	for _, r := range all {
		require.Equal(t, "map igb0 10.190.190.0/24 -> 0/32 portmap tcp/udp auto", r.RawRule)
		require.Equal(t, "system_import", r.CreatedBy)
		require.Equal(t, "imported", r.Description)
		require.Equal(t, store.NatMap, r.Type)
	}
}

// A second reconcile pass against the same file must not duplicate the
// imported rule.
func TestReconcileNatRulesIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	withTempIpnat(t, "rdr igb0 0.0.0.0/0 port 8443 -> 10.0.0.5 port 443\n")

	require.NoError(t, ReconcileNatRules(repo))
	require.NoError(t, ReconcileNatRules(repo))

	all, err := repo.NatRules.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestReconcileNatRulesMissingFile(t *testing.T) {
	repo := newTestRepo(t)

	orig := IpnatPath
	IpnatPath = filepath.Join(t.TempDir(), "does-not-exist.conf")
	t.Cleanup(func() { IpnatPath = orig })

	require.NoError(t, ReconcileNatRules(repo))

	all, err := repo.NatRules.All()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestRenderDhcpdConfRoundTrip(t *testing.T) {
	subnets := []parse.DhcpSubnet{{
		Network: "10.190.190.0",
		Netmask: "255.255.255.0",
		Routers: "10.190.190.1",
		RangeLo: "10.190.190.100",
		RangeHi: "10.190.190.200",
		DNS:     "8.8.8.8",
	}}
	hosts := []parse.DhcpHost{{
		Name:       "web01",
		HWEthernet: "02:08:20:aa:bb:cc",
		FixedAddr:  "10.190.190.10",
	}}

	rendered := RenderDhcpdConf(subnets, hosts)

	gotSubnets, gotHosts := parse.ParseDhcpdConf(rendered)
	require.Equal(t, subnets, gotSubnets)
	require.Equal(t, hosts, gotHosts)
}

func TestClassifyRawRule(t *testing.T) {
	require.Equal(t, store.NatMap, classifyRawRule("map igb0 10.0.0.0/24 -> 0/32 portmap tcp auto"))
	require.Equal(t, store.NatBimap, classifyRawRule("bimap igb0 a -> b"))
	require.Equal(t, store.NatRdr, classifyRawRule("rdr igb0 a -> b"))
}
