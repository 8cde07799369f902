package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"

	"github.com/Makr91/zoneweaver-api-sub001/internal/network"
	"github.com/Makr91/zoneweaver-api-sub001/internal/parse"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
	"github.com/Makr91/zoneweaver-api-sub001/internal/task"
)

// networkHandlers returns the network operation handlers. NAT handlers
// reconcile the DB against the live ipnat.conf before every mutation.
func networkHandlers() map[string]task.Handler {
	return map[string]task.Handler{
		"nat_create":           handleNatCreate,
		"nat_delete":           handleNatDelete,
		"forwarding_configure": handleForwardingConfigure,
		"dhcp_update_config":   handleDhcpUpdateConfig,
		"dhcp_add_host":        handleDhcpAddHost,
		"dhcp_remove_host":     handleDhcpRemoveHost,
		"dhcp_service_control": handleDhcpServiceControl,
	}
}

// networkRepo is injected once at startup (WireNetworkRepo) since
// handlers need DB access to reconcile against the live files.
var networkRepo *store.Repo

// WireNetworkRepo injects the repo dependency network handlers need.
func WireNetworkRepo(repo *store.Repo) { networkRepo = repo }

type natMetadata struct {
	ID          string              `json:"id"`
	Type        store.NatRuleType   `json:"type"`
	Bridge      string              `json:"bridge"`
	Subnet      string              `json:"subnet"`
	Target      string              `json:"target"`
	Protocol    string              `json:"protocol"`
	Description string              `json:"description"`
}

func handleNatCreate(ctx context.Context, t store.Task) task.HandlerResult {
	if networkRepo == nil {
		return task.HandlerResult{Success: false, Error: "network handlers not wired to a repo"}
	}

	var m natMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	if err := network.ReconcileNatRules(networkRepo); err != nil {
		return task.HandlerResult{Success: false, Error: "reconciling ipnat.conf: " + err.Error()}
	}

	candidate := store.NatRule{
		Type:     m.Type,
		Bridge:   m.Bridge,
		Subnet:   m.Subnet,
		Target:   m.Target,
		Protocol: m.Protocol,
	}
	rawRule := network.RenderNatRule(candidate)

	// A second identical create is a success, not a duplicate line in
	// ipnat.conf.
	if existing, found, err := networkRepo.NatRules.FindOneWhere(func(r store.NatRule) bool { return r.RawRule == rawRule }); err == nil && found {
		return task.HandlerResult{Success: true, Message: fmt.Sprintf("NAT rule already exists: %s", rawRule), Artifact: existing.ID}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	rule := candidate
	rule.ID = id.String()
	rule.Description = m.Description
	rule.CreatedBy = t.CreatedBy
	rule.CreatedAt = time.Now()
	rule.RawRule = rawRule

	if err := networkRepo.NatRules.Create(rule.ID, rule); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	if err := network.RewriteIpnatConf(ctx, networkRepo); err != nil {
		return task.HandlerResult{Success: false, Error: "rewriting ipnat.conf: " + err.Error()}
	}

	return task.HandlerResult{Success: true, Message: fmt.Sprintf("NAT rule %s created", rule.ID), Artifact: rule.ID}
}

func handleNatDelete(ctx context.Context, t store.Task) task.HandlerResult {
	if networkRepo == nil {
		return task.HandlerResult{Success: false, Error: "network handlers not wired to a repo"}
	}

	var m natMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.ID == "" {
		return task.HandlerResult{Success: false, Error: "id is required"}
	}

	if err := network.ReconcileNatRules(networkRepo); err != nil {
		return task.HandlerResult{Success: false, Error: "reconciling ipnat.conf: " + err.Error()}
	}

	if _, found, _ := networkRepo.NatRules.Get(m.ID); !found {
		return task.HandlerResult{Success: false, Error: "nat rule not found"}
	}
	if err := networkRepo.NatRules.Delete(m.ID); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	if err := network.RewriteIpnatConf(ctx, networkRepo); err != nil {
		return task.HandlerResult{Success: false, Error: "rewriting ipnat.conf: " + err.Error()}
	}

	return task.HandlerResult{Success: true, Message: fmt.Sprintf("NAT rule %s deleted", m.ID)}
}

type forwardingMetadata struct {
	Enable     bool     `json:"enable"`
	Interfaces []string `json:"interfaces"`
}

func handleForwardingConfigure(ctx context.Context, t store.Task) task.HandlerResult {
	var m forwardingMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	failures, err := network.ApplyForwarding(ctx, m.Enable, m.Interfaces)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if len(failures) > 0 {
		return task.HandlerResult{Success: true, Message: fmt.Sprintf("forwarding applied with %d partial failures: %v", len(failures), failures)}
	}
	return task.HandlerResult{Success: true, Message: "forwarding configured"}
}

type dhcpSubnetMetadata struct {
	Network string `json:"network"`
	Netmask string `json:"netmask"`
	Routers string `json:"routers"`
	RangeLo string `json:"range_lo"`
	RangeHi string `json:"range_hi"`
	DNS     string `json:"dns"`
}

func handleDhcpUpdateConfig(ctx context.Context, t store.Task) task.HandlerResult {
	var m dhcpSubnetMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	_, hosts, err := network.ReadDhcpdConf()
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	subnets := []parse.DhcpSubnet{{
		Network: m.Network,
		Netmask: m.Netmask,
		Routers: m.Routers,
		RangeLo: m.RangeLo,
		RangeHi: m.RangeHi,
		DNS:     m.DNS,
	}}

	if err := network.WriteDhcpdConf(ctx, subnets, hosts); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	return task.HandlerResult{Success: true, Message: "dhcpd.conf subnet updated"}
}

type dhcpHostMetadata struct {
	Name       string `json:"name"`
	HWEthernet string `json:"hardware_ethernet"`
	FixedAddr  string `json:"fixed_address"`
}

func handleDhcpAddHost(ctx context.Context, t store.Task) task.HandlerResult {
	var m dhcpHostMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.Name == "" {
		return task.HandlerResult{Success: false, Error: "name is required"}
	}

	subnets, hosts, err := network.ReadDhcpdConf()
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	for _, h := range hosts {
		if h.Name == m.Name {
			return task.HandlerResult{Success: false, Error: fmt.Sprintf("host %q already exists", m.Name)}
		}
	}

	hosts = append(hosts, parse.DhcpHost{Name: m.Name, HWEthernet: m.HWEthernet, FixedAddr: m.FixedAddr})

	if err := network.WriteDhcpdConf(ctx, subnets, hosts); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	return task.HandlerResult{Success: true, Message: fmt.Sprintf("host %s added", m.Name)}
}

func handleDhcpRemoveHost(ctx context.Context, t store.Task) task.HandlerResult {
	var m dhcpHostMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.Name == "" {
		return task.HandlerResult{Success: false, Error: "name is required"}
	}

	subnets, hosts, err := network.ReadDhcpdConf()
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	var kept []parse.DhcpHost
	found := false
	for _, h := range hosts {
		if h.Name == m.Name {
			found = true
			continue
		}
		kept = append(kept, h)
	}
	if !found {
		return task.HandlerResult{Success: false, Error: "host not found"}
	}

	if err := network.WriteDhcpdConf(ctx, subnets, kept); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	return task.HandlerResult{Success: true, Message: fmt.Sprintf("host %s removed", m.Name)}
}

type dhcpServiceMetadata struct {
	Action string `json:"action"` // enable|disable|restart
}

func handleDhcpServiceControl(ctx context.Context, t store.Task) task.HandlerResult {
	var m dhcpServiceMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	if err := network.ControlDhcpService(ctx, m.Action); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	return task.HandlerResult{Success: true, Message: fmt.Sprintf("dhcp service %s", m.Action)}
}
