// Package network keeps the NAT rule table and /etc/ipf/ipnat.conf in
// sync (reconcile before every mutation, then regenerate the whole file
// from the DB), authors /etc/dhcpd.conf, and refreshes the matching SMF
// services. Host config files are only ever rewritten whole, never
// patched in place.
package network

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"github.com/Makr91/zoneweaver-api-sub001/internal/cmdrunner"
	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
	"github.com/Makr91/zoneweaver-api-sub001/internal/parse"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

// IpnatPath is the on-disk location of the ipfilter NAT rule file.
var IpnatPath = "/etc/ipf/ipnat.conf"

// DhcpdPath is the on-disk location of the DHCP server config.
var DhcpdPath = "/etc/dhcpd.conf"

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// writeFileAtomic writes contents to path via a pfexec'd shell heredoc.
// The daemon itself runs unprivileged, so it cannot os.WriteFile a
// root-owned config file; instead the heredoc writes path+".tmp" and a
// following pfexec mv performs the atomic rename, so readers never see
// a partial file.
func writeFileAtomic(ctx context.Context, path, contents string) error {
	tmp := path + ".tmp"

	var writeCmd string
	if contents == "" {
		writeCmd = fmt.Sprintf("pfexec sh -c 'cat > %s' < /dev/null", tmp)
	} else {
		body := contents
		if !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		marker := fmt.Sprintf("ZWNET_EOF_%d", time.Now().UnixNano())
		writeCmd = fmt.Sprintf("pfexec sh -c 'cat > %s' <<'%s'\n%s%s\n", tmp, marker, body, marker)
	}

	if res := cmdrunner.Run(ctx, writeCmd); !res.Success {
		msg := res.Error
		if msg == "" {
			msg = res.Stderr
		}
		return fmt.Errorf("writing %s: %s", tmp, msg)
	}

	mvRes := cmdrunner.Run(ctx, fmt.Sprintf("pfexec mv %s %s", tmp, path))
	if !mvRes.Success {
		msg := mvRes.Error
		if msg == "" {
			msg = mvRes.Stderr
		}
		return fmt.Errorf("renaming %s to %s: %s", tmp, path, msg)
	}
	return nil
}

// ReconcileNatRules reads the live ipnat.conf, imports any rule line not
// already tracked in the DB (with created_by="system_import"), and
// deletes DB rows whose raw_rule no longer prefixes any file line. Must
// be called before every nat_create/nat_delete mutation so the DB and
// file never drift apart.
func ReconcileNatRules(repo *store.Repo) error {
	contents, err := readFile(IpnatPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", IpnatPath, err)
	}

	fileLines := parse.ParseIpnatConf(contents)
	filePrefixes := make(map[string]bool, len(fileLines))
	for _, l := range fileLines {
		filePrefixes[l.RawRule] = true
	}

	existing, err := repo.NatRules.All()
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(existing))
	for _, rule := range existing {
		known[rule.RawRule] = true
	}

	for _, l := range fileLines {
		if known[l.RawRule] {
			continue
		}

		id, err := uuid.NewV4()
		if err != nil {
			return err
		}

		rule := store.NatRule{
			ID:          id.String(),
			Type:        classifyRawRule(l.RawRule),
			RawRule:     l.RawRule,
			Description: l.Description,
			CreatedBy:   "system_import",
		}
		if err := repo.NatRules.Create(rule.ID, rule); err != nil {
			return err
		}
		minilog.Info("network: imported untracked NAT rule %q", l.RawRule)
	}

	_, err = repo.NatRules.DestroyWhere(func(r store.NatRule) bool {
		return !filePrefixes[r.RawRule]
	})
	return err
}

func classifyRawRule(raw string) store.NatRuleType {
	switch {
	case strings.HasPrefix(raw, "bimap"):
		return store.NatBimap
	case strings.HasPrefix(raw, "rdr"):
		return store.NatRdr
	default:
		return store.NatMap
	}
}

// RenderNatRule builds the canonical single-line raw_rule text for the
// portmap, bimap, and rdr rule forms.
func RenderNatRule(r store.NatRule) string {
	switch r.Type {
	case store.NatBimap:
		return fmt.Sprintf("bimap %s %s -> %s", r.Bridge, r.Subnet, r.Target)
	case store.NatRdr:
		return fmt.Sprintf("rdr %s %s -> %s", r.Bridge, r.Subnet, r.Target)
	default:
		return fmt.Sprintf("map %s %s -> %s portmap %s auto", r.Bridge, r.Subnet, r.Target, r.Protocol)
	}
}

// RewriteIpnatConf regenerates /etc/ipf/ipnat.conf from every DB NatRule
// row (raw_rule plus an optional " # description" suffix) and refreshes
// SMF ipfilter: refresh, then disable/enable, tolerating an
// initial-not-running service.
func RewriteIpnatConf(ctx context.Context, repo *store.Repo) error {
	all, err := repo.NatRules.All()
	if err != nil {
		return err
	}

	var lines []string
	for _, r := range all {
		line := r.RawRule
		if r.Description != "" {
			line += " # " + r.Description
		}
		lines = append(lines, line)
	}

	contents := strings.Join(lines, "\n")
	if contents != "" {
		contents += "\n"
	}

	if err := writeFileAtomic(ctx, IpnatPath, contents); err != nil {
		return err
	}

	return refreshSMF(ctx, "network/ipfilter")
}

// refreshSMF runs refresh then disable/enable for the given FMRI,
// tolerating the case where the service was not yet running.
func refreshSMF(ctx context.Context, fmri string) error {
	cmdrunner.Run(ctx, fmt.Sprintf("pfexec svcadm refresh %s", fmri))

	disableRes := cmdrunner.Run(ctx, fmt.Sprintf("pfexec svcadm disable %s", fmri))
	if !disableRes.Success && !strings.Contains(disableRes.Stderr, "not running") {
		minilog.Warn("network: disabling %s: %s", fmri, disableRes.Stderr)
	}

	enableRes := cmdrunner.Run(ctx, fmt.Sprintf("pfexec svcadm enable %s", fmri))
	if !enableRes.Success {
		return fmt.Errorf("enabling %s: %s", fmri, enableRes.Stderr)
	}
	return nil
}

// ApplyForwarding toggles IPv4 forwarding system-wide and per-interface.
// Per-interface failures accumulate; overall success means at most a
// minority failed.
func ApplyForwarding(ctx context.Context, enable bool, interfaces []string) (failures []string, err error) {
	flag := "-e"
	propVal := "on"
	if !enable {
		flag = "-d"
		propVal = "off"
	}

	res := cmdrunner.Run(ctx, fmt.Sprintf("pfexec routeadm -u %s ipv4-forwarding", flag))
	if !res.Success {
		failures = append(failures, "routeadm: "+res.Stderr)
	}

	for _, iface := range interfaces {
		ifRes := cmdrunner.Run(ctx, fmt.Sprintf(
			"pfexec ipadm set-ifprop -p forwarding=%s -m ipv4 %s", propVal, iface))
		if !ifRes.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", iface, ifRes.Stderr))
		}
	}

	total := 1 + len(interfaces)
	if len(failures)*2 > total {
		return failures, fmt.Errorf("majority of forwarding operations failed: %v", failures)
	}
	return failures, nil
}

// DhcpServiceFMRI is the SMF instance driven by the DHCP operations;
// `dhcp/server:ipv4` for ISC dhcpd, `dhcp:ipv4` on hosts still running
// the legacy in.dhcpd.
var DhcpServiceFMRI = "dhcp/server:ipv4"

// ReadDhcpdConf loads and parses the current /etc/dhcpd.conf.
func ReadDhcpdConf() ([]parse.DhcpSubnet, []parse.DhcpHost, error) {
	contents, err := readFile(DhcpdPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", DhcpdPath, err)
	}
	subnets, hosts := parse.ParseDhcpdConf(contents)
	return subnets, hosts, nil
}

// RenderDhcpdConf regenerates the dhcpd.conf subnet and host blocks in
// the same layout ParseDhcpdConf reads back.
func RenderDhcpdConf(subnets []parse.DhcpSubnet, hosts []parse.DhcpHost) string {
	var b strings.Builder
	for _, s := range subnets {
		fmt.Fprintf(&b, "subnet %s netmask %s {\n", s.Network, s.Netmask)
		if s.Routers != "" {
			fmt.Fprintf(&b, "\toption routers %s;\n", s.Routers)
		}
		if s.RangeLo != "" && s.RangeHi != "" {
			fmt.Fprintf(&b, "\trange %s %s;\n", s.RangeLo, s.RangeHi)
		}
		if s.DNS != "" {
			fmt.Fprintf(&b, "\toption domain-name-servers %s;\n", s.DNS)
		}
		b.WriteString("}\n")
	}
	for _, h := range hosts {
		fmt.Fprintf(&b, "host %s {\n\thardware ethernet %s;\n\tfixed-address %s;\n}\n",
			h.Name, h.HWEthernet, h.FixedAddr)
	}
	return b.String()
}

// WriteDhcpdConf persists the subnet/host blocks atomically and refreshes
// the DHCP SMF instance.
func WriteDhcpdConf(ctx context.Context, subnets []parse.DhcpSubnet, hosts []parse.DhcpHost) error {
	if err := writeFileAtomic(ctx, DhcpdPath, RenderDhcpdConf(subnets, hosts)); err != nil {
		return err
	}
	return refreshSMF(ctx, DhcpServiceFMRI)
}

// ControlDhcpService drives the dhcp_service_control operation: enable,
// disable, or restart the matching SMF instance.
func ControlDhcpService(ctx context.Context, action string) error {
	switch action {
	case "enable":
		return refreshSMF(ctx, DhcpServiceFMRI)
	case "disable":
		res := cmdrunner.Run(ctx, fmt.Sprintf("pfexec svcadm disable %s", DhcpServiceFMRI))
		if !res.Success {
			return fmt.Errorf("disabling %s: %s", DhcpServiceFMRI, res.Stderr)
		}
		return nil
	case "restart":
		res := cmdrunner.Run(ctx, fmt.Sprintf("pfexec svcadm restart %s", DhcpServiceFMRI))
		if !res.Success {
			return fmt.Errorf("restarting %s: %s", DhcpServiceFMRI, res.Stderr)
		}
		return nil
	default:
		return fmt.Errorf("unknown dhcp service action %q", action)
	}
}
