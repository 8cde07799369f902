package parse

import (
	"regexp"
	"strings"
)

// DhcpSubnet is one `subnet ... { ... }` block of /etc/dhcpd.conf.
type DhcpSubnet struct {
	Network string
	Netmask string
	Routers string
	RangeLo string
	RangeHi string
	DNS     string
}

// DhcpHost is one `host <name> { ... }` static-lease block.
type DhcpHost struct {
	Name       string
	HWEthernet string
	FixedAddr  string
}

var (
	subnetRe  = regexp.MustCompile(`(?s)subnet\s+(\S+)\s+netmask\s+(\S+)\s*\{([^}]*)\}`)
	routersRe = regexp.MustCompile(`option\s+routers\s+([^;]+);`)
	rangeRe   = regexp.MustCompile(`range\s+(\S+)\s+(\S+);`)
	dnsRe     = regexp.MustCompile(`option\s+domain-name-servers\s+([^;]+);`)

	hostRe   = regexp.MustCompile(`(?s)host\s+(\S+)\s*\{([^}]*)\}`)
	hwRe     = regexp.MustCompile(`hardware\s+ethernet\s+([^;]+);`)
	fixedRe  = regexp.MustCompile(`fixed-address\s+([^;]+);`)
)

// ParseDhcpdConf extracts every subnet and host block from a dhcpd.conf
// body.
func ParseDhcpdConf(contents string) ([]DhcpSubnet, []DhcpHost) {
	var subnets []DhcpSubnet
	for _, m := range subnetRe.FindAllStringSubmatch(contents, -1) {
		body := m[3]
		s := DhcpSubnet{Network: m[1], Netmask: m[2]}
		if rm := routersRe.FindStringSubmatch(body); rm != nil {
			s.Routers = strings.TrimSpace(rm[1])
		}
		if rm := rangeRe.FindStringSubmatch(body); rm != nil {
			s.RangeLo, s.RangeHi = rm[1], rm[2]
		}
		if rm := dnsRe.FindStringSubmatch(body); rm != nil {
			s.DNS = strings.TrimSpace(rm[1])
		}
		subnets = append(subnets, s)
	}

	var hosts []DhcpHost
	for _, m := range hostRe.FindAllStringSubmatch(contents, -1) {
		body := m[2]
		h := DhcpHost{Name: m[1]}
		if hm := hwRe.FindStringSubmatch(body); hm != nil {
			h.HWEthernet = strings.TrimSpace(hm[1])
		}
		if fm := fixedRe.FindStringSubmatch(body); fm != nil {
			h.FixedAddr = strings.TrimSpace(fm[1])
		}
		hosts = append(hosts, h)
	}

	return subnets, hosts
}

