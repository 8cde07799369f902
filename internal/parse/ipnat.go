package parse

import (
	"bufio"
	"strings"
)

// NatRuleLine is one non-comment line of /etc/ipf/ipnat.conf, split into
// its canonical raw form and an optional trailing " # description".
type NatRuleLine struct {
	RawRule     string
	Description string
}

// ParseIpnatConf parses every non-comment line of ipnat.conf.
// Comment-only and blank lines are skipped; an inline " # description"
// suffix (written by this daemon when it authors the file) is split off
// from the canonical rule text.
func ParseIpnatConf(contents string) []NatRuleLine {
	var lines []NatRuleLine

	scanner := bufio.NewScanner(strings.NewReader(contents))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule := line
		desc := ""
		if idx := strings.Index(line, " # "); idx != -1 {
			rule = strings.TrimSpace(line[:idx])
			desc = strings.TrimSpace(line[idx+3:])
		}

		lines = append(lines, NatRuleLine{RawRule: rule, Description: desc})
	}

	return lines
}
