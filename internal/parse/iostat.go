package parse

import (
	"bufio"
	"regexp"
	"strings"
)

// PoolIOStat is one pool-level row from the second sample of
// `zpool iostat -l -H -v 1 2`.
type PoolIOStat struct {
	Pool       string
	PoolType   string // adjusted by topology rows: raidz1/2/3, mirror, cache, log, spare, or "" for a plain vdev
	AllocBytes *string
	FreeBytes  *string
	OpsRead    string
	OpsWrite   string
	BwRead     string
	BwWrite    string
}

// DiskIOStat is one device-level row (c?t?d? naming) attached to the pool
// whose section it appeared under.
type DiskIOStat struct {
	Pool    string
	Device  string
	AllocBytes *string
	FreeBytes  *string
	OpsRead    string
	OpsWrite   string
	BwRead     string
	BwWrite    string
}

var (
	topologyRe = regexp.MustCompile(`^(raidz1|raidz2|raidz3|raidz|mirror|cache|log|spare)(-\d+)?$`)
	deviceRe   = regexp.MustCompile(`^c\d+t[0-9A-Za-z]+d\d+`)
)

// ParseZpoolIostatLV parses the `-H -v 1 2` two-sample layout: `-H`
// strips headers and makes fields tab-separated, `1 2` requests two
// one-second samples. Only the second sample (the settled, non-bootstrap
// reading) is kept.
func ParseZpoolIostatLV(output string) (pools []PoolIOStat, disks []DiskIOStat, err error) {
	samples := splitSamples(output)
	if len(samples) == 0 {
		return nil, nil, nil
	}

	sample := samples[len(samples)-1]

	var currentPool string
	var currentPoolType string

	lines := strings.Split(sample, "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}

		name := fields[0]

		switch {
		case topologyRe.MatchString(name):
			// A topology row adjusts the *enclosing* pool's pool_type and
			// is not itself a separate data row. Only the "-N" instance
			// suffix is stripped; raidz1/raidz2/raidz3 stay distinct.
			currentPoolType = strings.Split(name, "-")[0]
			continue
		case deviceRe.MatchString(name):
			alloc, _ := ParseUnitToBytes(fields[1])
			free, _ := ParseUnitToBytes(fields[2])
			disks = append(disks, DiskIOStat{
				Pool:       currentPool,
				Device:     name,
				AllocBytes: alloc,
				FreeBytes:  free,
				OpsRead:    fields[3],
				OpsWrite:   fields[4],
				BwRead:     fields[5],
				BwWrite:    fields[6],
			})
		default:
			// A new top-level pool row.
			currentPool = name
			currentPoolType = ""

			alloc, _ := ParseUnitToBytes(fields[1])
			free, _ := ParseUnitToBytes(fields[2])
			pools = append(pools, PoolIOStat{
				Pool:       name,
				AllocBytes: alloc,
				FreeBytes:  free,
				OpsRead:    fields[3],
				OpsWrite:   fields[4],
				BwRead:     fields[5],
				BwWrite:    fields[6],
			})
		}

		if currentPoolType != "" && len(pools) > 0 && pools[len(pools)-1].Pool == currentPool {
			pools[len(pools)-1].PoolType = currentPoolType
		}
	}

	return pools, disks, nil
}

// splitSamples breaks -H tabular iostat output into per-sample chunks.
// Successive samples are separated by the pool name repeating from the
// top; since -H has no banner, we detect a new sample by the first
// non-indented (pool-name) row repeating a name already seen in the
// current sample.
func splitSamples(output string) []string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) == 0 {
		return nil
	}

	var samples []string
	var cur []string
	seen := make(map[string]bool)

	flush := func() {
		if len(cur) > 0 {
			samples = append(samples, strings.Join(cur, "\n"))
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]

		isTopLevel := !topologyRe.MatchString(name) && !deviceRe.MatchString(name)

		if isTopLevel && seen[name] {
			flush()
			cur = nil
			seen = make(map[string]bool)
		}

		if isTopLevel {
			seen[name] = true
		}

		cur = append(cur, line)
	}
	flush()

	return samples
}
