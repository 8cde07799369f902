package parse

import (
	"bufio"
	"strconv"
	"strings"
)

// ARCStats is the typed record produced by ParseArcStats, carrying the
// raw kstat values plus the derived hit ratios.
type ARCStats struct {
	Size        uint64
	TargetSize  uint64
	MinSize     uint64
	MaxSize     uint64
	Hits        uint64
	Misses      uint64
	HitRatio    string // "90.00" style, 2 dp
	DemandDataHits   uint64
	DemandDataMisses uint64
	PrefetchDataHits uint64
	PrefetchDataMisses uint64
	Raw         map[string]uint64
}

// ParseArcStats parses `kstat -p zfs:0:arcstats:*` output, lines of the
// form "zfs:0:arcstats:<name>\t<value>", grouping size/hit-miss/misc
// fields and computing hit_ratio = hits/(hits+misses)*100 to two dp.
func ParseArcStats(output string) (*ARCStats, error) {
	raw := make(map[string]uint64)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}

		keyParts := strings.Split(fields[0], ":")
		if len(keyParts) != 4 {
			continue
		}
		name := keyParts[3]

		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}

		raw[name] = v
	}

	stats := &ARCStats{
		Size:               raw["size"],
		TargetSize:         raw["c"],
		MinSize:            raw["c_min"],
		MaxSize:            raw["c_max"],
		Hits:               raw["hits"],
		Misses:             raw["misses"],
		DemandDataHits:     raw["demand_data_hits"],
		DemandDataMisses:   raw["demand_data_misses"],
		PrefetchDataHits:   raw["prefetch_data_hits"],
		PrefetchDataMisses: raw["prefetch_data_misses"],
		Raw:                raw,
	}

	total := stats.Hits + stats.Misses
	if total == 0 {
		stats.HitRatio = "0.00"
	} else {
		ratio := round2(float64(stats.Hits) / float64(total) * 100)
		stats.HitRatio = strconv.FormatFloat(ratio, 'f', 2, 64)
	}

	return stats, nil
}
