package parse

import (
	"bufio"
	"strconv"
	"strings"
)

// ZFSPool is the typed record produced by ParseZpoolList, carrying both
// the original unit string and the parsed byte count.
type ZFSPool struct {
	Name        string
	Size        string
	SizeBytes   *string
	Alloc       string
	AllocBytes  *string
	Free        string
	FreeBytes   *string
	Fragment    string
	CapacityPct float64
	Dedup       string
	Health      string
	Altroot     string
}

// ParseZpoolList parses `zpool list` tabular output:
//   NAME   SIZE  ALLOC   FREE  CKPOINT  EXPANDSZ   FRAG    CAP  DEDUP  HEALTH  ALTROOT
func ParseZpoolList(output string) ([]ZFSPool, error) {
	var pools []ZFSPool

	scanner := bufio.NewScanner(strings.NewReader(output))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if strings.HasPrefix(line, "NAME") {
				continue
			}
		}

		fields := strings.Fields(line)
		if len(fields) < 11 {
			continue
		}

		sizeBytes, _ := ParseUnitToBytes(fields[1])
		allocBytes, _ := ParseUnitToBytes(fields[2])
		freeBytes, _ := ParseUnitToBytes(fields[3])

		var capPct float64
		capStr := strings.TrimSuffix(fields[7], "%")
		if v, err := strconv.ParseFloat(capStr, 64); err == nil {
			capPct = v
		}

		pools = append(pools, ZFSPool{
			Name:        fields[0],
			Size:        fields[1],
			SizeBytes:   sizeBytes,
			Alloc:       fields[2],
			AllocBytes:  allocBytes,
			Free:        fields[3],
			FreeBytes:   freeBytes,
			Fragment:    fields[6],
			CapacityPct: capPct,
			Dedup:       fields[8],
			Health:      fields[9],
			Altroot:     fields[10],
		})
	}

	return pools, nil
}

// ZpoolStatusSection is one "pool:"-delimited section of `zpool status`
// output.
type ZpoolStatusSection struct {
	Pool    string
	State   string
	Scan    string
	Config  []ZpoolStatusConfigLine
	Errors  string
}

// ZpoolStatusConfigLine is one device/vdev row under a status section's
// "config:" block.
type ZpoolStatusConfigLine struct {
	Name    string
	State   string
	Read    string
	Write   string
	Cksum   string
}

// ParseZpoolStatus splits multi-pool `zpool status` output on "pool:" and
// parses each section's state/scan/config/errors fields.
func ParseZpoolStatus(output string) ([]ZpoolStatusSection, error) {
	raw := strings.Split(output, "\n")

	var sections []ZpoolStatusSection
	var cur *ZpoolStatusSection
	inConfig := false

	flush := func() {
		if cur != nil {
			sections = append(sections, *cur)
		}
	}

	for _, line := range raw {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "pool:") {
			flush()
			cur = &ZpoolStatusSection{Pool: strings.TrimSpace(strings.TrimPrefix(trimmed, "pool:"))}
			inConfig = false
			continue
		}

		if cur == nil {
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "state:"):
			cur.State = strings.TrimSpace(strings.TrimPrefix(trimmed, "state:"))
			inConfig = false
		case strings.HasPrefix(trimmed, "scan:"):
			cur.Scan = strings.TrimSpace(strings.TrimPrefix(trimmed, "scan:"))
			inConfig = false
		case strings.HasPrefix(trimmed, "errors:"):
			cur.Errors = strings.TrimSpace(strings.TrimPrefix(trimmed, "errors:"))
			inConfig = false
		case strings.HasPrefix(trimmed, "config:"):
			inConfig = true
		case trimmed == "" || strings.HasPrefix(trimmed, "NAME"):
			continue
		case inConfig:
			fields := strings.Fields(trimmed)
			if len(fields) >= 4 {
				cur.Config = append(cur.Config, ZpoolStatusConfigLine{
					Name:  fields[0],
					State: fields[1],
					Read:  fields[2],
					Write: fields[3],
					Cksum: safeField(fields, 4),
				})
			}
		}
	}

	flush()
	return sections, nil
}

func safeField(fields []string, idx int) string {
	if idx < len(fields) {
		return fields[idx]
	}
	return ""
}

// ZFSDataset is the typed record produced by ParseZfsList.
type ZFSDataset struct {
	Name       string
	Used       string
	UsedBytes  *string
	Avail      string
	AvailBytes *string
	Refer      string
	ReferBytes *string
	Mountpoint string
}

// ParseZfsList parses `zfs list` tabular output:
//   NAME  USED  AVAIL  REFER  MOUNTPOINT
func ParseZfsList(output string) ([]ZFSDataset, error) {
	var out []ZFSDataset

	scanner := bufio.NewScanner(strings.NewReader(output))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if strings.HasPrefix(line, "NAME") {
				continue
			}
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		used, _ := ParseUnitToBytes(fields[1])
		avail, _ := ParseUnitToBytes(fields[2])
		refer, _ := ParseUnitToBytes(fields[3])

		out = append(out, ZFSDataset{
			Name:       fields[0],
			Used:       fields[1],
			UsedBytes:  used,
			Avail:      fields[2],
			AvailBytes: avail,
			Refer:      fields[3],
			ReferBytes: refer,
			Mountpoint: strings.Join(fields[4:], " "),
		})
	}

	return out, nil
}

// ParseZfsGetAll parses `zfs get all <dataset>` property-table output:
//   NAME  PROPERTY  VALUE  SOURCE
// into a nested map of dataset -> property -> value. Only VALUE is kept;
// SOURCE (local/default/inherited) is discarded; nothing downstream
// reads it.
func ParseZfsGetAll(output string) (map[string]map[string]string, error) {
	result := make(map[string]map[string]string)

	scanner := bufio.NewScanner(strings.NewReader(output))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if strings.HasPrefix(line, "NAME") {
				continue
			}
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name, prop, value := fields[0], fields[1], fields[2]

		if result[name] == nil {
			result[name] = make(map[string]string)
		}
		result[name][prop] = value
	}

	return result, nil
}
