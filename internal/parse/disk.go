package parse

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// Disk is the typed record produced by ParseFormatOutput.
type Disk struct {
	Index      int
	Device     string
	Vendor     string
	Model      string
	Firmware   string
	CapacityRaw string
	DiskType   string // "ssd" | "hdd" | "unknown", inferred from vendor/model text
	Interface  string // "scsi" | "nvme" | "unknown", inferred from device path
}

// formatLineRe matches `format`'s disk inventory line:
//   N. DEVICE <VENDOR-MODEL-FW-CAPACITY>
var formatLineRe = regexp.MustCompile(`^\s*(\d+)\.\s+(\S+)\s+<(.+)>\s*$`)

// ParseFormatOutput parses illumos `format`'s disk menu output into typed
// Disk records, inferring disk type from the vendor/model text and
// controller interface from the device path (c*t*d0 naming conventions).
func ParseFormatOutput(output string) ([]Disk, error) {
	var disks []Disk

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		m := formatLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		idx, _ := strconv.Atoi(m[1])
		device := m[2]
		descriptor := m[3]

		vendor, model, fw, capacity := splitDescriptor(descriptor)

		disks = append(disks, Disk{
			Index:       idx,
			Device:      device,
			Vendor:      vendor,
			Model:       model,
			Firmware:    fw,
			CapacityRaw: capacity,
			DiskType:    inferDiskType(vendor, model),
			Interface:   inferInterface(device),
		})
	}

	return disks, nil
}

// splitDescriptor splits a "VENDOR-MODEL-FW-CAPACITY" descriptor on
// hyphens. The capacity field is always last and always present; vendor
// and firmware are sometimes elided by `format`. With two tokens the
// first is the model; with three, vendor then model; with four or more,
// the first token is the vendor, the second-to-last the firmware, and
// everything in between the model.
func splitDescriptor(d string) (vendor, model, fw, capacity string) {
	parts := strings.Split(d, "-")
	if len(parts) == 0 {
		return "", "", "", ""
	}

	capacity = parts[len(parts)-1]

	switch {
	case len(parts) == 1:
		return "", "", "", capacity
	case len(parts) == 2:
		return "", parts[0], "", capacity
	case len(parts) == 3:
		return parts[0], parts[1], "", capacity
	default:
		vendor = parts[0]
		fw = parts[len(parts)-2]
		model = strings.Join(parts[1:len(parts)-2], "-")
		return vendor, model, fw, capacity
	}
}

func inferDiskType(vendor, model string) string {
	upper := strings.ToUpper(vendor + " " + model)
	switch {
	case strings.Contains(upper, "SSD"), strings.Contains(upper, "NVME"):
		return "ssd"
	case strings.Contains(upper, "HDD"), strings.Contains(upper, "ST"):
		return "hdd"
	default:
		return "unknown"
	}
}

var (
	nvmeDeviceRe = regexp.MustCompile(`(?i)^nvme`)
	cXtXdXRe     = regexp.MustCompile(`(?i)^c\d+t[0-9A-Fa-f]+d\d+`)
)

func inferInterface(device string) string {
	switch {
	case nvmeDeviceRe.MatchString(device):
		return "nvme"
	case cXtXdXRe.MatchString(device):
		// c*t<WWN>d* naming is used by both SAS/SCSI and SATA behind an
		// illumos target driver; without `iostat -En`/`smp-util` output
		// we cannot tell them apart further, so default to "scsi" which
		// covers the common case on these hosts.
		return "scsi"
	default:
		return "unknown"
	}
}
