package parse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const formatOutput = `Searching for disks...done


AVAILABLE DISK SELECTIONS:
       0. c0t5000C500A1B2C3D4d0 <SEAGATE-ST4000NM0023-0004-3.64TB>
          /scsi_vhci/disk@g5000c500a1b2c3d4
       1. c1t0d0 <QEMU-HARDDISK-2.5+>
          /pci@0,0/pci1af4,2@5/disk@0,0
       2. c2t1d0 <SAMSUNG-SSD870EVO-SVT02B6Q-931.51GB>
          /pci@0,0/pci8086,2922@1f,2/disk@1,0
Specify disk (enter its number): `

func TestParseFormatOutput(t *testing.T) {
	disks, err := ParseFormatOutput(formatOutput)
	require.NoError(t, err)
	require.Len(t, disks, 3)

	seagate := disks[0]
	require.Equal(t, 0, seagate.Index)
	require.Equal(t, "c0t5000C500A1B2C3D4d0", seagate.Device)
	require.Equal(t, "SEAGATE", seagate.Vendor)
	require.Equal(t, "ST4000NM0023", seagate.Model)
	require.Equal(t, "0004", seagate.Firmware)
	require.Equal(t, "3.64TB", seagate.CapacityRaw)
	require.Equal(t, "hdd", seagate.DiskType)
	require.Equal(t, "scsi", seagate.Interface)

	qemu := disks[1]
	require.Equal(t, "QEMU", qemu.Vendor)
	require.Equal(t, "HARDDISK", qemu.Model)
	require.Equal(t, "2.5+", qemu.CapacityRaw)

	samsung := disks[2]
	require.Equal(t, "ssd", samsung.DiskType)
	require.Equal(t, "SSD870EVO", samsung.Model)
}

func TestParseFormatOutputNoDisks(t *testing.T) {
	disks, err := ParseFormatOutput("No disks found!\n")
	require.NoError(t, err)
	require.Empty(t, disks)
}
