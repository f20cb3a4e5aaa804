package blockdev

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	mbrSize        = 512
	mbrTableOffset = 446
	mbrEntrySize   = 16
	mbrSignature   = 0xaa55
)

// partitionTypes maps the common MBR partition type bytes to a label. The
// raw byte is always printed, the label is best effort.
var partitionTypes = map[byte]string{
	0x00: "empty",
	0x05: "extended",
	0x07: "NTFS/exFAT",
	0x0b: "FAT32",
	0x0c: "FAT32 (LBA)",
	0x0f: "extended (LBA)",
	0x82: "Linux swap",
	0x83: "Linux",
	0x8e: "Linux LVM",
	0xa5: "FreeBSD",
	0xee: "GPT protective",
	0xef: "EFI system",
	0xfd: "Linux raid autodetect",
}

// ExamineMBR reads the first sector of a device and prints a diagnostic
// dump of the partition table to w. It fails when the sector cannot be read
// or does not carry the 0x55AA boot signature.
func ExamineMBR(device string, w io.Writer) error {
	f, err := os.Open(device)
	if err != nil {
		return err
	}
	defer f.Close()

	sector := make([]byte, mbrSize)
	if _, err := io.ReadFull(f, sector); err != nil {
		return fmt.Errorf("cannot read boot sector of %s: %w", device, err)
	}
	sig := binary.LittleEndian.Uint16(sector[510:512])
	if sig != mbrSignature {
		return fmt.Errorf("%s has no MBR signature (got %#04x, want %#04x)", device, sig, mbrSignature)
	}

	fmt.Fprintf(w, "MBR of %s: signature %#04x\n", device, sig)
	for i := 0; i < 4; i++ {
		entry := sector[mbrTableOffset+i*mbrEntrySize : mbrTableOffset+(i+1)*mbrEntrySize]
		status := entry[0]
		ptype := entry[4]
		start := binary.LittleEndian.Uint32(entry[8:12])
		size := binary.LittleEndian.Uint32(entry[12:16])
		if ptype == 0 && start == 0 && size == 0 {
			fmt.Fprintf(w, "partition %d: empty\n", i+1)
			continue
		}
		label, ok := partitionTypes[ptype]
		if !ok {
			label = "unknown"
		}
		bootable := " "
		if status == 0x80 {
			bootable = "*"
		}
		fmt.Fprintf(w, "partition %d: %s type %#02x (%s) start %d size %d\n",
			i+1, bootable, ptype, label, start, size)
	}
	return nil
}
