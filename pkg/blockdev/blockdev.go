package blockdev

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/blockdevice"
	"github.com/sirupsen/logrus"
)

// Roots of the live kernel interfaces. Overridable so tests can point them
// at a synthetic tree.
var (
	ProcRoot  = "/proc"
	SysfsRoot = "/sys"
	DevRoot   = "/dev"
)

// ErrDeviceNotFound is returned when a mount point or device name cannot be
// resolved to a block device.
var ErrDeviceNotFound = errors.New("no device found")

// GetMounts returns the live mount table. Tests override it with a
// synthetic one.
var GetMounts = func() ([]*procfs.MountInfo, error) {
	return procfs.GetMounts()
}

// Kind distinguishes partitions from whole disks.
type Kind int

const (
	KindPartition Kind = iota
	KindDisk
)

// Device is a resolved block device. Name carries no /dev/ prefix.
type Device struct {
	Name string
	Kind Kind
}

// MountSource resolves a filesystem path to the device it is mounted from.
// The entry with the longest mount point that is the path itself or one of
// its ancestors wins, so /boot resolves through / when it is not a separate
// filesystem. Sources that are not path-like (btrfs subvolumes, NFS specs)
// are skipped.
func MountSource(mountpoint string) (string, error) {
	mounts, err := GetMounts()
	if err != nil {
		return "", err
	}
	var best *procfs.MountInfo
	for _, m := range mounts {
		if !strings.HasPrefix(m.Source, "/") {
			continue
		}
		if m.MountPoint != mountpoint && !strings.HasPrefix(mountpoint, strings.TrimSuffix(m.MountPoint, "/")+"/") {
			continue
		}
		if best == nil || len(m.MountPoint) > len(best.MountPoint) {
			best = m
		}
	}
	if best == nil {
		return "", fmt.Errorf("%w: nothing mounted on or above %s", ErrDeviceNotFound, mountpoint)
	}
	logrus.Debugf("%s is mounted from %s (on %s)", mountpoint, best.Source, best.MountPoint)
	return best.Source, nil
}

// CanonicalName canonicalizes a device path or name down to the kernel
// device name: symlinks resolved, /dev/ prefix stripped.
func CanonicalName(device string) (string, error) {
	if !strings.Contains(device, "/") {
		device = path.Join(DevRoot, device)
	}
	if resolved, err := filepath.EvalSymlinks(device); err == nil {
		device = resolved
	}
	name := strings.TrimPrefix(device, DevRoot+"/")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s is not a device node", ErrDeviceNotFound, device)
	}
	// device-mapper and similar nodes live in subdirectories of /dev but
	// sysfs knows them by their flat kernel name
	return strings.ReplaceAll(name, "/", "!"), nil
}

// PartitionToDisk finds the whole disk a partition belongs to by scanning
// the block-device topology. The second return value is false when the name
// is not a partition of any known disk.
func PartitionToDisk(name string) (string, bool) {
	fs, err := blockdevice.NewFS(ProcRoot, SysfsRoot)
	if err != nil {
		return "", false
	}
	disks, err := fs.SysBlockDevices()
	if err != nil {
		return "", false
	}
	for _, disk := range disks {
		if disk == name {
			continue
		}
		if _, err := os.Stat(path.Join(SysfsRoot, "block", disk, name)); err == nil {
			return disk, true
		}
	}
	return "", false
}

// FirstSlave descends from a composite device (software RAID,
// device-mapper) to its first underlying member. Members are taken in
// lexicographic order of the slaves listing; legacy BIOS needs one bootable
// member, not all of them.
func FirstSlave(name string) (string, bool) {
	entries, err := os.ReadDir(path.Join(SysfsRoot, "block", name, "slaves"))
	if err != nil || len(entries) == 0 {
		return "", false
	}
	return entries[0].Name(), true
}

// InstallDisk resolves a mount point or partition device down to the
// physical disk that must receive the boot-loader image for a legacy BIOS
// install. The walk alternates partition-to-disk and composite-to-slave
// steps until neither makes progress.
func InstallDisk(target string) (Device, error) {
	device := target
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, DevRoot+"/") {
		source, err := MountSource(target)
		if err != nil {
			return Device{}, err
		}
		device = source
	}
	name, err := CanonicalName(device)
	if err != nil {
		return Device{}, err
	}
	logrus.Infof("Resolving install disk for %s (device %s)", target, name)
	for {
		if disk, ok := PartitionToDisk(name); ok {
			logrus.Debugf("%s is a partition of %s", name, disk)
			name = disk
			continue
		}
		if slave, ok := FirstSlave(name); ok {
			logrus.Debugf("%s is a composite device, descending to %s", name, slave)
			name = slave
			continue
		}
		break
	}
	logrus.Infof("Install disk for %s is %s", target, name)
	return Device{Name: name, Kind: KindDisk}, nil
}
