package bootloader

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-envparse"
	"github.com/sirupsen/logrus"
)

// Type identifies the boot-loader family managing this host.
type Type string

const (
	GRUB     Type = "grub"
	GRUB2    Type = "grub2"
	GRUB2EFI Type = "grub2-efi"
	LILO     Type = "lilo"
	ELILO    Type = "elilo"
	ZIPL     Type = "zipl"
	// None means no supported loader is configured. That is a legitimate
	// host configuration, not an error: every operation becomes a no-op
	// success.
	None Type = "none"
)

// SysconfigPath is the loader selection file, relative to the runtime root
// prefix.
var SysconfigPath = "/etc/sysconfig/bootloader"

// configProbes maps loader families to a config file whose presence
// identifies them when the sysconfig selection is missing. Probe order is
// fixed: the more specific loaders come first.
var configProbes = []struct {
	loader Type
	path   string
}{
	{GRUB2EFI, "/boot/grub2/grub.cfg"}, // refined below by EFI detection
	{GRUB2, "/boot/grub2/grub.cfg"},
	{GRUB, "/boot/grub/menu.lst"},
	{ELILO, "/etc/elilo.conf"},
	{LILO, "/etc/lilo.conf"},
	{ZIPL, "/etc/zipl.conf"},
}

var validTypes = map[Type]bool{
	GRUB: true, GRUB2: true, GRUB2EFI: true,
	LILO: true, ELILO: true, ZIPL: true, None: true,
}

// Detect returns the boot-loader family configured for the host. The
// explicit LOADER_TYPE selection in sysconfig wins; without it the
// well-known config paths are probed. A host with neither yields None.
func Detect(rootPrefix string) Type {
	f, err := os.Open(filepath.Join(rootPrefix, SysconfigPath))
	if err == nil {
		defer f.Close()
		vars, err := envparse.Parse(f)
		if err == nil {
			if t := Type(vars["LOADER_TYPE"]); validTypes[t] {
				logrus.Debugf("Loader type %q from %s", t, SysconfigPath)
				return t
			}
		} else {
			logrus.Warnf("Cannot parse %s: %v", SysconfigPath, err)
		}
	}
	for _, probe := range configProbes {
		if probe.loader == GRUB2EFI && !efiBooted(rootPrefix) {
			continue
		}
		if _, err := os.Stat(filepath.Join(rootPrefix, probe.path)); err == nil {
			logrus.Debugf("Loader type %q from probing %s", probe.loader, probe.path)
			return probe.loader
		}
	}
	return None
}

func efiBooted(rootPrefix string) bool {
	_, err := os.Stat(filepath.Join(rootPrefix, "/sys/firmware/efi"))
	return err == nil
}

// ConfigOnly reports whether the loader derives its menu from installed
// kernels by itself. For these families add and remove degrade to a
// refresh; entries are never hand-crafted.
func (t Type) ConfigOnly() bool {
	return t == GRUB2 || t == GRUB2EFI
}

// NeedsInstallOnRefresh reports whether a config rewrite must be followed
// by re-running the installer binary. The map-based loaders re-read their
// config at boot; lilo, elilo and zipl bake it into the boot record.
func (t Type) NeedsInstallOnRefresh() bool {
	return t == LILO || t == ELILO || t == ZIPL
}
