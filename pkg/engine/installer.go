package engine

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/siderolabs/go-cmd/pkg/cmd"
	"github.com/sirupsen/logrus"

	"github.com/bootsync/bootsync/pkg/bootloader"
)

// ExecInstaller runs the real loader binaries. The exit status of the
// binary becomes the invocation's own success or failure; there is no retry
// at this layer.
type ExecInstaller struct {
	RootPrefix string
}

// run and lookPath are swapped out by tests.
var (
	run = func(name string, args ...string) (string, error) {
		return cmd.Run(name, args...)
	}
	lookPath = exec.LookPath
)

// MakeConfig regenerates the loader menu for the grub2 family. Absent
// grub2 tooling is not an error: a host without it is a legitimate
// configuration and the operation degrades to a logged no-op.
func (e *ExecInstaller) MakeConfig(loader bootloader.Type) error {
	switch loader {
	case bootloader.GRUB2, bootloader.GRUB2EFI:
		mkconfig, err := lookPath("grub2-mkconfig")
		if err != nil {
			logrus.Infof("grub2-mkconfig not found, skipping config generation")
			return nil
		}
		target := filepath.Join(e.RootPrefix, "/boot/grub2/grub.cfg")
		logrus.Infof("Executing: %s -o %s", mkconfig, target)
		out, err := run(mkconfig, "-o", target)
		if err != nil {
			return fmt.Errorf("grub2-mkconfig failed: %w", err)
		}
		logrus.Debugf("grub2-mkconfig output: %s", out)
	}
	return nil
}

// InstallLoader writes the boot code with the loader's installer binary.
func (e *ExecInstaller) InstallLoader(loader bootloader.Type, disk string) error {
	var argv []string
	switch loader {
	case bootloader.GRUB:
		argv = []string{"grub-install", disk}
	case bootloader.GRUB2:
		argv = []string{"grub2-install", disk}
	case bootloader.GRUB2EFI:
		argv = []string{"grub2-install"}
	case bootloader.LILO:
		argv = []string{"lilo"}
	case bootloader.ELILO:
		argv = []string{"elilo"}
	case bootloader.ZIPL:
		argv = []string{"zipl"}
	default:
		return nil
	}
	if _, err := lookPath(argv[0]); err != nil {
		if loader.ConfigOnly() {
			logrus.Infof("%s not found, skipping install step", argv[0])
			return nil
		}
		return fmt.Errorf("installer %s not found: %w", argv[0], err)
	}
	logrus.Infof("Executing: %v", argv)
	out, err := run(argv[0], argv[1:]...)
	if err != nil {
		return fmt.Errorf("%s failed: %w", argv[0], err)
	}
	logrus.Debugf("%s output: %s", argv[0], out)
	return nil
}
