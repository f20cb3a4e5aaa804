// Package engine dispatches boot-loader entry operations: it ties the
// naming policy, the section registry, the device resolver and the
// installer together and owns the idempotency, default-inheritance and
// delayed-execution semantics.
package engine

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bootsync/bootsync/pkg/blockdev"
	"github.com/bootsync/bootsync/pkg/bootloader"
	"github.com/bootsync/bootsync/pkg/deferred"
	"github.com/bootsync/bootsync/pkg/naming"
	"github.com/bootsync/bootsync/pkg/section"
)

var (
	// ErrInvalidUsage covers wrong operation counts and flag combinations.
	ErrInvalidUsage = errors.New("invalid usage")
	// ErrMissingArgument is returned when an operation lacks a required
	// parameter.
	ErrMissingArgument = errors.New("missing argument")
)

// Op is one of the four entry operations. Exactly one is selected per
// invocation.
type Op string

const (
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpRefresh Op = "refresh"
	OpReinit  Op = "reinit"
)

// RuntimeContext captures the environment-driven modes as an explicit
// value, so the coordinator never reads ambient globals. RootPrefix
// relocates every file the engine touches, which is how tests and
// image-build chroots run it.
type RuntimeContext struct {
	RootPrefix     string
	Arch           string
	InInstallation bool
	Replaying      bool
}

// Request is one parsed invocation.
type Request struct {
	Op           Op
	Image        string
	Initrd       string
	Xen          bool
	XenKernel    string
	Name         string
	Default      bool
	ForceDefault bool
	Force        bool
	Previous     bool
}

// DefaultXenKernel is assumed when --xen is given without --xen-kernel.
const DefaultXenKernel = "/boot/xen.gz"

// Installer abstracts the external loader binaries so the control flow is
// testable without them.
type Installer interface {
	// MakeConfig regenerates the loader configuration (grub2-mkconfig).
	MakeConfig(loader bootloader.Type) error
	// InstallLoader writes the boot code. disk may be empty for loaders
	// that read their install target from their own config.
	InstallLoader(loader bootloader.Type, disk string) error
}

// Coordinator executes requests against one host configuration.
type Coordinator struct {
	Ctx       RuntimeContext
	Loader    bootloader.Type
	Registry  *section.Registry
	Installer Installer
	Product   string
	Queue     *deferred.Queue

	// ResolveDisk finds the physical install target for legacy BIOS
	// loaders. Defaults to blockdev.InstallDisk on /boot.
	ResolveDisk func(target string) (blockdev.Device, error)
}

func (c *Coordinator) resolveDisk(target string) (blockdev.Device, error) {
	if c.ResolveDisk != nil {
		return c.ResolveDisk(target)
	}
	return blockdev.InstallDisk(target)
}

// Run executes one request. argv is the full invocation vector, recorded
// verbatim when the operation has to be deferred to a later replay.
func (c *Coordinator) Run(req Request, argv []string) error {
	if req.ForceDefault && req.Op != OpAdd {
		return fmt.Errorf("%w: --force-default is only valid with --add", ErrInvalidUsage)
	}
	// defer before looking at the loader: the installation image rarely has
	// the target system's loader configured yet, the replay run will
	if c.Ctx.InInstallation && !c.Ctx.Replaying {
		logrus.Infof("Running inside an installation image, deferring %q", req.Op)
		return c.Queue.Append(argv)
	}
	if c.Loader == bootloader.None {
		logrus.Infof("No supported boot loader configured, nothing to do")
		return nil
	}
	switch req.Op {
	case OpAdd:
		return c.add(req)
	case OpRemove:
		return c.remove(req)
	case OpRefresh:
		return c.refresh(false)
	case OpReinit:
		return c.refresh(true)
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidUsage, req.Op)
	}
}

func (c *Coordinator) add(req Request) error {
	if req.Image == "" {
		return fmt.Errorf("%w: --add requires --image", ErrMissingArgument)
	}
	if c.Loader.ConfigOnly() {
		// grub2 derives its menu from the installed kernels itself;
		// hand-crafting entries would fight its own generator
		logrus.Infof("%s regenerates its own menu, translating add into a refresh", c.Loader)
		return c.refresh(false)
	}

	version, flavor := naming.ParseImage(req.Image)
	isXen := req.Xen || req.XenKernel != "" || flavor.IsXen()
	xenKernel := req.XenKernel
	if isXen && xenKernel == "" {
		xenKernel = DefaultXenKernel
	}
	if isXen && !flavor.IsXen() {
		flavor = naming.Flavor{Kind: naming.FlavorXen, Token: "xen"}
	}

	names := naming.Request{
		Loader:   string(c.Loader),
		Product:  c.Product,
		Version:  version,
		Flavor:   flavor,
		Previous: req.Previous,
		Arch:     c.Ctx.Arch,
	}.Names()
	name := req.Name
	if name == "" {
		name = names.Primary
	}
	if name == "" {
		return fmt.Errorf("%w: no section name given and none could be derived from %s", ErrMissingArgument, req.Image)
	}

	isDefault, err := c.defaultEligible(req, flavor)
	if err != nil {
		return err
	}
	logrus.Infof("Adding %q for image %s (xen=%v default=%v previous=%v)", name, req.Image, isXen, isDefault, req.Previous)

	primary := section.Section{
		Name:    name,
		Type:    section.TypeImage,
		Image:   req.Image,
		Initrd:  req.Initrd,
		Default: isDefault,
		Origin:  section.OriginLinux,
	}
	if isXen {
		primary.Type = section.TypeXen
		primary.XenKernel = xenKernel
		primary.Origin = section.OriginXen
	}
	if err := c.Registry.Add(primary, req.Force); err != nil {
		return err
	}
	if names.Failsafe != "" {
		failsafe := section.Section{
			Name:   names.Failsafe,
			Type:   section.TypeImage,
			Image:  req.Image,
			Initrd: req.Initrd,
			Origin: section.OriginFailsafe,
		}
		// the sibling shares the image with the primary section on
		// purpose, so it bypasses the duplicate guard
		if err := c.Registry.Add(failsafe, true); err != nil {
			return err
		}
	}
	return nil
}

// defaultEligible decides whether the new section becomes the default
// entry: forced explicitly, requested explicitly, or inherited because the
// new image carries the same flavor suffix as the current default image. A
// configuration without any default adopts the new section.
func (c *Coordinator) defaultEligible(req Request, flavor naming.Flavor) (bool, error) {
	if req.ForceDefault || req.Default {
		return true, nil
	}
	if req.Previous {
		return false, nil
	}
	cur, err := c.Registry.Default()
	if err != nil {
		return false, err
	}
	if cur == nil {
		return true, nil
	}
	_, curFlavor := naming.ParseImage(cur.Image)
	return curFlavor.Suffix() == flavor.Suffix(), nil
}

func (c *Coordinator) remove(req Request) error {
	if c.Loader.ConfigOnly() {
		logrus.Infof("%s regenerates its own menu, translating remove into a refresh", c.Loader)
		return c.refresh(false)
	}
	filter := section.Filter{
		Type:      section.TypeImage,
		Image:     req.Image,
		Initrd:    req.Initrd,
		XenKernel: req.XenKernel,
		Name:      req.Name,
	}
	if req.Xen || req.XenKernel != "" {
		filter.Type = section.TypeXen
	}
	if filter.Image == "" && filter.Name == "" {
		return fmt.Errorf("%w: --remove requires --image or --name", ErrMissingArgument)
	}
	removed, err := c.Registry.Remove(filter, req.Force)
	if err != nil {
		return err
	}
	logrus.Infof("Removed %d section(s)", removed)
	return nil
}

// refresh re-materializes the loader configuration. With reinit the
// installer binary is always re-run (boot-loader package upgrade); plain
// refresh re-runs it only for loaders that bake the config into the boot
// record.
func (c *Coordinator) refresh(reinit bool) error {
	if err := c.Installer.MakeConfig(c.Loader); err != nil {
		return err
	}
	if !reinit && !c.Loader.NeedsInstallOnRefresh() {
		logrus.Infof("%s only needs a config rewrite, skipping the install step", c.Loader)
		return nil
	}
	disk := ""
	switch c.Loader {
	case bootloader.GRUB, bootloader.GRUB2:
		// legacy BIOS boot code goes into the boot sector of a physical
		// disk, never a virtual array device
		d, err := c.resolveDisk(c.Ctx.RootPrefix + "/boot")
		if err != nil {
			return err
		}
		disk = "/dev/" + d.Name
	}
	return c.Installer.InstallLoader(c.Loader, disk)
}
