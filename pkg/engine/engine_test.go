package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bootsync/bootsync/pkg/blockdev"
	"github.com/bootsync/bootsync/pkg/bootloader"
	"github.com/bootsync/bootsync/pkg/deferred"
	"github.com/bootsync/bootsync/pkg/section"
)

type memStore struct {
	sections []section.Section
}

func (m *memStore) Lock() error   { return nil }
func (m *memStore) Unlock() error { return nil }

func (m *memStore) Sections() ([]section.Section, error) {
	return append([]section.Section(nil), m.sections...), nil
}

func (m *memStore) Add(s section.Section) error {
	if s.Default {
		for i := range m.sections {
			m.sections[i].Default = false
		}
	}
	m.sections = append(m.sections, s)
	return nil
}

func (m *memStore) Remove(victim section.Section) error {
	for i, s := range m.sections {
		if s == victim {
			m.sections = append(m.sections[:i], m.sections[i+1:]...)
			break
		}
	}
	return nil
}

type fakeInstaller struct {
	madeConfig []bootloader.Type
	installed  []string
	fail       error
}

func (f *fakeInstaller) MakeConfig(loader bootloader.Type) error {
	f.madeConfig = append(f.madeConfig, loader)
	return f.fail
}

func (f *fakeInstaller) InstallLoader(loader bootloader.Type, disk string) error {
	f.installed = append(f.installed, string(loader)+":"+disk)
	return f.fail
}

func newCoordinator(t *testing.T, loader bootloader.Type, store *memStore) (*Coordinator, *fakeInstaller) {
	t.Helper()
	installer := &fakeInstaller{}
	c := &Coordinator{
		Ctx:       RuntimeContext{Arch: "x86_64"},
		Loader:    loader,
		Registry:  section.NewRegistry(store),
		Installer: installer,
		Product:   "openSUSE Leap",
		Queue:     deferred.New(filepath.Join(t.TempDir(), "queue")),
		ResolveDisk: func(string) (blockdev.Device, error) {
			return blockdev.Device{Name: "sda", Kind: blockdev.KindDisk}, nil
		},
	}
	return c, installer
}

func TestAddGeneratesFailsafeSibling(t *testing.T) {
	store := &memStore{}
	c, _ := newCoordinator(t, bootloader.GRUB, store)
	req := Request{Op: OpAdd, Image: "/boot/vmlinuz-5.0-default", Initrd: "/boot/initrd-5.0-default"}
	require.NoError(t, c.Run(req, []string{"update-bootloader", "--add"}))

	require.Len(t, store.sections, 2)
	require.Equal(t, "openSUSE Leap - 5.0", store.sections[0].Name)
	require.True(t, store.sections[0].Default)
	require.Equal(t, section.OriginLinux, store.sections[0].Origin)
	require.Equal(t, "Failsafe -- openSUSE Leap - 5.0", store.sections[1].Name)
	require.Equal(t, section.OriginFailsafe, store.sections[1].Origin)
	require.False(t, store.sections[1].Default)
}

func TestAddXenHasNoFailsafe(t *testing.T) {
	store := &memStore{}
	c, _ := newCoordinator(t, bootloader.GRUB, store)
	req := Request{Op: OpAdd, Image: "/boot/vmlinuz-5.0-xen", Xen: true}
	require.NoError(t, c.Run(req, nil))

	require.Len(t, store.sections, 1)
	require.Equal(t, "Xen -- openSUSE Leap - 5.0", store.sections[0].Name)
	require.Equal(t, section.TypeXen, store.sections[0].Type)
	require.Equal(t, DefaultXenKernel, store.sections[0].XenKernel)
}

func TestAddDuplicateGuard(t *testing.T) {
	store := &memStore{}
	c, _ := newCoordinator(t, bootloader.GRUB, store)
	// no failsafe sibling on this architecture, so the counts stay plain
	c.Ctx.Arch = "aarch64"
	req := Request{Op: OpAdd, Image: "/boot/vmlinuz-5.0-default"}
	require.NoError(t, c.Run(req, nil))
	require.ErrorIs(t, c.Run(req, nil), section.ErrAlreadyExists)

	req.Force = true
	require.NoError(t, c.Run(req, nil))
	n, err := c.Registry.Count(section.Filter{Type: section.TypeImage, Image: req.Image})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestDefaultInheritance(t *testing.T) {
	store := &memStore{sections: []section.Section{{
		Name: "openSUSE Leap - 5.0", Type: section.TypeImage,
		Image: "/boot/vmlinuz-5.0-default", Default: true,
	}}}
	c, _ := newCoordinator(t, bootloader.GRUB, store)
	c.Ctx.Arch = "aarch64"

	// same flavor suffix as the current default: the new kernel inherits
	require.NoError(t, c.Run(Request{Op: OpAdd, Image: "/boot/vmlinuz-5.1-default"}, nil))
	def, err := c.Registry.Default()
	require.NoError(t, err)
	require.Equal(t, "/boot/vmlinuz-5.1-default", def.Image)

	// a xen kernel does not take over the default
	require.NoError(t, c.Run(Request{Op: OpAdd, Image: "/boot/vmlinuz-5.1-xen", Xen: true}, nil))
	def, err = c.Registry.Default()
	require.NoError(t, err)
	require.Equal(t, "/boot/vmlinuz-5.1-default", def.Image)
}

func TestAddRequiresImage(t *testing.T) {
	c, _ := newCoordinator(t, bootloader.GRUB, &memStore{})
	require.ErrorIs(t, c.Run(Request{Op: OpAdd}, nil), ErrMissingArgument)
}

func TestRemoveAbsentSucceeds(t *testing.T) {
	store := &memStore{}
	c, _ := newCoordinator(t, bootloader.GRUB, store)
	req := Request{Op: OpRemove, Image: "/boot/vmlinuz-4.4-default"}
	require.NoError(t, c.Run(req, nil))
	require.Empty(t, store.sections)
}

func TestRemovePrevious(t *testing.T) {
	store := &memStore{sections: []section.Section{
		{Name: "openSUSE Leap - 5.0", Type: section.TypeImage, Image: "/boot/vmlinuz-5.0-default", Initrd: "/boot/initrd-5.0-default"},
		{Name: "Previous Kernel - 4.4", Type: section.TypeImage, Image: "/boot/vmlinuz-4.4-default", Initrd: "/boot/initrd-4.4-default"},
	}}
	c, _ := newCoordinator(t, bootloader.GRUB, store)
	require.NoError(t, c.Run(Request{Op: OpRemove, Image: "/boot/vmlinuz-4.4-default"}, nil))
	require.Len(t, store.sections, 1)
	require.Equal(t, "/boot/vmlinuz-5.0-default", store.sections[0].Image)
}

func TestGrub2AddIsARefresh(t *testing.T) {
	store := &memStore{}
	c, installer := newCoordinator(t, bootloader.GRUB2, store)
	require.NoError(t, c.Run(Request{Op: OpAdd, Image: "/boot/vmlinuz-5.0-default"}, nil))

	// no entry was hand-crafted, the menu generator was run instead
	require.Empty(t, store.sections)
	require.Equal(t, []bootloader.Type{bootloader.GRUB2}, installer.madeConfig)
	// plain refresh never runs grub2-install
	require.Empty(t, installer.installed)
}

func TestRefreshLiloRunsInstaller(t *testing.T) {
	c, installer := newCoordinator(t, bootloader.LILO, &memStore{})
	require.NoError(t, c.Run(Request{Op: OpRefresh}, nil))
	require.Equal(t, []string{"lilo:"}, installer.installed)
}

func TestReinitGrub2InstallsOnResolvedDisk(t *testing.T) {
	c, installer := newCoordinator(t, bootloader.GRUB2, &memStore{})
	require.NoError(t, c.Run(Request{Op: OpReinit}, nil))
	require.Equal(t, []bootloader.Type{bootloader.GRUB2}, installer.madeConfig)
	require.Equal(t, []string{"grub2:/dev/sda"}, installer.installed)
}

func TestLoaderNoneIsNoop(t *testing.T) {
	store := &memStore{}
	c, installer := newCoordinator(t, bootloader.None, store)
	require.NoError(t, c.Run(Request{Op: OpAdd, Image: "/boot/vmlinuz-5.0-default"}, nil))
	require.Empty(t, store.sections)
	require.Empty(t, installer.madeConfig)
	require.Empty(t, installer.installed)
}

func TestInstallationDefersBeforeLoaderCheck(t *testing.T) {
	// the installation image usually has no loader configured yet: the
	// invocation must be queued for replay, not dropped as a no-op
	store := &memStore{}
	c, _ := newCoordinator(t, bootloader.None, store)
	c.Ctx.InInstallation = true
	argv := []string{"update-bootloader", "--refresh"}
	require.NoError(t, c.Run(Request{Op: OpRefresh}, argv))

	commands, err := c.Queue.Commands()
	require.NoError(t, err)
	require.Equal(t, [][]string{argv}, commands)
}

func TestForceDefaultOutsideAdd(t *testing.T) {
	c, _ := newCoordinator(t, bootloader.GRUB, &memStore{})
	err := c.Run(Request{Op: OpRemove, Image: "/boot/vmlinuz", ForceDefault: true}, nil)
	require.ErrorIs(t, err, ErrInvalidUsage)
}

func TestDeferredExecution(t *testing.T) {
	store := &memStore{}
	c, _ := newCoordinator(t, bootloader.GRUB, store)
	c.Ctx.InInstallation = true
	argv := []string{"update-bootloader", "--add", "--image", "/boot/vmlinuz-5.0-default"}
	require.NoError(t, c.Run(Request{Op: OpAdd, Image: "/boot/vmlinuz-5.0-default"}, argv))

	// nothing was mutated, exactly one replayable command was queued
	require.Empty(t, store.sections)
	commands, err := c.Queue.Commands()
	require.NoError(t, err)
	require.Equal(t, [][]string{argv}, commands)

	// the replay performs the mutation instead of re-queueing
	c.Ctx.Replaying = true
	require.NoError(t, c.Run(Request{Op: OpAdd, Image: "/boot/vmlinuz-5.0-default"}, argv))
	require.NotEmpty(t, store.sections)
}
