// update-bootloader manages kernel sections in the host's boot-loader
// configuration: it adds and removes entries, refreshes the loader config
// and resolves the physical disk for legacy BIOS installs. During OS
// installation operations are queued and replayed later, because storage
// naming can change between installation phases.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/bootsync/bootsync/pkg/blockdev"
	"github.com/bootsync/bootsync/pkg/bootloader"
	"github.com/bootsync/bootsync/pkg/deferred"
	"github.com/bootsync/bootsync/pkg/engine"
	"github.com/bootsync/bootsync/pkg/menulst"
	"github.com/bootsync/bootsync/pkg/product"
	"github.com/bootsync/bootsync/pkg/section"
)

const helpText = "Update the boot-loader configuration with kernel entries"

// Environment markers translated into the RuntimeContext. Nothing below
// main reads the environment directly.
const (
	envRoot    = "UPDATE_BOOTLOADER_ROOT"
	envInstSys = "UPDATE_BOOTLOADER_INSTSYS"
	envReplay  = "UPDATE_BOOTLOADER_REPLAY"
)

var (
	// QueuePath is the delayed-execution queue file, relative to the root
	// prefix.
	QueuePath = "/var/lib/bootloader/deferred-queue"
	// LogPath is the append-only milestone log, relative to the root
	// prefix.
	LogPath = "/var/log/update-bootloader.log"
)

// configPaths maps loader families to the section config file the
// reference store manages. The grub2 family never uses it: its menu comes
// from grub2-mkconfig.
var configPaths = map[bootloader.Type]string{
	bootloader.GRUB:     "/boot/grub/menu.lst",
	bootloader.GRUB2:    "/boot/grub2/custom.cfg",
	bootloader.GRUB2EFI: "/boot/grub2/custom.cfg",
	bootloader.LILO:     "/etc/lilo.conf",
	bootloader.ELILO:    "/etc/elilo.conf",
	bootloader.ZIPL:     "/etc/zipl.conf",
}

type options struct {
	add     bool
	remove  bool
	refresh bool
	reinit  bool

	image        string
	initrd       string
	xen          bool
	xenKernel    string
	name         string
	isDefault    bool
	forceDefault bool
	force        bool
	previous     bool

	examineMBR string
	flush      bool
}

func newApp() (*kingpin.Application, *options) {
	opts := &options{}
	app := kingpin.New("update-bootloader", helpText)
	app.Flag("add", "Add a kernel section").BoolVar(&opts.add)
	app.Flag("remove", "Remove kernel section(s)").BoolVar(&opts.remove)
	app.Flag("refresh", "Rewrite the boot-loader configuration").BoolVar(&opts.refresh)
	app.Flag("reinit", "Rewrite the configuration and reinstall the boot loader").BoolVar(&opts.reinit)
	app.Flag("image", "Kernel image path").StringVar(&opts.image)
	app.Flag("initrd", "Initrd path").StringVar(&opts.initrd)
	app.Flag("xen", "Treat the image as a xen kernel").BoolVar(&opts.xen)
	app.Flag("xen-kernel", "Xen hypervisor path").StringVar(&opts.xenKernel)
	app.Flag("name", "Section name (derived from the image when omitted)").StringVar(&opts.name)
	app.Flag("default", "Request default status for the new section").BoolVar(&opts.isDefault)
	app.Flag("force-default", "Force the new section to be the default (only with --add)").BoolVar(&opts.forceDefault)
	app.Flag("force", "Override duplicate and ambiguity guards").BoolVar(&opts.force)
	app.Flag("previous", "Label the section as a previous kernel").BoolVar(&opts.previous)
	app.Flag("examinembr", "Print MBR diagnostics for a device and exit").StringVar(&opts.examineMBR)
	app.Flag("flush", "Replay the deferred command queue and exit").BoolVar(&opts.flush)
	app.UsageWriter(os.Stderr)
	app.Terminate(nil)
	return app, opts
}

func (o *options) operation() (engine.Op, error) {
	var ops []engine.Op
	for _, sel := range []struct {
		set bool
		op  engine.Op
	}{
		{o.add, engine.OpAdd},
		{o.remove, engine.OpRemove},
		{o.refresh, engine.OpRefresh},
		{o.reinit, engine.OpReinit},
	} {
		if sel.set {
			ops = append(ops, sel.op)
		}
	}
	if len(ops) != 1 {
		return "", fmt.Errorf("%w: exactly one of --add, --remove, --refresh, --reinit is required", engine.ErrInvalidUsage)
	}
	return ops[0], nil
}

func (o *options) request() (engine.Request, error) {
	op, err := o.operation()
	if err != nil {
		return engine.Request{}, err
	}
	return engine.Request{
		Op:           op,
		Image:        o.image,
		Initrd:       o.initrd,
		Xen:          o.xen,
		XenKernel:    o.xenKernel,
		Name:         o.name,
		Default:      o.isDefault,
		ForceDefault: o.forceDefault,
		Force:        o.force,
		Previous:     o.previous,
	}, nil
}

func runtimeContext() engine.RuntimeContext {
	return engine.RuntimeContext{
		RootPrefix:     os.Getenv(envRoot),
		Arch:           hostArch(),
		InInstallation: os.Getenv(envInstSys) != "",
		Replaying:      os.Getenv(envReplay) != "",
	}
}

// hostArch maps the Go architecture name to the kernel package naming the
// failsafe policy is keyed on.
func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i386"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

func setupLogging(rootPrefix string) io.Closer {
	logrus.SetOutput(os.Stderr)
	path := filepath.Join(rootPrefix, LogPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
			logrus.SetOutput(io.MultiWriter(os.Stderr, f))
			return f
		}
	}
	// diagnostics degrade to stderr only, never fatal
	return io.NopCloser(nil)
}

func newCoordinator(ctx engine.RuntimeContext) *engine.Coordinator {
	loader := bootloader.Detect(ctx.RootPrefix)
	var registry *section.Registry
	if path, ok := configPaths[loader]; ok {
		registry = section.NewRegistry(menulst.New(filepath.Join(ctx.RootPrefix, path)))
	}
	return &engine.Coordinator{
		Ctx:       ctx,
		Loader:    loader,
		Registry:  registry,
		Installer: &engine.ExecInstaller{RootPrefix: ctx.RootPrefix},
		Product:   product.Name(ctx.RootPrefix),
		Queue:     deferred.New(filepath.Join(ctx.RootPrefix, QueuePath)),
	}
}

// flush drains the deferred queue: every queued fragment is parsed and
// executed in append order with the replay marker set, so it cannot queue
// itself again.
func flush(ctx engine.RuntimeContext) error {
	replayCtx := ctx
	replayCtx.Replaying = true
	queue := deferred.New(filepath.Join(ctx.RootPrefix, QueuePath))
	return queue.Drain(func(argv []string) error {
		app, opts := newApp()
		if _, err := app.Parse(argv[1:]); err != nil {
			return fmt.Errorf("%w: %v", engine.ErrInvalidUsage, err)
		}
		req, err := opts.request()
		if err != nil {
			return err
		}
		return newCoordinator(replayCtx).Run(req, argv)
	})
}

func run(ctx engine.RuntimeContext, opts *options, argv []string) error {
	switch {
	case opts.examineMBR != "":
		return blockdev.ExamineMBR(opts.examineMBR, os.Stdout)
	case opts.flush:
		return flush(ctx)
	}
	req, err := opts.request()
	if err != nil {
		return err
	}
	logrus.Infof("Operation %q requested (image %q, name %q)", req.Op, req.Image, req.Name)
	return newCoordinator(ctx).Run(req, argv)
}

func main() {
	app, opts := newApp()
	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "update-bootloader: %v\n", err)
		os.Exit(1)
	}
	ctx := runtimeContext()
	logFile := setupLogging(ctx.RootPrefix)
	defer logFile.Close()

	if err := run(ctx, opts, os.Args); err != nil {
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}
