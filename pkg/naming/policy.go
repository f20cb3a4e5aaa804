package naming

import (
	"strings"
)

// Class buckets loader families by their menu naming conventions.
// Descriptive loaders get long product-qualified names; short loaders have
// limited menu display width or no localization pipeline and get short
// generic names.
type Class int

const (
	// ClassDescriptive covers grub, grub2 and lilo
	ClassDescriptive Class = iota
	// ClassShort covers elilo, zipl and anything unknown
	ClassShort
)

// ClassOf maps a loader family name to its naming class.
func ClassOf(loader string) Class {
	switch loader {
	case "grub", "grub2", "grub2-efi", "lilo":
		return ClassDescriptive
	default:
		return ClassShort
	}
}

// failsafeArchs is the fixed allow-list of architectures with known-working
// "recovery without extra options" kernels.
var failsafeArchs = map[string]bool{
	"i386":   true,
	"x86_64": true,
	"s390x":  true,
	"ia64":   true,
}

var failsafeFlavors = map[FlavorKind]bool{
	FlavorDefault: true,
	FlavorSMP:     true,
	FlavorBigSMP:  true,
	FlavorPAE:     true,
	FlavorDesktop: true,
}

// FailsafeEligible reports whether a failsafe sibling section should be
// generated alongside the primary one. Xen sections never get one.
func FailsafeEligible(arch string, flavor Flavor) bool {
	return failsafeArchs[arch] && failsafeFlavors[flavor.Kind]
}

// Request carries everything the naming policy needs. Names is a pure
// function of it.
type Request struct {
	Loader   string
	Product  string
	Version  string
	Flavor   Flavor
	Previous bool
	Arch     string
}

// Names is the set of section names to create for one add operation. An
// empty Failsafe means no failsafe sibling is generated.
type Names struct {
	Primary  string
	Failsafe string
}

// Names derives the section names for the request. Rules, first match wins:
//
//  1. canonical flavor (default/smp/bigsmp/pae): "<Product> - <version>"
//  2. xen image: "<Xen> -- <Product> - <version>" with the capitalized
//     trailing xen token from the image name
//  3. any other flavor: "<Flavor> -- <Product> - <version>"
//
// Short-class loaders collapse these to "<Product>", the xen token, and
// "Failsafe". The previous flag replaces the product label with a
// "Previous" one: previous entries intentionally do not track the current
// product name.
func (req Request) Names() Names {
	short := ClassOf(req.Loader) == ClassShort
	if req.Previous {
		return req.previousNames(short)
	}

	var names Names
	switch {
	case req.Flavor.Kind == FlavorXen:
		xen := capitalize(req.Flavor.Token)
		if short {
			names.Primary = xen
		} else {
			names.Primary = xen + " -- " + withVersion(req.Product, req.Version)
		}
		return names
	case failsafeFlavors[req.Flavor.Kind] && req.Flavor.Kind != FlavorDesktop:
		if short {
			names.Primary = req.Product
		} else {
			names.Primary = withVersion(req.Product, req.Version)
		}
	default:
		switch {
		case short:
			names.Primary = req.Product
		case req.Flavor.Token == "":
			// no flavor suffix on the image at all
			names.Primary = withVersion(req.Product, req.Version)
		default:
			names.Primary = capitalize(req.Flavor.Token) + " -- " + withVersion(req.Product, req.Version)
		}
	}
	if FailsafeEligible(req.Arch, req.Flavor) {
		if short {
			names.Failsafe = "Failsafe"
		} else {
			names.Failsafe = "Failsafe -- " + withVersion(req.Product, req.Version)
		}
	}
	return names
}

func (req Request) previousNames(short bool) Names {
	label := "Kernel"
	if req.Flavor.Kind == FlavorXen {
		label = capitalize(req.Flavor.Token)
	}
	var names Names
	if short {
		names.Primary = "previous " + strings.ToLower(label)
	} else {
		names.Primary = withVersion("Previous "+label, req.Version)
	}
	if FailsafeEligible(req.Arch, req.Flavor) {
		if short {
			names.Failsafe = "previous failsafe"
		} else {
			names.Failsafe = withVersion("Previous Failsafe", req.Version)
		}
	}
	return names
}

// withVersion appends the version qualifier. Images without a version in
// their name (vmlinuz-default and the like) keep the bare label instead of
// ending in a dangling separator.
func withVersion(label, version string) string {
	if version == "" {
		return label
	}
	return label + " - " + version
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
