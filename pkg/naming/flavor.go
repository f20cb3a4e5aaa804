package naming

import (
	"path/filepath"
	"strings"
)

// FlavorKind classifies a kernel build variant.
type FlavorKind int

const (
	FlavorOther FlavorKind = iota
	FlavorDefault
	FlavorSMP
	FlavorBigSMP
	FlavorPAE
	FlavorDesktop
	FlavorDebug
	FlavorXen
)

// Flavor is the build variant parsed from a kernel image filename. Token
// carries the raw filename segment for FlavorXen and FlavorOther (e.g.
// "xenpae", "rt"); for the well-known kinds it equals the canonical suffix.
type Flavor struct {
	Kind  FlavorKind
	Token string
}

// Suffix returns the filename suffix this flavor was parsed from, used for
// default-inheritance comparison between images.
func (f Flavor) Suffix() string {
	return f.Token
}

// IsXen reports whether the image is a xen-enabled kernel.
func (f Flavor) IsXen() bool {
	return f.Kind == FlavorXen
}

var canonicalFlavors = map[string]FlavorKind{
	"default": FlavorDefault,
	"smp":     FlavorSMP,
	"bigsmp":  FlavorBigSMP,
	"pae":     FlavorPAE,
	"desktop": FlavorDesktop,
	"debug":   FlavorDebug,
}

// ParseImage splits a kernel image path like /boot/vmlinuz-5.0.13-1-default
// into the version ("5.0.13-1") and the flavor ("default"). The version is
// everything between the image prefix and the trailing flavor segment. An
// image without a flavor segment yields FlavorOther with an empty token.
func ParseImage(image string) (string, Flavor) {
	base := filepath.Base(image)
	parts := strings.Split(base, "-")
	if len(parts) < 2 {
		return "", Flavor{Kind: FlavorOther}
	}
	// parts[0] is the image prefix (vmlinuz, vmlinux, image, ...)
	parts = parts[1:]
	last := parts[len(parts)-1]
	flavor := parseToken(last)
	if flavor.Kind == FlavorOther && flavor.Token == "" {
		return strings.Join(parts, "-"), flavor
	}
	if len(parts) == 1 {
		// a bare flavor with no version, e.g. vmlinuz-xen
		return "", flavor
	}
	return strings.Join(parts[:len(parts)-1], "-"), flavor
}

func parseToken(token string) Flavor {
	if kind, ok := canonicalFlavors[token]; ok {
		return Flavor{Kind: kind, Token: token}
	}
	if strings.HasPrefix(token, "xen") {
		return Flavor{Kind: FlavorXen, Token: token}
	}
	// version-looking segments mean the image has no flavor suffix at all
	if token == "" || strings.IndexFunc(token, func(r rune) bool {
		return r >= '0' && r <= '9' || r == '.'
	}) == 0 {
		return Flavor{Kind: FlavorOther}
	}
	return Flavor{Kind: FlavorOther, Token: token}
}
