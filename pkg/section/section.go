package section

// Type of a boot entry. Regular kernel entries are TypeImage, Xen
// hypervisor entries are TypeXen.
type Type string

const (
	// TypeImage is a plain kernel+initrd entry
	TypeImage Type = "image"
	// TypeXen is a hypervisor entry with a separate xen kernel
	TypeXen Type = "xen"
)

// Origin tags a section with the installer path that created it. The config
// writer uses it to generate the ownership comment, the engine forwards it
// verbatim and never interprets it.
type Origin string

const (
	OriginLinux    Origin = "linux"
	OriginXen      Origin = "xen"
	OriginFailsafe Origin = "failsafe"
	OriginNone     Origin = "none"
)

// Section is one boot menu entry candidate. Identity for matching purposes
// is (Type, Image) plus whatever optional fields the caller filters on,
// never a synthetic ID.
type Section struct {
	Name      string
	Type      Type
	Image     string
	Initrd    string
	XenKernel string
	Default   bool
	Origin    Origin
}

// Filter selects sections by their non-empty fields. An empty field is a
// wildcard.
type Filter struct {
	Type      Type
	Image     string
	Initrd    string
	XenKernel string
	Name      string
}

// Matches returns true if all non-empty filter fields equal the
// corresponding section fields.
func (f Filter) Matches(s Section) bool {
	if f.Type != "" && f.Type != s.Type {
		return false
	}
	if f.Image != "" && f.Image != s.Image {
		return false
	}
	if f.Initrd != "" && f.Initrd != s.Initrd {
		return false
	}
	if f.XenKernel != "" && f.XenKernel != s.XenKernel {
		return false
	}
	if f.Name != "" && f.Name != s.Name {
		return false
	}
	return true
}
