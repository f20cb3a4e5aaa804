package section

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyExists is returned by Add when a section with the same
	// type and image is already configured and force is not set.
	ErrAlreadyExists = errors.New("section already exists")
	// ErrAmbiguousRemoval is returned by Remove when the filter matches
	// more than one section and force is not set.
	ErrAmbiguousRemoval = errors.New("removal filter matches more than one section")
)

// Store is the boot-loader config writer the Registry persists through. The
// store owns the authoritative configuration; the Registry re-reads it on
// every operation and never caches sections across calls. Implementations
// must make Lock exclusive across processes, not just goroutines.
type Store interface {
	Lock() error
	Unlock() error
	Sections() ([]Section, error)
	Add(Section) error
	Remove(Section) error
}

// Registry implements matching, counting, adding and removing of boot
// entries on top of a Store.
type Registry struct {
	store Store
}

// NewRegistry returns a Registry persisting through the given store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Count returns the number of configured sections matching the filter.
func (r *Registry) Count(f Filter) (int, error) {
	if err := r.store.Lock(); err != nil {
		return 0, err
	}
	defer r.store.Unlock()
	return r.count(f)
}

func (r *Registry) count(f Filter) (int, error) {
	sections, err := r.store.Sections()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range sections {
		if f.Matches(s) {
			n++
		}
	}
	return n, nil
}

// Default returns the currently-default section, or nil if the
// configuration has none.
func (r *Registry) Default() (*Section, error) {
	if err := r.store.Lock(); err != nil {
		return nil, err
	}
	defer r.store.Unlock()
	sections, err := r.store.Sections()
	if err != nil {
		return nil, err
	}
	for _, s := range sections {
		if s.Default {
			return &s, nil
		}
	}
	return nil, nil
}

// Add persists a new section. It fails with ErrAlreadyExists if a section
// with the same type and image is already configured, unless force is set,
// in which case the duplicate is created intentionally. The count and the
// write run under the same store lock.
func (r *Registry) Add(s Section, force bool) error {
	if err := r.store.Lock(); err != nil {
		return err
	}
	defer r.store.Unlock()
	n, err := r.count(Filter{Type: s.Type, Image: s.Image})
	if err != nil {
		return err
	}
	if n > 0 {
		if !force {
			return fmt.Errorf("%w: type %s image %s", ErrAlreadyExists, s.Type, s.Image)
		}
		logrus.Infof("Forced add: creating duplicate section for %s image %s", s.Type, s.Image)
	}
	logrus.Infof("Adding section %q (type %s, image %s, default %v)", s.Name, s.Type, s.Image, s.Default)
	return r.store.Add(s)
}

// Remove deletes the sections matching the filter and reports how many were
// removed. Zero matches is a no-op success: removing something absent is
// idempotent. More than one match fails with ErrAmbiguousRemoval unless
// force is set, because name alone is not a reliable identity key and
// deleting an unrelated entry that happens to share the image path must not
// happen silently.
func (r *Registry) Remove(f Filter, force bool) (int, error) {
	if err := r.store.Lock(); err != nil {
		return 0, err
	}
	defer r.store.Unlock()
	sections, err := r.store.Sections()
	if err != nil {
		return 0, err
	}
	var matched []Section
	for _, s := range sections {
		if f.Matches(s) {
			matched = append(matched, s)
		}
	}
	switch {
	case len(matched) == 0:
		logrus.Infof("No section matches %+v, nothing to remove", f)
		return 0, nil
	case len(matched) > 1 && !force:
		return 0, fmt.Errorf("%w: %d matches for %+v", ErrAmbiguousRemoval, len(matched), f)
	}
	for _, s := range matched {
		logrus.Infof("Removing section %q (image %s)", s.Name, s.Image)
		if err := r.store.Remove(s); err != nil {
			return 0, err
		}
	}
	return len(matched), nil
}
