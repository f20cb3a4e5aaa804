// Package menulst persists boot sections in a menu.lst-style configuration
// file. It is the reference implementation of the section.Store interface;
// production loaders bring their own config writers.
//
// The format is line oriented:
//
//	default 1
//	# origin: linux
//	title openSUSE Leap 15.5 - 5.0
//	    kernel /boot/vmlinuz-5.0-default
//	    initrd /boot/initrd-5.0-default
//
// Xen stanzas carry an extra "xen" directive with the hypervisor path.
package menulst

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alexflint/go-filemutex"

	"github.com/bootsync/bootsync/pkg/section"
)

// Store reads and writes one menu.lst-style file. All mutations re-read the
// file, modify and atomically replace it (write-temp-then-rename), so an
// interrupted process never leaves a half-written configuration behind.
type Store struct {
	Path string

	mu *filemutex.FileMutex
}

// New returns a store for the given config file.
func New(path string) *Store {
	return &Store{Path: path}
}

// Lock takes an exclusive cross-process lock on the configuration. The
// engine holds it across its count-then-mutate sequences.
func (st *Store) Lock() error {
	if err := os.MkdirAll(filepath.Dir(st.Path), 0o755); err != nil {
		return err
	}
	m, err := filemutex.New(st.Path + ".lock")
	if err != nil {
		return err
	}
	if err := m.Lock(); err != nil {
		return err
	}
	st.mu = m
	return nil
}

// Unlock releases the lock taken by Lock.
func (st *Store) Unlock() error {
	if st.mu == nil {
		return nil
	}
	err := st.mu.Close()
	st.mu = nil
	return err
}

// Sections parses the current configuration. A missing file is an empty
// configuration.
func (st *Store) Sections() ([]section.Section, error) {
	data, err := os.ReadFile(st.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return parse(string(data)), nil
}

// Add appends a section. When the new section requests default status the
// previous default is demoted: at most one section is default at a time.
func (st *Store) Add(s section.Section) error {
	sections, err := st.Sections()
	if err != nil {
		return err
	}
	if s.Default {
		for i := range sections {
			sections[i].Default = false
		}
	}
	return st.persist(append(sections, s))
}

// Remove deletes the first section equal to the given one.
func (st *Store) Remove(victim section.Section) error {
	sections, err := st.Sections()
	if err != nil {
		return err
	}
	for i, s := range sections {
		if s == victim {
			return st.persist(append(sections[:i], sections[i+1:]...))
		}
	}
	return nil
}

func parse(content string) []section.Section {
	var sections []section.Section
	var cur *section.Section
	defaultIdx := -1
	// the zero Origin round-trips as the zero value: only an explicit
	// origin comment sets it
	var origin section.Origin
	flush := func() {
		if cur != nil && cur.Image != "" {
			sections = append(sections, *cur)
		}
		cur = nil
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# origin:") {
			origin = section.Origin(strings.TrimSpace(strings.TrimPrefix(line, "# origin:")))
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "default":
			if len(fields) == 2 {
				if n, err := strconv.Atoi(fields[1]); err == nil {
					defaultIdx = n
				}
			}
		case "title":
			flush()
			cur = &section.Section{
				Name:   strings.TrimSpace(strings.TrimPrefix(line, "title")),
				Type:   section.TypeImage,
				Origin: origin,
			}
			origin = ""
		case "kernel":
			if cur != nil && len(fields) >= 2 {
				cur.Image = fields[1]
			}
		case "initrd":
			if cur != nil && len(fields) >= 2 {
				cur.Initrd = fields[1]
			}
		case "xen":
			if cur != nil && len(fields) >= 2 {
				cur.Type = section.TypeXen
				cur.XenKernel = fields[1]
			}
		}
	}
	flush()
	if defaultIdx >= 0 && defaultIdx < len(sections) {
		sections[defaultIdx].Default = true
	}
	return sections
}

func (st *Store) persist(sections []section.Section) error {
	var b strings.Builder
	for i, s := range sections {
		if s.Default {
			fmt.Fprintf(&b, "default %d\n", i)
			break
		}
	}
	for _, s := range sections {
		if s.Origin != "" {
			fmt.Fprintf(&b, "# origin: %s\n", s.Origin)
		}
		fmt.Fprintf(&b, "title %s\n", s.Name)
		if s.Type == section.TypeXen && s.XenKernel != "" {
			fmt.Fprintf(&b, "    xen %s\n", s.XenKernel)
		}
		fmt.Fprintf(&b, "    kernel %s\n", s.Image)
		if s.Initrd != "" {
			fmt.Fprintf(&b, "    initrd %s\n", s.Initrd)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(st.Path), filepath.Base(st.Path)+".tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), st.Path)
}
