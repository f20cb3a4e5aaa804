// Package product looks up the display name of the installed OS for use in
// boot menu entry names.
package product

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-envparse"
	"github.com/sirupsen/logrus"
)

// OSReleasePath is resolved relative to the runtime root prefix.
var OSReleasePath = "/etc/os-release"

// FallbackName is used when no product name can be discovered.
const FallbackName = "Linux"

// Name returns the product display name of the running OS: PRETTY_NAME
// from os-release, NAME if that is unset, FallbackName otherwise.
func Name(rootPrefix string) string {
	f, err := os.Open(filepath.Join(rootPrefix, OSReleasePath))
	if err != nil {
		logrus.Debugf("No os-release file: %v", err)
		return FallbackName
	}
	defer f.Close()
	vars, err := envparse.Parse(f)
	if err != nil {
		logrus.Warnf("Cannot parse %s: %v", OSReleasePath, err)
		return FallbackName
	}
	if name := vars["PRETTY_NAME"]; name != "" {
		return name
	}
	if name := vars["NAME"]; name != "" {
		return name
	}
	return FallbackName
}
