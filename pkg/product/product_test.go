package product

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeOSRelease(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc/os-release"), []byte(content), 0o644))
	return root
}

func TestNamePrettyName(t *testing.T) {
	root := writeOSRelease(t, "NAME=\"openSUSE Leap\"\nPRETTY_NAME=\"openSUSE Leap 15.5\"\n")
	require.Equal(t, "openSUSE Leap 15.5", Name(root))
}

func TestNameFallsBackToName(t *testing.T) {
	root := writeOSRelease(t, "NAME=\"openSUSE Leap\"\nVERSION_ID=15.5\n")
	require.Equal(t, "openSUSE Leap", Name(root))
}

func TestNameMissingFile(t *testing.T) {
	require.Equal(t, FallbackName, Name(t.TempDir()))
}
