package deferred

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndCommands(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "bootloader/queue"))
	require.NoError(t, q.Append([]string{"update-bootloader", "--add", "--image", "/boot/vmlinuz-5.0-default"}))
	require.NoError(t, q.Append([]string{"update-bootloader", "--add", "--name", "openSUSE Leap - 5.0"}))

	commands, err := q.Commands()
	require.NoError(t, err)
	require.Len(t, commands, 2)
	require.Equal(t, []string{"update-bootloader", "--add", "--image", "/boot/vmlinuz-5.0-default"}, commands[0])
	// names with spaces survive the shell-fragment round trip
	require.Equal(t, []string{"update-bootloader", "--add", "--name", "openSUSE Leap - 5.0"}, commands[1])
}

func TestDrainRunsInOrderAndRemoves(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "queue"))
	require.NoError(t, q.Append([]string{"cmd", "one"}))
	require.NoError(t, q.Append([]string{"cmd", "two"}))

	var ran [][]string
	require.NoError(t, q.Drain(func(argv []string) error {
		ran = append(ran, argv)
		return nil
	}))
	require.Equal(t, [][]string{{"cmd", "one"}, {"cmd", "two"}}, ran)

	_, err := os.Stat(q.Path)
	require.True(t, os.IsNotExist(err))

	// draining an empty queue is fine
	require.NoError(t, q.Drain(func([]string) error {
		t.Fatal("nothing should run")
		return nil
	}))
}

func TestDrainCollectsFailuresAndStillRemoves(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "queue"))
	require.NoError(t, q.Append([]string{"bad"}))
	require.NoError(t, q.Append([]string{"good"}))

	var ran []string
	err := q.Drain(func(argv []string) error {
		ran = append(ran, argv[0])
		if argv[0] == "bad" {
			return os.ErrPermission
		}
		return nil
	})
	require.Error(t, err)
	// a failing fragment does not stop the ones after it
	require.Equal(t, []string{"bad", "good"}, ran)
	_, statErr := os.Stat(q.Path)
	require.True(t, os.IsNotExist(statErr))
}

func TestAppendEmptyCommand(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "queue"))
	require.Error(t, q.Append(nil))
}
