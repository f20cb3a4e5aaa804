// Package deferred implements the delayed-execution queue: boot-loader
// commands accumulated while an installation image is active and replayed
// once the final system is running. Deferring avoids baking in a
// disk/controller identity that may change between installation phases.
package deferred

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexflint/go-filemutex"
	"github.com/google/shlex"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Queue is an append-only file of shell command fragments, one per line.
// Appends and drains are serialized across processes with a file lock next
// to the queue file.
type Queue struct {
	Path string
}

// New returns a queue backed by the given file. The file need not exist
// yet.
func New(path string) *Queue {
	return &Queue{Path: path}
}

func (q *Queue) lock() (*filemutex.FileMutex, error) {
	if err := os.MkdirAll(filepath.Dir(q.Path), 0o755); err != nil {
		return nil, err
	}
	m, err := filemutex.New(q.Path + ".lock")
	if err != nil {
		return nil, err
	}
	if err := m.Lock(); err != nil {
		return nil, err
	}
	return m, nil
}

// Append records one command for later replay.
func (q *Queue) Append(argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("refusing to queue an empty command")
	}
	m, err := q.lock()
	if err != nil {
		return err
	}
	defer m.Close()

	f, err := os.OpenFile(q.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line := quoteArgv(argv)
	logrus.Infof("Queueing deferred command: %s", line)
	_, err = fmt.Fprintln(f, line)
	return err
}

// Commands returns the queued commands in append order without consuming
// them. A missing queue file is an empty queue.
func (q *Queue) Commands() ([][]string, error) {
	f, err := os.Open(q.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var commands [][]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		argv, err := shlex.Split(line)
		if err != nil {
			return nil, fmt.Errorf("malformed queue line %q: %w", line, err)
		}
		commands = append(commands, argv)
	}
	return commands, scanner.Err()
}

// Drain executes the queued commands in append order and removes the queue
// file. Fragments must be idempotent-safe: there is no checkpointing of
// which ones already ran. Failures are collected, the remaining fragments
// still run, and the file is removed regardless so a broken fragment cannot
// wedge the queue forever.
func (q *Queue) Drain(run func(argv []string) error) error {
	m, err := q.lock()
	if err != nil {
		return err
	}
	defer m.Close()

	commands, err := q.Commands()
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, argv := range commands {
		logrus.Infof("Replaying deferred command: %s", quoteArgv(argv))
		if err := run(argv); err != nil {
			result = multierror.Append(result, fmt.Errorf("replay of %q: %w", quoteArgv(argv), err))
		}
	}
	if err := os.Remove(q.Path); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func quoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if arg == "" || strings.ContainsAny(arg, " \t'\"\\") {
			quoted[i] = "\"" + strings.NewReplacer("\\", "\\\\", "\"", "\\\"").Replace(arg) + "\""
		} else {
			quoted[i] = arg
		}
	}
	return strings.Join(quoted, " ")
}
