// Package e2e_test contains end-to-end tests that exercise the full
// shadowdb CLI by importing the root command and running it in-process
// against a temporary sqlite database. Output is captured via cobra's
// SetOut so tests can run concurrently without affecting os.Stdout.
package e2e_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	rootcmd "github.com/shadowdb/shadowdb/cmd/shadowdb/root"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newDB returns a fresh sqlite connection string under a per-test temp
// directory and points HOME at that same directory so config.DefaultConfigPath
// resolves somewhere writable and isolated from the host's real config.
func newDB(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return filepath.Join(home, "shadowdb.db")
}

// runCmd executes the root command against conn with the provided args and
// returns the captured stdout output along with any execution error.
func runCmd(t testing.TB, conn string, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	root := rootcmd.New()
	root.SetOut(&buf)
	root.SetArgs(append([]string{"--connection", conn}, args...))
	execErr := root.ExecuteContext(context.Background())

	return buf.String(), execErr
}

// extractID parses the numeric record id from a write command output line of
// the form "Wrote record <id> at <path> (embedded: <bool>)".
func extractID(t *testing.T, output string) int64 {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		const prefix = "Wrote record "
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := strings.TrimPrefix(line, prefix)
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err == nil {
			return id
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// Help
// ---------------------------------------------------------------------------

func TestHelp_HappyPath(t *testing.T) {
	c := qt.New(t)

	out, err := runCmd(t, newDB(t), "--help")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "shadowdb")
}

// ---------------------------------------------------------------------------
// Write
// ---------------------------------------------------------------------------

func TestWrite_HappyPath(t *testing.T) {
	c := qt.New(t)

	out, err := runCmd(t, newDB(t), "write",
		"All builds must go through make targets not go build directly",
		"--title", "Use make for builds",
		"--category", "pattern",
	)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "Wrote record")
	c.Assert(out, qt.Contains, "shadowdb/pattern/")
}

func TestWrite_FailurePath(t *testing.T) {
	c := qt.New(t)

	conn := newDB(t)
	c.Run("missing content argument returns error", func(c *qt.C) {
		_, err := runCmd(t, conn, "write")
		c.Assert(err, qt.IsNotNil)
	})
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearch_HappyPath(t *testing.T) {
	c := qt.New(t)

	conn := newDB(t)
	_, writeErr := runCmd(t, conn, "write",
		"CGO must be enabled for go-sqlite3 and sqlite-vec extensions",
		"--title", "CGO required for sqlite",
		"--category", "pattern",
	)
	c.Assert(writeErr, qt.IsNil)

	out, err := runCmd(t, conn, "search", "sqlite")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "CGO must be enabled")
}

func TestSearch_EmptyDB_HappyPath(t *testing.T) {
	c := qt.New(t)

	out, err := runCmd(t, newDB(t), "search", "anything")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "No results found")
}

func TestSearch_FailurePath(t *testing.T) {
	c := qt.New(t)

	c.Run("missing query argument returns error", func(c *qt.C) {
		_, err := runCmd(t, newDB(t), "search")
		c.Assert(err, qt.IsNotNil)
	})
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestGet_ByID_HappyPath(t *testing.T) {
	c := qt.New(t)

	conn := newDB(t)
	writeOut, writeErr := runCmd(t, conn, "write",
		"Chose SQLite for local persistent storage",
		"--title", "Architecture decision",
	)
	c.Assert(writeErr, qt.IsNil)
	id := extractID(t, writeOut)
	c.Assert(id, qt.Not(qt.Equals), int64(0))

	out, err := runCmd(t, conn, "get", strconv.FormatInt(id, 10))
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "Chose SQLite for local persistent storage")
}

func TestGet_ByPath_HappyPath(t *testing.T) {
	c := qt.New(t)

	conn := newDB(t)
	_, writeErr := runCmd(t, conn, "write",
		"Run shadowdb primer at the start of every coding agent session",
		"--title", "Context injection pattern",
		"--category", "pattern",
	)
	c.Assert(writeErr, qt.IsNil)

	out, err := runCmd(t, conn, "get", "shadowdb/pattern")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "Context injection pattern")
}

// ---------------------------------------------------------------------------
// Delete / Undelete
// ---------------------------------------------------------------------------

func TestDelete_HappyPath(t *testing.T) {
	c := qt.New(t)

	conn := newDB(t)
	writeOut, writeErr := runCmd(t, conn, "write",
		"Made a temporary architectural decision to revisit later",
		"--title", "Temporary architectural decision",
	)
	c.Assert(writeErr, qt.IsNil)
	id := extractID(t, writeOut)
	c.Assert(id, qt.Not(qt.Equals), int64(0))

	out, err := runCmd(t, conn, "delete", strconv.FormatInt(id, 10))
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Not(qt.Equals), "")

	out, err = runCmd(t, conn, "undelete", strconv.FormatInt(id, 10))
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Not(qt.Equals), "")
}

func TestDelete_FailurePath(t *testing.T) {
	c := qt.New(t)

	c.Run("missing id argument returns error", func(c *qt.C) {
		_, err := runCmd(t, newDB(t), "delete")
		c.Assert(err, qt.IsNotNil)
	})

	c.Run("non-numeric id returns error", func(c *qt.C) {
		_, err := runCmd(t, newDB(t), "delete", "not-a-number")
		c.Assert(err, qt.IsNotNil)
	})
}

// ---------------------------------------------------------------------------
// Ping
// ---------------------------------------------------------------------------

func TestPing_HappyPath(t *testing.T) {
	c := qt.New(t)

	out, err := runCmd(t, newDB(t), "ping")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "ok")
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestSessions_HappyPath(t *testing.T) {
	c := qt.New(t)

	conn := newDB(t)
	_, writeErr := runCmd(t, conn, "write",
		"Run shadowdb primer at the start of every coding agent session",
		"--title", "Context injection pattern",
		"--category", "pattern",
	)
	c.Assert(writeErr, qt.IsNil)

	out, err := runCmd(t, conn, "sessions")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "Recent records")
	c.Assert(out, qt.Contains, "Context injection pattern")
}

func TestSessions_EmptyDB_HappyPath(t *testing.T) {
	c := qt.New(t)

	out, err := runCmd(t, newDB(t), "sessions")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "Recent records")
}
