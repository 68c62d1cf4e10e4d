package mcp

// White-box testing required: writeResultJSON is an unexported helper that
// shapes every write/update/delete/undelete tool response and isn't
// reachable without a live stdio transport, so it's covered directly here.

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/shadowdb/shadowdb/internal/models"
)

func TestWriteResultJSON_HappyPath(t *testing.T) {
	c := qt.New(t)

	got := writeResultJSON(&models.WriteResult{OK: true, ID: 7, Path: "shadowdb/general/7", Embedded: true, Message: "ok"})
	c.Assert(got["ok"], qt.Equals, true)
	c.Assert(got["id"], qt.Equals, int64(7))
	c.Assert(got["path"], qt.Equals, "shadowdb/general/7")
	c.Assert(got["embedded"], qt.Equals, true)
	c.Assert(got["message"], qt.Equals, "ok")
}
