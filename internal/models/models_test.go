package models_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/shadowdb/shadowdb/internal/models"
)

func TestMemory_Live(t *testing.T) {
	c := qt.New(t)

	c.Run("nil DeletedAt is live", func(c *qt.C) {
		m := &models.Memory{}
		c.Assert(m.Live(), qt.IsTrue)
	})

	c.Run("non-nil DeletedAt is not live", func(c *qt.C) {
		now := time.Now()
		m := &models.Memory{DeletedAt: &now}
		c.Assert(m.Live(), qt.IsFalse)
	})
}

func TestMemory_VirtualPath(t *testing.T) {
	c := qt.New(t)

	c.Run("uses the record's category", func(c *qt.C) {
		m := &models.Memory{ID: 42, Category: "bug"}
		c.Assert(m.VirtualPath(), qt.Equals, "shadowdb/bug/42")
	})

	c.Run("falls back to the default category when empty", func(c *qt.C) {
		m := &models.Memory{ID: 7}
		c.Assert(m.VirtualPath(), qt.Equals, "shadowdb/"+models.DefaultCategory+"/7")
	})
}

func TestPatch_Empty(t *testing.T) {
	c := qt.New(t)

	c.Run("zero value is empty", func(c *qt.C) {
		p := models.Patch{}
		c.Assert(p.Empty(), qt.IsTrue)
	})

	c.Run("any single field set is not empty", func(c *qt.C) {
		content := "x"
		c.Assert((&models.Patch{Content: &content}).Empty(), qt.IsFalse)
		c.Assert((&models.Patch{Tags: []string{}}).Empty(), qt.IsFalse)
	})
}

func TestSanitizeTags(t *testing.T) {
	c := qt.New(t)

	c.Run("dedupes preserving first-appearance order", func(c *qt.C) {
		got := models.SanitizeTags([]string{"go", "rust", "go"})
		c.Assert(got, qt.DeepEquals, []string{"go", "rust"})
	})

	c.Run("trims whitespace and drops empty entries", func(c *qt.C) {
		got := models.SanitizeTags([]string{"  go  ", "", "   "})
		c.Assert(got, qt.DeepEquals, []string{"go"})
	})

	c.Run("truncates an overlong tag", func(c *qt.C) {
		long := make([]rune, models.MaxTagChars+10)
		for i := range long {
			long[i] = 'a'
		}
		got := models.SanitizeTags([]string{string(long)})
		c.Assert(got, qt.HasLen, 1)
		c.Assert(len([]rune(got[0])), qt.Equals, models.MaxTagChars)
	})

	c.Run("caps the result at MaxTags", func(c *qt.C) {
		tags := make([]string, models.MaxTags+20)
		for i := range tags {
			tags[i] = string(rune('a' + i%26))
			if i >= 26 {
				tags[i] += string(rune('0' + i/26))
			}
		}
		got := models.SanitizeTags(tags)
		c.Assert(len(got) <= models.MaxTags, qt.IsTrue)
	})

	c.Run("nil input returns empty slice", func(c *qt.C) {
		got := models.SanitizeTags(nil)
		c.Assert(got, qt.HasLen, 0)
	})
}

func TestSanitizeCategory(t *testing.T) {
	c := qt.New(t)

	c.Run("trims whitespace", func(c *qt.C) {
		c.Assert(models.SanitizeCategory("  bug  "), qt.Equals, "bug")
	})

	c.Run("empty input defaults", func(c *qt.C) {
		c.Assert(models.SanitizeCategory(""), qt.Equals, models.DefaultCategory)
		c.Assert(models.SanitizeCategory("   "), qt.Equals, models.DefaultCategory)
	})

	c.Run("truncates an overlong category", func(c *qt.C) {
		long := make([]rune, models.MaxCategoryChars+5)
		for i := range long {
			long[i] = 'c'
		}
		got := models.SanitizeCategory(string(long))
		c.Assert(len([]rune(got)), qt.Equals, models.MaxCategoryChars)
	})
}

func TestSanitizeTitle(t *testing.T) {
	c := qt.New(t)

	c.Run("trims whitespace", func(c *qt.C) {
		c.Assert(models.SanitizeTitle("  Title  "), qt.Equals, "Title")
	})

	c.Run("empty input stays empty", func(c *qt.C) {
		c.Assert(models.SanitizeTitle("   "), qt.Equals, "")
	})

	c.Run("truncates an overlong title", func(c *qt.C) {
		long := make([]rune, models.MaxTitleChars+5)
		for i := range long {
			long[i] = 't'
		}
		got := models.SanitizeTitle(string(long))
		c.Assert(len([]rune(got)), qt.Equals, models.MaxTitleChars)
	})
}
