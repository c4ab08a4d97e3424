package fileid

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStatIdentityStableAcrossRename(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")

	if err := os.WriteFile(a, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := Stat(a)
	if err != nil {
		t.Fatal(err)
	}
	if !before.Valid() {
		t.Fatal("Stat returned a zero ID for a real file")
	}

	if err := os.Rename(a, b); err != nil {
		t.Fatal(err)
	}
	after, err := Stat(b)
	if err != nil {
		t.Fatal(err)
	}

	if before != after {
		t.Fatalf("identity changed across rename: before=%v after=%v", before, after)
	}
}

func TestStatIdentityDiffersAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	os.WriteFile(a, []byte("1"), 0o644)
	os.WriteFile(b, []byte("2"), 0o644)

	ida, err := Stat(a)
	if err != nil {
		t.Fatal(err)
	}
	idb, err := Stat(b)
	if err != nil {
		t.Fatal(err)
	}
	if ida == idb {
		t.Fatal("two distinct files produced the same ID")
	}
}

func TestCacheUpsertAndPathFor(t *testing.T) {
	c := New(Stat)
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	os.WriteFile(a, []byte("x"), 0o644)

	id, err := Stat(a)
	if err != nil {
		t.Fatal(err)
	}
	c.Upsert(a, id)

	got, ok := c.Lookup(a)
	if !ok || got != id {
		t.Fatalf("Lookup = (%v, %v), want (%v, true)", got, ok, id)
	}

	p, ok := c.PathFor(id)
	if !ok || p != a {
		t.Fatalf("PathFor = (%q, %v), want (%q, true)", p, ok, a)
	}
}

func TestCacheRemovePathRecursive(t *testing.T) {
	c := New(Stat)
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	os.Mkdir(sub, 0o755)
	f := filepath.Join(sub, "f")
	os.WriteFile(f, []byte("x"), 0o644)

	if err := c.AddPath(dir, true); err != nil {
		t.Fatal(err)
	}
	if c.Len() == 0 {
		t.Fatal("AddPath recursive populated nothing")
	}

	c.RemovePath(dir, true)
	if c.Len() != 0 {
		t.Fatalf("RemovePath recursive left %d entries", c.Len())
	}
}

func TestCacheRescan(t *testing.T) {
	c := New(Stat)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a"), []byte("x"), 0o644)

	if err := c.AddPath(dir, true); err != nil {
		t.Fatal(err)
	}
	before := c.Len()

	os.WriteFile(filepath.Join(dir, "b"), []byte("y"), 0o644)
	if err := c.Rescan([]string{dir}, true); err != nil {
		t.Fatal(err)
	}
	if c.Len() <= before {
		t.Fatalf("Rescan did not pick up new entry: before=%d after=%d", before, c.Len())
	}
}
