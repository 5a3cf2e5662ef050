package statefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rhymu8354/alfred/internal/domain/document"
)

func TestStore_Load_MissingFileReturnsEmptyObject(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "store.json"), nil)

	tree, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tree.Kind != document.KindObject || len(tree.Object) != 0 {
		t.Fatalf("Load() = %#v, want empty object", tree)
	}
}

func TestStore_SaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	s := New(path, nil)

	tree := document.Value{
		Kind: document.KindObject,
		Object: map[string]document.Value{
			"Roles": {Kind: document.KindObject, Object: map[string]document.Value{
				"key:abc": {Kind: document.KindArray, Array: []document.Value{
					{Kind: document.KindString, String: "editor"},
				}},
			}},
		},
	}

	if err := s.Save(tree); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("store file permissions = %o, want 0600", perm)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	roles := loaded.Get("Roles").Get("key:abc")
	if roles.Kind != document.KindArray || len(roles.Array) != 1 || roles.Array[0].String != "editor" {
		t.Errorf("loaded Roles = %#v, want [editor]", roles)
	}
}

func TestStore_Save_WritesBackupOfPreviousGeneration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	s := New(path, nil)

	first := document.Value{Kind: document.KindObject, Object: map[string]document.Value{
		"n": {Kind: document.KindNumber, Number: 1},
	}}
	second := document.Value{Kind: document.KindObject, Object: map[string]document.Value{
		"n": {Kind: document.KindNumber, Number: 2},
	}}

	if err := s.Save(first); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	if err := s.Save(second); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	bakData, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("read .bak: %v", err)
	}
	bakTree, err := document.Parse(bakData)
	if err != nil {
		t.Fatalf("parse .bak: %v", err)
	}
	if got := bakTree.Get("n").Number; got != 1 {
		t.Errorf(".bak holds n=%v, want 1 (the generation before the last save)", got)
	}
}

func TestStore_Load_RejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	s := New(path, nil)

	if _, err := s.Load(); err == nil {
		t.Error("Load() error = nil, want error for malformed JSON")
	}
}
