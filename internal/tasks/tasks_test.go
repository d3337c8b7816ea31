package tasks

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFixture(t *testing.T) {
	s, err := Load("../../testdata/tasks.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	if s.Task(1).Name != "animals" {
		t.Errorf("task 1 = %q, want animals", s.Task(1).Name)
	}
	lo, hi := s.ClassRange(2)
	if lo != 4 || hi != 6 {
		t.Errorf("ClassRange(2) = [%d, %d), want [4, 6)", lo, hi)
	}
	if s.SeenClasses(1) != 4 {
		t.Errorf("SeenClasses(1) = %d, want 4", s.SeenClasses(1))
	}
	if s.TotalClasses() != 6 {
		t.Errorf("TotalClasses = %d, want 6", s.TotalClasses())
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tasks.yaml")
	original := Synthesize(4, 3)

	if err := original.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 4 || loaded.TotalClasses() != 12 {
		t.Errorf("loaded %d tasks / %d classes, want 4 / 12", loaded.Len(), loaded.TotalClasses())
	}
	if loaded.Task(3).Classes[2] != "t3-c2" {
		t.Errorf("class = %q, want t3-c2", loaded.Task(3).Classes[2])
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsOverlappingClasses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	data := []byte(`
tasks:
  - name: a
    classes: [x, y]
  - name: b
    classes: [y, z]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for class owned by two tasks")
	}
}

func TestLoadRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	os.WriteFile(path, []byte("schema_version: 2\ntasks: []\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for schema_version 2")
	}
}
