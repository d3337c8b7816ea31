package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ckpt")
	store := NewStore(dir, 0)

	ck := &Checkpoint{
		RunID:      "run-1",
		TaskID:     2,
		Model:      []byte(`{"w":[1,2]}`),
		Classifier: []byte{0x00, 0xff},
	}
	if err := store.Save(ck); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(store.Path(2)) != "last_ckpt_task2.json" {
		t.Errorf("Path(2) = %q", store.Path(2))
	}

	loaded, err := store.Load(2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.RunID != "run-1" || loaded.TaskID != 2 {
		t.Errorf("loaded = %+v", loaded)
	}
	if string(loaded.Model) != `{"w":[1,2]}` {
		t.Errorf("Model = %q", loaded.Model)
	}
	if len(loaded.Classifier) != 2 || loaded.Classifier[1] != 0xff {
		t.Errorf("Classifier = %v", loaded.Classifier)
	}
	if loaded.SavedAt.IsZero() {
		t.Error("SavedAt should be set")
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 0)

	for _, id := range []int{3, 0, 1} {
		if err := store.Save(&Checkpoint{TaskID: id}); err != nil {
			t.Fatalf("Save %d: %v", id, err)
		}
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 3 || ids[0] != 0 || ids[1] != 1 || ids[2] != 3 {
		t.Errorf("List = %v, want [0 1 3]", ids)
	}
}

func TestListMissingDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "none"), 0)
	ids, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("List = %v, want empty", ids)
	}
}

func TestSaveRefusesWhenDiskIsFull(t *testing.T) {
	store := NewStore(t.TempDir(), 1<<40)
	err := store.Save(&Checkpoint{TaskID: 0})
	if !errors.Is(err, ErrInsufficientDisk) {
		t.Errorf("err = %v, want ErrInsufficientDisk", err)
	}
}

func TestCleanTemp(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "ckpt-123.json.tmp"), []byte("partial"), 0o644)
	store := NewStore(dir, 0)

	n, err := store.CleanTemp()
	if err != nil {
		t.Fatalf("CleanTemp: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
}
