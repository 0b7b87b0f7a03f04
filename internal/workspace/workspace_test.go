package workspace

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func TestManager_Create(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManager(fs, "/data/workspaces")

	ws, err := m.Create("req-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ws.Dir != filepath.Join("/data/workspaces", "req-1") {
		t.Errorf("Dir = %s", ws.Dir)
	}
	if ok, _ := afero.DirExists(fs, ws.Dir); !ok {
		t.Error("workspace directory not created")
	}

	for _, bad := range []string{"", "../escape", "a/b"} {
		if _, err := m.Create(bad); err == nil {
			t.Errorf("Create(%q) should fail", bad)
		}
	}
}

func TestWorkspace_Tracked(t *testing.T) {
	fs := afero.NewMemMapFs()
	ws, err := NewManager(fs, "/w").Create("r")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	src, err := ws.Sub("src-0")
	if err != nil {
		t.Fatalf("Sub() error = %v", err)
	}
	ws.Track(filepath.Join(src, "a.mp4"), filepath.Join(src, "a.mp4"))
	out := ws.OutputPath()

	got := ws.Tracked()
	want := []string{src, filepath.Join(src, "a.mp4"), out, ws.Dir}
	if len(got) != len(want) {
		t.Fatalf("Tracked() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tracked()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestManager_List(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManager(fs, "/w")

	if got, err := m.List(); err != nil || len(got) != 0 {
		t.Fatalf("List() on missing root = %v, %v", got, err)
	}

	m.Create("a")
	m.Create("b")
	afero.WriteFile(fs, "/w/stray.txt", []byte("x"), 0o644)

	got, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("List() = %v, want 2 directories", got)
	}
}
