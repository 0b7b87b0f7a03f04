// Package workspace manages per-request scratch directories.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/lo"
	"github.com/spf13/afero"
)

const OutputName = "output.mp4"

// Manager creates request workspaces under a common root.
type Manager struct {
	fs   afero.Fs
	root string
}

func NewManager(fs afero.Fs, root string) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Manager{fs: fs, root: root}
}

func (m *Manager) Root() string {
	return m.root
}

func (m *Manager) Fs() afero.Fs {
	return m.fs
}

// Create makes the workspace directory for requestID.
func (m *Manager) Create(requestID string) (*Workspace, error) {
	if requestID == "" || requestID != filepath.Base(requestID) {
		return nil, fmt.Errorf("invalid request id %q", requestID)
	}
	dir := filepath.Join(m.root, requestID)
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{ID: requestID, Dir: dir, fs: m.fs}, nil
}

// List returns the directories currently present under the root.
func (m *Manager) List() ([]string, error) {
	infos, err := afero.ReadDir(m.fs, m.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(infos, func(fi os.FileInfo, _ int) (string, bool) {
		return filepath.Join(m.root, fi.Name()), fi.IsDir()
	}), nil
}

// Workspace is the scratch directory owned by one request. Every path handed
// out or registered through Track is returned by Tracked for cleanup.
type Workspace struct {
	ID  string
	Dir string
	fs  afero.Fs

	mu      sync.Mutex
	tracked []string
}

// Sub creates and tracks a subdirectory for one resolved source.
func (w *Workspace) Sub(name string) (string, error) {
	dir := filepath.Join(w.Dir, name)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	w.Track(dir)
	return dir, nil
}

// OutputPath returns the tracked path of the assembled video.
func (w *Workspace) OutputPath() string {
	p := filepath.Join(w.Dir, OutputName)
	w.Track(p)
	return p
}

func (w *Workspace) Track(paths ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracked = append(w.tracked, paths...)
}

// Tracked lists every registered path followed by the workspace directory.
func (w *Workspace) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return lo.Uniq(append(append([]string{}, w.tracked...), w.Dir))
}
