package capture

import (
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// AttemptDirs are the three addressable locations of one capture
// attempt, all created eagerly at attempt start.
type AttemptDirs struct {
	Root       string
	Images     string
	Checkpoint string
}

// A FolderManager owns the on-disk folder tree for one capture
// attempt. Deletion is best effort: storage is reclaimed
// opportunistically and failures are logged, never surfaced.
type FolderManager struct {
	id     uuid.UUID
	dirs   AttemptDirs
	logger golog.Logger
}

// NewFolderManager creates the attempt folder tree under baseDir.
func NewFolderManager(baseDir string, logger golog.Logger) (*FolderManager, error) {
	id := uuid.New()
	root := filepath.Join(baseDir, "scans", id.String())
	dirs := AttemptDirs{
		Root:       root,
		Images:     filepath.Join(root, "Images"),
		Checkpoint: filepath.Join(root, "Snapshots"),
	}
	for _, dir := range []string{dirs.Root, dirs.Images, dirs.Checkpoint} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "cannot create attempt folder %q", dir)
		}
	}
	return &FolderManager{id: id, dirs: dirs, logger: logger}, nil
}

// ID returns the attempt's identity.
func (fm *FolderManager) ID() uuid.UUID {
	return fm.id
}

// Dirs returns the attempt's folder locations.
func (fm *FolderManager) Dirs() AttemptDirs {
	return fm.dirs
}

// RemoveCaptureFolder deletes the whole attempt tree without blocking
// the caller.
func (fm *FolderManager) RemoveCaptureFolder() {
	fm.removeAsync(fm.dirs.Root)
}

// RemoveCheckpointFolder deletes the checkpoint scratch space without
// blocking the caller.
func (fm *FolderManager) RemoveCheckpointFolder() {
	fm.removeAsync(fm.dirs.Checkpoint)
}

func (fm *FolderManager) removeAsync(dir string) {
	logger := fm.logger
	goutils.PanicCapturingGo(func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Debugw("failed to remove capture storage", "path", dir, "error", err)
		}
	})
}
