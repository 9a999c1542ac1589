package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFile is the name of the cross-process index lock inside a data dir.
const LockFile = "index.lock"

// Lock takes the exclusive index lock of dataDir without blocking. The caller
// must Unlock the returned lock.
func Lock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create data dir: %w", err)
	}
	fl := flock.New(filepath.Join(dataDir, LockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cannot lock index: %w", err)
	}
	if !ok {
		return nil, ErrIndexBusy
	}
	return fl, nil
}
