package database

import (
	"errors"
	"io/fs"
	"os"
)

// Reset wipes the on-disk file for a logical database, including its WAL
// sidecars. Only the privileged admin reset command calls this.
func Reset(dir string, name string) error {
	if !validName(name) {
		return ErrUnknownDB
	}

	path := Path(dir, name)
	for _, target := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err //nolint:wrapcheck
		}
	}

	return nil
}
