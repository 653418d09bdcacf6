package storage

import (
	"fmt"
	"os"
	"path/filepath"

	xxhash "github.com/cespare/xxhash/v2"
)

// DiskBlockManager spreads shuffle files across local directories. Each file name hashes to
// one local directory, and to one of a fixed number of sub-directories within it, so that no
// single directory grows too large.
type DiskBlockManager struct {
	localDirs          []string
	subDirsPerLocalDir int
}

// NewDiskBlockManager creates a DiskBlockManager over the given local directories
func NewDiskBlockManager(localDirs []string, subDirsPerLocalDir int) (*DiskBlockManager, error) {
	if len(localDirs) == 0 {
		return nil, fmt.Errorf("DiskBlockManager requires at least one local directory")
	}
	if subDirsPerLocalDir <= 0 {
		return nil, fmt.Errorf("subDirsPerLocalDir %d must be greater than 0", subDirsPerLocalDir)
	}
	dirs := make([]string, len(localDirs))
	copy(dirs, localDirs)
	return &DiskBlockManager{localDirs: dirs, subDirsPerLocalDir: subDirsPerLocalDir}, nil
}

// GetFile returns the path for a file name, creating its parent directory if necessary
func (d *DiskBlockManager) GetFile(name string) (string, error) {
	hash := xxhash.Sum64String(name)
	dirID := hash % uint64(len(d.localDirs))
	subDirID := (hash / uint64(len(d.localDirs))) % uint64(d.subDirsPerLocalDir)
	subDir := filepath.Join(d.localDirs[dirID], fmt.Sprintf("%02x", subDirID))
	if err := os.MkdirAll(subDir, 0755); err != nil {
		return "", fmt.Errorf("Unable to create local directory %s: %w", subDir, err)
	}
	return filepath.Join(subDir, name), nil
}

// LocalDirs returns the local directories managed by this DiskBlockManager
func (d *DiskBlockManager) LocalDirs() []string {
	dirs := make([]string, len(d.localDirs))
	copy(dirs, d.localDirs)
	return dirs
}
