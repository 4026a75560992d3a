//go:build !windows && !linux && !darwin

package dedup

import (
	"io"
	"os"
	"path/filepath"

	"github.com/uroni/urbackup-backend-sub007/errkind"
)

// osBackupFileSystem is the portable fallback BackupFileSystem for any
// POSIX-like OS without a platform-specific reflink/hardlink
// implementation above: Reflink is always unsupported, Hardlink falls
// back to a full copy when os.Link fails, and LinkCount always reports 1.
type osBackupFileSystem struct {
	root string
}

// NewBackupFileSystem returns the platform BackupFileSystem rooted at
// root.
func NewBackupFileSystem(root string) BackupFileSystem {
	return &osBackupFileSystem{root: root}
}

func (fs *osBackupFileSystem) Reflink(src, dst string) error {
	return errkind.ErrReflinkUnsupported
}

func (fs *osBackupFileSystem) Hardlink(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	if err := os.Link(src, dst); err != nil {
		return fs.Copy(src, dst)
	}
	return nil
}

func (fs *osBackupFileSystem) LinkCount(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	_ = info
	return 1, nil
}

func (fs *osBackupFileSystem) Copy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (fs *osBackupFileSystem) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (fs *osBackupFileSystem) Create(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
}

func (fs *osBackupFileSystem) Remove(path string) error {
	return os.Remove(path)
}
