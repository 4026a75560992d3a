//go:build darwin

package dedup

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/uroni/urbackup-backend-sub007/errkind"
)

// osBackupFileSystem is the Darwin BackupFileSystem. Reflink uses the
// clonefile(2) syscall (APFS copy-on-write clones) via unix.Clonefile;
// any other filesystem returns ErrReflinkUnsupported and the sink falls
// back to Hardlink.
type osBackupFileSystem struct {
	root string
}

// NewBackupFileSystem returns the platform BackupFileSystem rooted at
// root.
func NewBackupFileSystem(root string) BackupFileSystem {
	return &osBackupFileSystem{root: root}
}

func (fs *osBackupFileSystem) Reflink(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	if err := unix.Clonefile(src, dst, unix.CLONE_NOFOLLOW); err != nil {
		return errkind.ErrReflinkUnsupported
	}
	return nil
}

func (fs *osBackupFileSystem) Hardlink(src, dst string) error {
	n, err := fs.LinkCount(src)
	if err != nil {
		return err
	}
	if n >= darwinMaxLinkCount-HardlinkSafetyMargin {
		return errkind.ErrHardlinkUnsafe
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	return os.Link(src, dst)
}

func (fs *osBackupFileSystem) LinkCount(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return int(st.Nlink), nil
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

const darwinMaxLinkCount = 32767
