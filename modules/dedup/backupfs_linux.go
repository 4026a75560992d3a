//go:build linux

package dedup

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/uroni/urbackup-backend-sub007/errkind"
)

// osBackupFileSystem is the Linux BackupFileSystem, using the FICLONE
// ioctl for reflinks (supported on btrfs, XFS with reflink=1, and
// overlayfs on a reflink-capable lower) and plain os.Link for hardlinks.
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

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, out.Fd(), unix.FICLONE, in.Fd())
	if errno != 0 {
		os.Remove(dst)
		return errkind.ErrReflinkUnsupported
	}
	return nil
}

func (fs *osBackupFileSystem) Hardlink(src, dst string) error {
	n, err := fs.LinkCount(src)
	if err != nil {
		return err
	}
	if n >= linuxMaxLinkCount-HardlinkSafetyMargin {
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

// linuxMaxLinkCount is ext4/XFS's practical hardlink ceiling; filesystems
// with a different limit (or none) are still protected conservatively by
// this constant since exceeding it on ext4 is the common failure case in
// the field.
const linuxMaxLinkCount = 65000
