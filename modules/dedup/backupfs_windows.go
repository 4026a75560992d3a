//go:build windows

package dedup

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"

	"github.com/uroni/urbackup-backend-sub007/errkind"
)

// osBackupFileSystem is the Windows BackupFileSystem. Plain NTFS has no
// reflink primitive (ReFS block cloning is a different filesystem this
// backend does not special-case), so Reflink always reports
// ErrReflinkUnsupported and the sink falls back to Hardlink via
// CreateHardLink.
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
	n, err := fs.LinkCount(src)
	if err != nil {
		return err
	}
	if n >= windowsMaxLinkCount-HardlinkSafetyMargin {
		return errkind.ErrHardlinkUnsafe
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	srcPtr, err := windows.UTF16PtrFromString(src)
	if err != nil {
		return err
	}
	dstPtr, err := windows.UTF16PtrFromString(dst)
	if err != nil {
		return err
	}
	return windows.CreateHardlink(dstPtr, srcPtr, 0)
}

func (fs *osBackupFileSystem) LinkCount(path string) (int, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	h, err := windows.CreateFile(p, windows.GENERIC_READ, windows.FILE_SHARE_READ, nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(h)
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return 0, err
	}
	return int(info.NumberOfLinks), nil
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

// windowsMaxLinkCount is NTFS's hardlink-per-file limit.
const windowsMaxLinkCount = 1024
