package build

import (
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/uplo-tech/fastrand"
)

// APIPassword returns the server control-API password, either from the
// environment variable or from the password file. If neither exists, a
// password file is created and the generated password is returned.
func APIPassword() (string, error) {
	pw := os.Getenv(envAPIPassword)
	if pw != "" {
		return pw, nil
	}

	path := apiPasswordFilePath()
	pwFile, err := ioutil.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(pwFile)), nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return createAPIPasswordFile()
}

// ServerDataDir returns the server daemon's data directory, either from the
// environment variable or the platform default.
func ServerDataDir() string {
	dir := os.Getenv(envDataDir)
	if dir == "" {
		dir = defaultDataDir("urbackup")
	}
	return dir
}

// ClientDataDir returns the client daemon's data directory, either from the
// environment variable or the platform default.
func ClientDataDir() string {
	dir := os.Getenv(envClientDataDir)
	if dir == "" {
		dir = defaultDataDir("urbackup-client")
	}
	return dir
}

// apiPasswordFilePath returns the path to the control-API password file,
// stored inside the server data directory.
func apiPasswordFilePath() string {
	return filepath.Join(ServerDataDir(), "apipassword")
}

// createAPIPasswordFile creates a password file in the server data directory
// and returns the newly generated password.
func createAPIPasswordFile() (string, error) {
	dir := ServerDataDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	// 0700 keeps the directory (and the password file beneath it) readable
	// only by the user running the daemon.
	if err := os.Chmod(dir, 0700); err != nil {
		return "", err
	}
	pw := hex.EncodeToString(fastrand.Bytes(16))
	if err := ioutil.WriteFile(apiPasswordFilePath(), []byte(pw+"\n"), 0600); err != nil {
		return "", err
	}
	return pw, nil
}

// defaultDataDir returns the default per-OS application data directory for
// the named component.
//
// Linux:   $HOME/.<name>
// MacOS:   $HOME/Library/Application Support/<name>
// Windows: %LOCALAPPDATA%\<name>
func defaultDataDir(name string) string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), name)
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", name)
	default:
		return filepath.Join(os.Getenv("HOME"), "."+name)
	}
}
