// Package build exposes process-wide build metadata (version, release
// channel, debug mode) and a couple of small helpers shared by every
// other package: a panic-on-programmer-error hook and the on-disk
// locations the daemons use for their data directories.
package build

import "fmt"

var (
	// Version is the version of the current build of urbackup-backend-sub007.
	Version = "0.1.0"

	// ReleaseTag supplements Version with a build-specific label, e.g.
	// a commit hash for unreleased builds. Left blank in a release build.
	ReleaseTag = ""

	// GitRevision is set at build time via -ldflags by packagers that want
	// it recorded in the version string; left blank otherwise.
	GitRevision = ""

	// BuildTime records when the binary was built, set the same way as
	// GitRevision.
	BuildTime = ""

	// IssuesURL is where bug reports should be filed; threaded into the
	// logger so panics and fatal errors print a pointer to it.
	IssuesURL = "https://github.com/uroni/urbackup-backend-sub007/issues"
)

// Release identifies which release channel this binary was built for:
// "standard", "dev", or "testing". It defaults to "standard"; no file in
// this package assigns another value.
var Release = "standard"

// DEBUG is true for non-standard release channels; debug-only assertions
// and verbose logging are gated on it.
var DEBUG = Release != "standard"

// Critical should be called when the program encounters an unrecoverable
// inconsistency, typically a broken invariant that a correct caller should
// never be able to trigger. In a "dev"/"testing" build it panics so the
// inconsistency surfaces immediately during development; in a "standard"
// build it degrades to a loud log-and-continue so a single corrupted
// record doesn't take down a production backup server.
func Critical(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	if DEBUG {
		panic("Critical: " + msg)
	}
	fmt.Println("Critical (please report at", IssuesURL+"):", msg)
}
