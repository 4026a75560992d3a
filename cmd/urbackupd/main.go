package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uroni/urbackup-backend-sub007/build"
)

// globalConfig is filled out by cobra from the command-line flags.
var globalConfig Config

// exit codes, inspired by sysexits.h.
const (
	exitCodeGeneral = 1
	exitCodeUsage   = 64
)

// Config holds every configurable value for urbackupd.
type Config struct {
	APIPassword string

	dataDir       string
	apiAddr       string
	watchDirs     []string
	cleanupEvery  string
	minBackups    int
	authenticate  bool
	tempPassword  bool
}

// die prints its arguments to stderr and exits.
func die(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(exitCodeGeneral)
}

func versionCmd(*cobra.Command, []string) {
	version := build.Version
	if build.ReleaseTag != "" {
		version += "-" + build.ReleaseTag
	}
	fmt.Println("urbackupd v" + version)
}

func main() {
	if build.DEBUG {
		fmt.Println("running with debugging enabled")
	}

	root := &cobra.Command{
		Use:   os.Args[0],
		Short: "urbackup backup daemon",
		Long:  "urbackupd runs the file index, dedup store, and restore endpoints for a single backup server.",
		Run:   startDaemonCmd,
	}
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run:   versionCmd,
	})

	root.Flags().StringVarP(&globalConfig.dataDir, "data-directory", "d", build.ServerDataDir(), "where the index, dedup store, and backup metadata live")
	root.Flags().StringVarP(&globalConfig.apiAddr, "api-addr", "", "localhost:8483", "host:port the control-plane API listens on")
	root.Flags().StringSliceVarP(&globalConfig.watchDirs, "watch", "w", nil, "directory to monitor for changes via the change journal (repeatable)")
	root.Flags().StringVarP(&globalConfig.cleanupEvery, "cleanup-interval", "", "1h", "how often the retention sweep runs")
	root.Flags().IntVarP(&globalConfig.minBackups, "min-backups-per-client", "", 3, "retention floor: never prune a client below this many backups")
	root.Flags().BoolVarP(&globalConfig.authenticate, "authenticate-api", "", true, "require a password on every control-plane request")
	root.Flags().BoolVarP(&globalConfig.tempPassword, "temp-password", "", false, "prompt for a one-off API password instead of reading/creating the password file")

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeUsage)
	}
}
