package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uroni/urbackup-backend-sub007/api/client"
	"github.com/uroni/urbackup-backend-sub007/build"
)

// exit codes, inspired by sysexits.h.
const (
	exitCodeGeneral = 1
	exitCodeUsage   = 64
)

var (
	apiAddr     string
	apiPassword string

	httpClient *client.Client
)

func die(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(exitCodeGeneral)
}

// wrap returns a cobra.Run func that ignores cmd/args and calls fn,
// matching the teacher's zero-arg command-handler convention.
func wrap(fn func()) func(*cobra.Command, []string) {
	return func(*cobra.Command, []string) {
		fn()
	}
}

func versionCmd() {
	fmt.Println("urbackupc v" + build.Version)
	v, err := httpClient.VersionGet()
	if err != nil {
		fmt.Println("could not reach urbackupd:", err)
		return
	}
	fmt.Println("urbackupd v" + v.Version)
}

func main() {
	root := &cobra.Command{
		Use:   os.Args[0],
		Short: "urbackup control client",
		Long:  "urbackupc talks to a running urbackupd's control-plane API.",
		PersistentPreRun: func(*cobra.Command, []string) {
			httpClient = client.New(apiAddr, apiPassword)
		},
	}
	root.PersistentFlags().StringVarP(&apiAddr, "api-addr", "", "localhost:8483", "host:port of the urbackupd control-plane API")
	root.PersistentFlags().StringVarP(&apiPassword, "api-password", "", "", "control-plane API password")

	root.AddCommand(
		&cobra.Command{Use: "version", Short: "print version information", Run: wrap(versionCmd)},
		&cobra.Command{Use: "status", Short: "show every client's live backup/restore status", Run: wrap(statusCmd)},
		&cobra.Command{Use: "backups [clientid]", Short: "list backups for a client", Args: cobra.ExactArgs(1), Run: backupsCmd},
		&cobra.Command{Use: "cleanup", Short: "trigger an immediate retention sweep", Run: wrap(cleanupCmd)},
	)

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeUsage)
	}
}
