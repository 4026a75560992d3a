package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// statusCmd prints the live status of every client urbackupd has seen
// online, one line per running process.
func statusCmd() {
	s, err := httpClient.StatusGet()
	if err != nil {
		die("could not get status:", err)
	}
	if len(s.Clients) == 0 {
		fmt.Println("no clients have connected yet.")
		return
	}
	for _, c := range s.Clients {
		state := "offline"
		if c.Online {
			state = "online"
		}
		fmt.Printf("%s (%s, %s)\n", c.ClientName, state, c.IP)
		if c.LastError != "" {
			fmt.Println("  last error:", c.LastError)
		}
		for _, p := range c.Processes {
			fmt.Printf("  %s: %d%% done (%d/%d bytes)\n", p.Action, p.PCDone, p.DoneBytes, p.TotalBytes)
		}
	}
}

// backupsCmd lists every backup recorded for the given client id.
func backupsCmd(_ *cobra.Command, args []string) {
	clientID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		die("invalid client id:", err)
	}
	b, err := httpClient.BackupsGet(clientID)
	if err != nil {
		die("could not list backups:", err)
	}
	if len(b.Backups) == 0 {
		fmt.Println("no backups recorded for this client.")
		return
	}
	for _, backup := range b.Backups {
		flags := ""
		if backup.Archived {
			flags += " archived"
		}
		if backup.DeletePending {
			flags += " delete-pending"
		}
		fmt.Printf("#%d  %s  incr=%d  %d bytes%s\n", backup.ID, backup.BackupTime.Format("2006-01-02 15:04:05"), backup.IncrementalLevel, backup.SizeBytes, flags)
	}
}

// cleanupCmd triggers an immediate retention sweep.
func cleanupCmd() {
	r, err := httpClient.CleanupRunPost()
	if err != nil {
		die("could not trigger cleanup:", err)
	}
	if !r.Ran {
		die("cleanup sweep failed:", r.Error)
	}
	fmt.Println("cleanup sweep completed.")
}
