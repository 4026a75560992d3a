// Package api implements the HTTP control-plane exposed by urbackupd: a
// read path over the status registry and backup metadata, and a write
// path that triggers a cleanup sweep on demand. It mirrors the daemon's
// JSON-over-HTTP resource shape rather than the wire protocol clients
// and servers speak to each other (that lives in package wire).
package api

import "time"

// StatusGet is the /status response: one entry per client the registry
// has ever seen online.
type StatusGet struct {
	Clients []ClientStatus `json:"clients"`
}

// ClientStatus is the JSON projection of types.Status.
type ClientStatus struct {
	ClientName string          `json:"clientname"`
	Online     bool            `json:"online"`
	IP         string          `json:"ip,omitempty"`
	LastError  string          `json:"lasterror,omitempty"`
	Processes  []ProcessStatus `json:"processes"`
}

// ProcessStatus is the JSON projection of types.Process.
type ProcessStatus struct {
	ID         uint64    `json:"id"`
	Action     string    `json:"action"`
	PCDone     int       `json:"pcdone"`
	ETAMs      int64     `json:"etams"`
	StartTime  time.Time `json:"starttime"`
	TotalBytes uint64    `json:"totalbytes"`
	DoneBytes  uint64    `json:"donebytes"`
	SpeedBps   float64   `json:"speedbps"`
	Details    string    `json:"details,omitempty"`
}

// BackupsGet is the /backups response.
type BackupsGet struct {
	Backups []BackupEntry `json:"backups"`
}

// BackupEntry is the JSON projection of types.Backup.
type BackupEntry struct {
	ID               uint64    `json:"id"`
	ClientID         uint64    `json:"clientid"`
	Path             string    `json:"path"`
	BackupTime       time.Time `json:"backuptime"`
	IncrementalLevel int       `json:"incrementallevel"`
	Complete         bool      `json:"complete"`
	Archived         bool      `json:"archived"`
	DeletePending    bool      `json:"deletepending"`
	SizeBytes        uint64    `json:"sizebytes"`
}

// CleanupRunPost is the /cleanup/run response, reporting whether the
// sweep ran to completion.
type CleanupRunPost struct {
	Ran   bool   `json:"ran"`
	Error string `json:"error,omitempty"`
}

// ErrorResponse is the body returned for any non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// VersionGet is the /version response.
type VersionGet struct {
	Version string `json:"version"`
}
