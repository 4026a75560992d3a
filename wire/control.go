// Package wire implements the on-the-wire constants and encodings C6/C7/C8
// speak: the ASCII control-message vocabulary, capability bitmask, the
// file-list format restore download sessions exchange, and the binary
// image-backup stream header. It does not implement the session/transport
// layer itself (out of scope), only the precise shapes other packages
// encode into and decode out of.
package wire

import "time"

// Control is one of the ASCII control-protocol line prefixes exchanged
// between server and client before a backup/restore stream begins.
type Control string

// Control message prefixes, sent as lines optionally wrapped in
// authentication and compression once a Channel has been negotiated.
const (
	ControlAddIdentity  Control = "ADD IDENTITY"
	ControlGetChallenge Control = "GET CHALLENGE"
	ControlSignature    Control = "SIGNATURE"

	ControlStartBackupIncr Control = "START BACKUP INCR"
	ControlStartBackupFull Control = "START BACKUP FULL"
	ControlStartImageIncr  Control = "START IMAGE INCR"
	ControlStartImageFull  Control = "START IMAGE FULL"

	ControlStartSC Control = "START SC"
	ControlStopSC  Control = "STOP SC"

	ControlDidBackup    Control = "DID BACKUP"
	ControlBackupFailed Control = "BACKUP FAILED"
	Control2PingRunning Control = "2PING RUNNING"

	ControlDownloadFiles Control = "DOWNLOAD FILES"
	ControlDownloadImage Control = "DOWNLOAD IMAGE"
	ControlFileRestore   Control = "FILE RESTORE"

	ControlPing Control = "PING"
	ControlPong Control = "PONG"

	ControlCapa Control = "CAPA"
)

// PingInterval and PingTimeout govern the control-channel keepalive: a
// PING is expected every PingInterval, and the connection is considered
// dead after PingTimeout without one.
const (
	PingInterval = 60 * time.Second
	PingTimeout  = 180 * time.Second
)

// Timeout values for the other blocking points the control protocol
// defines, named so callers apply them consistently rather than
// hardcoding durations at each call site.
const (
	ControlMessageTimeout = 60 * time.Second
	DataStreamTimeout     = 30 * time.Second
	ChannelKeepaliveTimeout = 3 * time.Minute
)

// EncUpgrade is the query-string-shaped control line that upgrades a pipe
// to authenticated AEAD and/or compression: "ENC?compress=<algo>&compress_level=<n>[&keyadd=<b64>]".
type EncUpgrade struct {
	Compress      CompressAlgo
	CompressLevel int
	KeyAdd        []byte // additional key material, base64 on the wire
}

// CompressAlgo names a compression algorithm negotiable via EncUpgrade.
type CompressAlgo string

const (
	CompressZlib CompressAlgo = "zlib"
	CompressZstd CompressAlgo = "zstd"
)
