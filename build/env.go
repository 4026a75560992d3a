package build

var (
	// envAPIPassword is the environment variable that sets a custom server
	// control-API password if the default is not used.
	envAPIPassword = "URBACKUP_API_PASSWORD"

	// envDataDir is the environment variable that tells the server daemon
	// where to put its general data: the file-entry database, the file
	// index, logs, and the backup storage root.
	envDataDir = "URBACKUP_DATA_DIR"

	// envClientDataDir is the environment variable which tells the client
	// daemon where to put its change-journal database and logs.
	envClientDataDir = "URBACKUP_CLIENT_DATA_DIR"
)
