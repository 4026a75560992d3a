package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/uplo-tech/errors"
	"github.com/uplo-tech/threadgroup"

	"github.com/uroni/urbackup-backend-sub007/api"
	"github.com/uroni/urbackup-backend-sub007/build"
	"github.com/uroni/urbackup-backend-sub007/modules/backupstore"
	"github.com/uroni/urbackup-backend-sub007/modules/cleanup"
	"github.com/uroni/urbackup-backend-sub007/modules/fileentry"
	"github.com/uroni/urbackup-backend-sub007/modules/fileindex"
	"github.com/uroni/urbackup-backend-sub007/modules/journal"
	"github.com/uroni/urbackup-backend-sub007/modules/status"
	"github.com/uroni/urbackup-backend-sub007/persist"
)

// daemon holds every long-running component urbackupd wires together.
// Components that would drive the actual backup/restore wire protocol
// (the session transport itself) are out of scope; this assembles the
// storage, indexing, and control-plane pieces a transport layer would
// sit on top of.
type daemon struct {
	log *persist.Logger

	idxStore *fileindex.Store
	idx      *fileindex.Index
	entries  *fileentry.Store
	backups  *backupstore.Store
	statusReg *status.Registry
	sweeper  *cleanup.Sweeper
	policy   cleanup.Policy

	server   *api.Server
	listener net.Listener

	watchers []journal.Watcher

	tg threadgroup.ThreadGroup
}

func newDaemon(config Config) (*daemon, error) {
	if err := os.MkdirAll(config.dataDir, 0700); err != nil {
		return nil, errors.AddContext(err, "could not create data directory")
	}

	log, err := persist.NewFileLogger(filepath.Join(config.dataDir, "urbackupd.log"))
	if err != nil {
		return nil, errors.AddContext(err, "could not open log file")
	}

	idxStore, err := fileindex.OpenStore(filepath.Join(config.dataDir, "fileindex.db"))
	if err != nil {
		return nil, errors.AddContext(err, "could not open file index")
	}
	idx := fileindex.New(idxStore, log)

	entries, err := fileentry.Open(config.dataDir, idx, log)
	if err != nil {
		return nil, errors.AddContext(err, "could not open file-entry store")
	}

	backups, err := backupstore.Open(config.dataDir)
	if err != nil {
		return nil, errors.AddContext(err, "could not open backup store")
	}

	d := &daemon{
		log:       log,
		idxStore:  idxStore,
		idx:       idx,
		entries:   entries,
		backups:   backups,
		statusReg: status.New(),
		policy: cleanup.Policy{
			MinBackupsPerClient: config.minBackups,
			UnderPressure:       func() bool { return true },
			EnableUpdateStats:   func() {},
		},
	}
	d.sweeper = cleanup.New(backups, entries)

	for _, dir := range config.watchDirs {
		w, err := journal.NewWatcher(config.dataDir, log)
		if err != nil {
			return nil, errors.AddContext(err, "could not create change-journal watcher")
		}
		if err := w.WatchDir(dir); err != nil {
			return nil, errors.AddContext(err, "could not watch "+dir)
		}
		d.watchers = append(d.watchers, w)
	}

	d.server = api.New(d.statusReg, backups, d.sweeper, d.policy, config.APIPassword, log)
	return d, nil
}

// run starts every background goroutine and blocks until stopped.
func (d *daemon) run(config Config) error {
	listener, err := net.Listen("tcp", config.apiAddr)
	if err != nil {
		return errors.AddContext(err, "could not bind API address")
	}
	d.listener = listener

	cleanupEvery, err := time.ParseDuration(config.cleanupEvery)
	if err != nil {
		return errors.AddContext(err, "invalid --cleanup-interval")
	}

	if err := d.tg.Add(); err != nil {
		return err
	}
	go func() {
		defer d.tg.Done()
		if serveErr := http.Serve(listener, d.server); serveErr != nil {
			select {
			case <-d.tg.StopChan():
			default:
				d.log.Println("api: server stopped unexpectedly:", serveErr)
			}
		}
	}()

	d.startCleanupLoop(cleanupEvery)
	for _, w := range d.watchers {
		d.startWatchLoop(w)
	}
	d.startReapLoop()

	return nil
}

func (d *daemon) startCleanupLoop(every time.Duration) {
	if err := d.tg.Add(); err != nil {
		return
	}
	go func() {
		defer d.tg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-d.tg.StopChan():
				return
			case <-ticker.C:
				if err := d.sweeper.Run(d.policy); err != nil {
					d.log.Println("cleanup: sweep failed:", err)
				}
			}
		}
	}()
}

func (d *daemon) startWatchLoop(w journal.Watcher) {
	if err := d.tg.Add(); err != nil {
		return
	}
	go func() {
		defer d.tg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-d.tg.StopChan():
				return
			case <-ticker.C:
				events, err := w.Update()
				if err != nil {
					d.log.Println("journal: update failed:", err)
					continue
				}
				for _, ev := range events {
					d.log.Println("journal:", ev.Kind, ev.Path)
				}
			}
		}
	}()
}

func (d *daemon) startReapLoop() {
	if err := d.tg.Add(); err != nil {
		return
	}
	go func() {
		defer d.tg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-d.tg.StopChan():
				return
			case <-ticker.C:
				d.statusReg.RemoveTimedOutProcesses()
			}
		}
	}()
}

// close shuts every component down in dependency order: the listener and
// loops first so nothing new lands on the stores, then the stores
// themselves.
func (d *daemon) close() error {
	err := d.tg.Stop()
	if d.listener != nil {
		err = errors.Compose(err, d.listener.Close())
	}
	for _, w := range d.watchers {
		err = errors.Compose(err, w.Close())
	}
	err = errors.Compose(err, d.entries.Close())
	err = errors.Compose(err, d.idx.Close())
	err = errors.Compose(err, d.idxStore.Close())
	err = errors.Compose(err, d.backups.Close())
	return err
}

func loadAPIPassword(config Config) (Config, error) {
	if !config.authenticate {
		return config, nil
	}
	if config.tempPassword {
		fmt.Print("Enter API password: ")
		var pw string
		if _, err := fmt.Scanln(&pw); err != nil {
			return Config{}, err
		}
		if pw == "" {
			return Config{}, errors.New("password cannot be blank")
		}
		config.APIPassword = pw
		return config, nil
	}
	pw, err := build.APIPassword()
	if err != nil {
		return Config{}, err
	}
	config.APIPassword = pw
	return config, nil
}

func installKillSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	return sigChan
}

func startDaemon(config Config) error {
	config, err := loadAPIPassword(config)
	if err != nil {
		return errors.AddContext(err, "failed to get API password")
	}

	fmt.Println("urbackupd v" + build.Version)
	fmt.Println("loading...")

	d, err := newDaemon(config)
	if err != nil {
		return err
	}
	if err := d.run(config); err != nil {
		d.close()
		return err
	}

	fmt.Println("listening on", config.apiAddr)

	sigChan := installKillSignalHandler()
	<-sigChan
	fmt.Println("\rcaught stop signal, shutting down...")

	return d.close()
}

func startDaemonCmd(cmd *cobra.Command, _ []string) {
	err := startDaemon(globalConfig)
	if err != nil {
		die(err)
	}
	fmt.Println("shutdown complete.")
}
