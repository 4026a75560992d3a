package client

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/uroni/urbackup-backend-sub007/api"
	"github.com/uroni/urbackup-backend-sub007/modules/backupstore"
	"github.com/uroni/urbackup-backend-sub007/modules/cleanup"
	"github.com/uroni/urbackup-backend-sub007/modules/fileentry"
	"github.com/uroni/urbackup-backend-sub007/modules/fileindex"
	"github.com/uroni/urbackup-backend-sub007/modules/status"
)

func newTestPair(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()

	idxStore, err := fileindex.OpenStore(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx := fileindex.New(idxStore, nil)
	t.Cleanup(func() { idx.Close() })

	entries, err := fileentry.Open(dir, idx, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { entries.Close() })

	backups, err := backupstore.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { backups.Close() })

	reg := status.New()
	sweeper := cleanup.New(backups, entries)
	srv := api.New(reg, backups, sweeper, cleanup.Policy{MinBackupsPerClient: 1}, "", nil)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	c := New(strings.TrimPrefix(ts.URL, "http://"), "")
	return c, ts
}

func TestClientVersionGet(t *testing.T) {
	c, _ := newTestPair(t)
	v, err := c.VersionGet()
	if err != nil {
		t.Fatal(err)
	}
	if v.Version == "" {
		t.Fatal("expected a non-empty version string")
	}
}

func TestClientStatusGetEmpty(t *testing.T) {
	c, _ := newTestPair(t)
	s, err := c.StatusGet()
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Clients) != 0 {
		t.Fatalf("expected no clients yet, got %+v", s.Clients)
	}
}

func TestClientCleanupRun(t *testing.T) {
	c, _ := newTestPair(t)
	r, err := c.CleanupRunPost()
	if err != nil {
		t.Fatal(err)
	}
	if !r.Ran {
		t.Fatalf("expected cleanup run to succeed, got %+v", r)
	}
}
