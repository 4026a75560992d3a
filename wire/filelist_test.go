package wire

import (
	"bytes"
	"testing"
	"time"
)

// TestFileListRoundTrip tests that writing and reading a file list
// reproduces the same entries, including escaped names and extras.
func TestFileListRoundTrip(t *testing.T) {
	entries := []FileListEntry{
		DirOpen(`weird "dir"\name`, map[string]string{"orig_path": `C:\backup\weird`}),
		{
			Type:    EntryFile,
			Name:    "report.txt",
			Size:    1234,
			ModTime: time.Unix(1700000000, 0),
			Extra: map[string]string{
				"orig_path":   `C:\backup\weird\report.txt`,
				"sha":         "deadbeef",
				"server_path": "clientdl3",
			},
		},
		DirClose(),
	}

	var buf bytes.Buffer
	if err := WriteFileList(&buf, entries); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFileList(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(got))
	}

	if got[0].Name != entries[0].Name {
		t.Fatalf("expected name %q, got %q", entries[0].Name, got[0].Name)
	}
	if got[1].Size != 1234 {
		t.Fatalf("expected size 1234, got %d", got[1].Size)
	}
	if got[1].Extra["sha"] != "deadbeef" {
		t.Fatalf("expected sha extra to round-trip, got %+v", got[1].Extra)
	}
	if got[2].Name != ".." || got[2].Type != EntryDir {
		t.Fatalf("expected closing directory marker, got %+v", got[2])
	}
}

// TestParseEntryRejectsMissingQuote tests that a malformed line without a
// closing quote is rejected rather than silently truncated.
func TestParseEntryRejectsMissingQuote(t *testing.T) {
	_, err := parseEntry(`f"unterminated 10 0`)
	if err == nil {
		t.Fatal("expected an error for a missing closing quote")
	}
}
