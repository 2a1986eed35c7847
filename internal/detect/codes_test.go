package detect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestRecorder(t *testing.T) (*CodeRecorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codes.json")
	return NewCodeRecorder(path), path
}

func TestCodeRecorderFindsDigitRuns(t *testing.T) {
	r, _ := newTestRecorder(t)

	got := r.Check("the code is 4821 then 77 and finally 123456")
	if len(got) != 2 || got[0] != "4821" || got[1] != "123456" {
		t.Fatalf("codes = %v, want [4821 123456]", got)
	}
	if got := r.Check("no digits at all"); got != nil {
		t.Fatalf("codes = %v, want none", got)
	}
	if got := r.Check("999 is too short"); got != nil {
		t.Fatalf("codes = %v, want none for a three digit run", got)
	}
}

func TestCodeRecorderRepeatWindow(t *testing.T) {
	r, _ := newTestRecorder(t)
	base := time.Now()
	r.now = func() time.Time { return base }

	if got := r.Check("code 4821"); len(got) != 1 {
		t.Fatalf("first sighting = %v, want recorded", got)
	}
	// Heard again right away: suppressed.
	if got := r.Check("again 4821"); got != nil {
		t.Fatalf("repeat = %v, want suppressed", got)
	}
	// Past the window the same code is worth recording again.
	r.now = func() time.Time { return base.Add(6 * time.Minute) }
	if got := r.Check("later 4821"); len(got) != 1 {
		t.Fatalf("after window = %v, want recorded", got)
	}
	if recs := r.Recent(0); len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
}

func TestCodeRecorderPersistsAndReloads(t *testing.T) {
	r, path := newTestRecorder(t)
	r.Check("checking in with 314159")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading records: %v", err)
	}
	if !strings.Contains(string(data), "314159") {
		t.Fatalf("file %s does not contain the code", data)
	}

	// A fresh recorder over the same file sees the history and keeps
	// suppressing inside the repeat window.
	r2 := NewCodeRecorder(path)
	if recs := r2.Recent(0); len(recs) != 1 || recs[0].Code != "314159" {
		t.Fatalf("reloaded records = %+v", recs)
	}
	if got := r2.Check("again 314159"); got != nil {
		t.Fatalf("repeat after reload = %v, want suppressed", got)
	}
}

func TestCodeRecorderContextTruncated(t *testing.T) {
	r, _ := newTestRecorder(t)
	long := "8080" + strings.Repeat("x", 300)
	r.Check(long)
	recs := r.Recent(1)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if n := len([]rune(recs[0].Context)); n != 100 {
		t.Fatalf("context length = %d runes, want 100", n)
	}
}

func TestCodeRecorderClear(t *testing.T) {
	r, path := newTestRecorder(t)
	r.Check("1234")
	r.Clear()
	if recs := r.Recent(0); len(recs) != 0 {
		t.Fatalf("records after clear = %d, want 0", len(recs))
	}
	if NewCodeRecorder(path).Recent(0) != nil {
		t.Fatal("clear did not rewrite the file")
	}
}

func TestCodeRecorderNoPath(t *testing.T) {
	r := NewCodeRecorder("")
	if got := r.Check("code 5555"); len(got) != 1 {
		t.Fatalf("codes = %v, want in-memory recording without a file", got)
	}
}
