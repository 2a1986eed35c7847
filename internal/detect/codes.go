package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/earshot/internal/logging"
)

const (
	codeMinDigits  = 4
	codeRepeatGap  = 5 * time.Minute
	codeTimeLayout = "2006-01-02 15:04:05"
	codeContextMax = 100
)

// CodeRecord is one persisted digit-sequence sighting.
type CodeRecord struct {
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
	Context   string `json:"context"`
}

// CodeRecorder spots runs of four or more digits in transcript text, the
// shape of spoken check-in and meeting codes, and persists them with a
// timestamp and a snippet of surrounding text. A code heard again within the
// repeat window is not re-recorded. Existing records are loaded from the
// file on construction so sightings survive a restart.
type CodeRecorder struct {
	path    string
	pattern *regexp.Regexp

	mu      sync.Mutex
	records []CodeRecord
	now     func() time.Time
}

func NewCodeRecorder(path string) *CodeRecorder {
	r := &CodeRecorder{
		path:    path,
		pattern: regexp.MustCompile(fmt.Sprintf(`\d{%d,}`, codeMinDigits)),
		now:     time.Now,
	}
	r.load()
	return r
}

func (r *CodeRecorder) load() {
	if r.path == "" {
		return
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return // nothing recorded yet
	}
	if err := json.Unmarshal(data, &r.records); err != nil {
		logging.Warnw("discarding unreadable code records", "path", r.path, "error", err)
		r.records = nil
		return
	}
	logging.Infow("loaded code records", "path", r.path, "count", len(r.records))
}

// save is called with r.mu held.
func (r *CodeRecorder) save() {
	if r.path == "" {
		return
	}
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err == nil {
		err = os.WriteFile(r.path, data, 0o644)
	}
	if err != nil {
		logging.Errorw("persisting code records failed", "path", r.path, "error", err)
	}
}

// Check scans text for digit runs and records the new ones. It returns the
// codes recorded by this call, in order of appearance.
func (r *CodeRecorder) Check(text string) []string {
	if text == "" {
		return nil
	}
	matches := r.pattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var fresh []string
	for _, code := range matches {
		if r.seenRecently(code, now) {
			logging.Debugw("repeated code inside the repeat window, skipping", "code", code)
			continue
		}
		ctx := text
		if rs := []rune(ctx); len(rs) > codeContextMax {
			ctx = string(rs[:codeContextMax])
		}
		r.records = append(r.records, CodeRecord{
			Code:      code,
			Timestamp: now.Format(codeTimeLayout),
			Context:   ctx,
		})
		fresh = append(fresh, code)
		logging.Infow("possible code detected", "code", code)
	}
	if len(fresh) > 0 {
		r.save()
	}
	return fresh
}

// seenRecently reports whether the newest record of code is inside the
// repeat window. Called with r.mu held.
func (r *CodeRecorder) seenRecently(code string, now time.Time) bool {
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Code != code {
			continue
		}
		last, err := time.ParseInLocation(codeTimeLayout, r.records[i].Timestamp, now.Location())
		if err != nil {
			// Unreadable stamp: record again rather than risk losing it.
			return false
		}
		return now.Sub(last) < codeRepeatGap
	}
	return false
}

// Recent returns up to count of the newest records, oldest first.
func (r *CodeRecorder) Recent(count int) []CodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if count <= 0 || count > len(r.records) {
		count = len(r.records)
	}
	if count == 0 {
		return nil
	}
	out := make([]CodeRecord, count)
	copy(out, r.records[len(r.records)-count:])
	return out
}

// Clear drops all records and rewrites the file.
func (r *CodeRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.save()
}
