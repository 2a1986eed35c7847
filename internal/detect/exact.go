package detect

import (
	"strings"
	"sync"
)

// ExactMatcher reports every watched keyword that appears as a contiguous
// substring of the text. The keyword set can be swapped at runtime from the
// control panel.
type ExactMatcher struct {
	mu       sync.RWMutex
	keywords []string
}

func NewExactMatcher(keywords []string) *ExactMatcher {
	m := &ExactMatcher{}
	m.SetKeywords(keywords)
	return m
}

// SetKeywords replaces the watched keyword set.
func (m *ExactMatcher) SetKeywords(keywords []string) {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			kw = append(kw, k)
		}
	}
	m.mu.Lock()
	m.keywords = kw
	m.mu.Unlock()
}

// Keywords returns a copy of the current keyword set.
func (m *ExactMatcher) Keywords() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.keywords...)
}

// Find returns all keywords contained in text, in configuration order.
func (m *ExactMatcher) Find(text string) []string {
	if text == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found []string
	for _, kw := range m.keywords {
		if strings.Contains(text, kw) {
			found = append(found, kw)
		}
	}
	return found
}
