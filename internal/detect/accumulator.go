package detect

// Accumulator is a bounded rolling buffer of recognized text. It keeps at
// most max runes; once exceeded it is cut down to the trailing tail runes,
// so trimming does not fire on every append (tail < max). Rune-based so
// multibyte text is never split mid-character.
//
// Not safe for concurrent use; the pipeline serializes all access.
type Accumulator struct {
	buf  []rune
	max  int
	tail int
}

func NewAccumulator(max, tail int) *Accumulator {
	return &Accumulator{max: max, tail: tail}
}

// Append concatenates text onto the buffer and trims if needed.
func (a *Accumulator) Append(text string) {
	a.buf = append(a.buf, []rune(text)...)
	a.trim()
}

// Snapshot returns the current buffer contents.
func (a *Accumulator) Snapshot() string { return string(a.buf) }

// Len returns the buffer length in runes.
func (a *Accumulator) Len() int { return len(a.buf) }

// Clear empties the buffer. The pipeline calls this right after a successful
// alert dispatch so the same content cannot re-trigger.
func (a *Accumulator) Clear() { a.buf = a.buf[:0] }

func (a *Accumulator) trim() {
	if len(a.buf) <= a.max {
		return
	}
	kept := a.buf[len(a.buf)-a.tail:]
	a.buf = append(a.buf[:0:0], kept...)
}
