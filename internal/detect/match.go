// Package detect holds the text accumulation, matching and alert gating
// logic of the monitor.
package detect

// Strategy identifies which detector produced a match.
type Strategy string

const (
	StrategyExact       Strategy = "exact"
	StrategySemantic    Strategy = "semantic"
	StrategyDeepIntent  Strategy = "intent"
	StrategyAudioDirect Strategy = "audio"
)

// Match is a transient detection result. It is produced by one matcher and
// consumed once by the alert gate.
type Match struct {
	Keywords []string
	Text     string
	Strategy Strategy
	Score    float64
}
