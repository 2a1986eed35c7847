package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/earshot/internal/llm"
	"github.com/earshot/internal/logging"
)

// ChatClient is the slice of the LLM client the classifier needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
}

// IntentResult is the structured verdict of one classification round.
type IntentResult struct {
	Detected bool     `json:"detected"`
	Keywords []string `json:"keywords"`
	Reason   string   `json:"reason"`
}

// IntentClassifier accumulates transcript text in a private buffer and asks
// the chat backend on a fixed interval whether any watched intent was
// expressed, literally or as a paraphrase. Each round drains the buffer, so
// text is classified exactly once regardless of the outcome.
type IntentClassifier struct {
	client   ChatClient
	model    string
	interval time.Duration

	mu       sync.Mutex
	keywords []string
	pending  strings.Builder

	results chan IntentResult
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewIntentClassifier(client ChatClient, model string, keywords []string, interval time.Duration) *IntentClassifier {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &IntentClassifier{
		client:   client,
		model:    model,
		interval: interval,
		keywords: append([]string(nil), keywords...),
		results:  make(chan IntentResult, 4),
	}
}

// SetKeywords replaces the watched intent set for future rounds.
func (d *IntentClassifier) SetKeywords(keywords []string) {
	d.mu.Lock()
	d.keywords = append([]string(nil), keywords...)
	d.mu.Unlock()
}

// FeedText queues transcript text for the next classification round.
func (d *IntentClassifier) FeedText(text string) {
	if text == "" {
		return
	}
	d.mu.Lock()
	d.pending.WriteString(text)
	d.mu.Unlock()
}

// Results delivers positive and negative round verdicts. Only positive ones
// carry keywords.
func (d *IntentClassifier) Results() <-chan IntentResult {
	return d.results
}

// Start launches the periodic classification loop.
func (d *IntentClassifier) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx)
}

// Stop ends the loop and waits for the in-flight round, if any.
func (d *IntentClassifier) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

func (d *IntentClassifier) run(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.round(ctx)
		}
	}
}

// round drains the buffer and classifies it. Too-short snippets are
// discarded without a backend call; they are mostly recognizer hiccups.
func (d *IntentClassifier) round(ctx context.Context) {
	d.mu.Lock()
	text := d.pending.String()
	d.pending.Reset()
	keywords := append([]string(nil), d.keywords...)
	d.mu.Unlock()

	if countNonSpace(text) <= 2 || len(keywords) == 0 {
		return
	}

	res, err := d.classify(ctx, text, keywords)
	if err != nil {
		logging.Warnw("intent classification failed", "error", err)
		return
	}
	select {
	case d.results <- res:
	default:
		logging.Warnw("intent result dropped, consumer too slow")
	}
}

func (d *IntentClassifier) classify(ctx context.Context, text string, keywords []string) (IntentResult, error) {
	prompt := fmt.Sprintf(
		"Transcript snippet from a live audio feed:\n%q\n\n"+
			"Watched intents: %s\n\n"+
			"Decide whether the speaker expresses any of the watched intents, either with the literal words or a close paraphrase. "+
			"Reply with JSON only, no prose: {\"detected\": bool, \"keywords\": [matched intents], \"reason\": \"one sentence\"}",
		text, strings.Join(keywords, ", "))

	resp, err := d.client.CreateChatCompletion(ctx, llm.ChatRequest{
		Model: d.model,
		Messages: []llm.Message{
			{Role: "system", Content: "You analyze live speech transcripts and answer strictly in JSON."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   256,
	})
	if err != nil {
		return IntentResult{}, err
	}
	res, err := ParseIntentResult(resp.Content)
	if err != nil {
		// A malformed reply is a negative verdict; the text was still consumed.
		logging.Debugw("unparseable intent reply", "content", resp.Content, "error", err)
		return IntentResult{}, nil
	}
	return res, nil
}

// ParseIntentResult decodes the model's JSON verdict, tolerating a markdown
// code fence around it.
func ParseIntentResult(content string) (IntentResult, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}
	var res IntentResult
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return IntentResult{}, err
	}
	return res, nil
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
