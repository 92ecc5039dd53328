// Package evaluator scores collected records through an external reasoning
// service, emitting one ordered progress event per record so callers can
// render incremental progress and cancel mid-stream.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/pkg/anthropic"
)

const (
	// neutralScore is the fallback when a record exhausts its retries.
	neutralScore = 50
	// maxRetries bounds re-asks for a failing or malformed scoring call.
	maxRetries = 2
)

// Config tunes the evaluator.
type Config struct {
	Model     string
	MaxTokens int64
	// RPS matches the collector's external cadence.
	RPS float64
}

// DefaultConfig returns the production evaluation settings.
func DefaultConfig() Config {
	return Config{Model: "claude-haiku-4-5-20251001", MaxTokens: 1024, RPS: 2}
}

// Evaluator streams scores for collected records.
type Evaluator struct {
	client  anthropic.Client
	limiter *rate.Limiter
	cfg     Config
}

// New creates an Evaluator.
func New(client anthropic.Client, cfg Config) *Evaluator {
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}
	return &Evaluator{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		cfg:     cfg,
	}
}

// EvaluateStream scores records one at a time and emits exactly one scored
// event per record, in input order, then a terminal completed event. The
// stream never aborts on a bad record: after retries the record gets the
// neutral score with its error flagged. Cancellation is honored between
// records; already-emitted events remain valid.
func (e *Evaluator) EvaluateStream(ctx context.Context, records []model.CollectedRecord, rubric *Rubric) <-chan model.ProgressEvent {
	events := make(chan model.ProgressEvent)

	go func() {
		defer close(events)
		system := rubric.SystemPrompt()
		scored, skipped := 0, 0

		for i, rec := range records {
			if ctx.Err() != nil {
				skipped = len(records) - i
				break
			}

			ev := model.ProgressEvent{
				Type:       model.EventScored,
				Index:      i,
				Identifier: rec.Identifier,
				At:         time.Now(),
			}

			score, err := e.scoreRecord(ctx, system, rec)
			if err != nil {
				ev.Failed = true
				ev.Error = err.Error()
				ev.Score = &model.Score{Value: neutralScore, Justification: "scoring unavailable"}
				zap.L().Warn("evaluator: record fell back to neutral score",
					zap.String("identifier", rec.Identifier),
					zap.Error(err),
				)
			} else {
				ev.Score = score
			}
			scored++

			select {
			case events <- ev:
			case <-ctx.Done():
				scored--
				skipped = len(records) - i
				goto done
			}
		}

	done:
		completed := model.ProgressEvent{
			Type:    model.EventCompleted,
			Index:   len(records),
			At:      time.Now(),
			Scored:  scored,
			Skipped: skipped,
		}
		select {
		case events <- completed:
		case <-ctx.Done():
		}
	}()

	return events
}

// scoreRecord issues one scoring call with bounded retries. Records that
// failed collection are not sent to the reasoning service at all.
func (e *Evaluator) scoreRecord(ctx context.Context, system string, rec model.CollectedRecord) (*model.Score, error) {
	if rec.Status != model.RecordOK || rec.Envelope == nil {
		return nil, eris.Errorf("evaluator: record %s not collected: %s", rec.Identifier, rec.Error)
	}

	prompt, err := recordPrompt(rec)
	if err != nil {
		return nil, err
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      system,
		Temperature: &temp,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "evaluator: rate limit")
		}

		resp, err := e.client.CreateMessage(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Usage.LogCost(e.cfg.Model, "evaluate")

		score, err := parseScore(resp.Text)
		if err != nil {
			lastErr = err
			continue
		}
		return score, nil
	}
	return nil, eris.Wrapf(lastErr, "evaluator: %d attempts failed", maxRetries+1)
}

// recordPrompt renders one envelope as the user message. The raw payload is
// omitted to keep token spend bounded; the structured subset carries the
// fields the rubric criteria reference.
func recordPrompt(rec model.CollectedRecord) (string, error) {
	data, err := json.MarshalIndent(rec.Envelope.Organization, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "evaluator: marshal organization")
	}
	prompt := fmt.Sprintf("Score this company:\n\n%s", data)

	if len(rec.Contacts) > 0 {
		contacts, err := json.MarshalIndent(rec.Contacts, "", "  ")
		if err != nil {
			return "", eris.Wrap(err, "evaluator: marshal contacts")
		}
		prompt += fmt.Sprintf("\n\nKey contacts:\n\n%s", contacts)
	}
	return prompt, nil
}

// parseScore extracts the JSON score object, tolerating surrounding prose
// and code fences.
func parseScore(text string) (*model.Score, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("evaluator: no JSON object in response %q", truncate(text, 80))
	}

	var s model.Score
	if err := json.Unmarshal([]byte(text[start:end+1]), &s); err != nil {
		return nil, eris.Wrap(err, "evaluator: parse score")
	}
	if s.Value < 0 || s.Value > 100 {
		return nil, eris.Errorf("evaluator: score %.1f out of range", s.Value)
	}
	return &s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
