package intent

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/malbeclabs/ada/agent/history"
	"github.com/malbeclabs/ada/pkg/errkind"
	"github.com/malbeclabs/ada/pkg/llm"
)

//go:embed CLASSIFY.md
var classifyPrompt string

var markerRE = regexp.MustCompile(`##\s*([A-Za-z0-9_-]+)\s*##`)

// Source records how a label was chosen.
type Source string

const (
	SourceMarker     Source = "marker"
	SourceHistory    Source = "history"
	SourceClassifier Source = "classifier"
	SourceFallback   Source = "fallback"
)

type Decision struct {
	Label Label
	// Text is the user text with known markers removed.
	Text   string
	Source Source
}

type Config struct {
	Logger *slog.Logger
	LLM    llm.Completer
	Labels *Labels
	// Window is the number of history messages scanned for a marker.
	Window int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("intent: logger is required")
	}
	if c.LLM == nil {
		return errors.New("intent: LLM is required")
	}
	if c.Labels == nil {
		labels, err := DefaultLabels()
		if err != nil {
			return err
		}
		c.Labels = labels
	}
	if c.Window <= 0 {
		c.Window = history.Window
	}
	return nil
}

type Router struct {
	log    *slog.Logger
	llm    llm.Completer
	labels *Labels
	window int
	prompt string
}

func NewRouter(cfg *Config) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prompt := strings.Replace(strings.TrimSpace(classifyPrompt), "{{LABELS}}", cfg.Labels.describe(), 1)
	prompt = strings.Replace(prompt, "{{FALLBACK}}", string(cfg.Labels.Fallback()), 1)
	return &Router{
		log:    cfg.Logger,
		llm:    cfg.LLM,
		labels: cfg.Labels,
		window: cfg.Window,
		prompt: prompt,
	}, nil
}

// Route picks the label for text. Recent is the conversation so far,
// oldest first. The returned label is always a member of the closed set.
func (r *Router) Route(ctx context.Context, tenantID, text string, recent []history.Message) (Decision, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Decision{}, errkind.New(errkind.BadRequest, "tenant_id is required")
	}
	stripped, marked := r.stripMarkers(text)
	if stripped == "" {
		return Decision{}, errkind.New(errkind.BadRequest, "query is required")
	}
	if marked != "" {
		r.log.Debug("intent: marker", "tenant", tenantID, "label", marked)
		return Decision{Label: marked, Text: stripped, Source: SourceMarker}, nil
	}

	if lbl, ok := r.fromHistory(recent); ok {
		r.log.Debug("intent: reused marker from history", "tenant", tenantID, "label", lbl)
		return Decision{Label: lbl, Text: stripped, Source: SourceHistory}, nil
	}

	start := time.Now()
	reply, err := r.llm.Complete(ctx, r.prompt, stripped, llm.WithTemperature(0), llm.WithMaxTokens(16), llm.WithCacheControl())
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, fmt.Errorf("intent: classify: %w", ctx.Err())
		}
		r.log.Warn("intent: classifier failed, using fallback", "tenant", tenantID, "error", err)
		return Decision{Label: r.labels.Fallback(), Text: stripped, Source: SourceFallback}, nil
	}
	lbl, ok := r.normalize(reply)
	if !ok {
		r.log.Info("intent: unknown classifier reply, using fallback", "tenant", tenantID, "reply", reply)
		return Decision{Label: r.labels.Fallback(), Text: stripped, Source: SourceFallback}, nil
	}
	r.log.Debug("intent: classified", "tenant", tenantID, "label", lbl, "duration", time.Since(start))
	return Decision{Label: lbl, Text: stripped, Source: SourceClassifier}, nil
}

// stripMarkers removes known ##label## markers and returns the first one.
// Unknown markers are left in the text.
func (r *Router) stripMarkers(text string) (string, Label) {
	var first Label
	out := markerRE.ReplaceAllStringFunc(text, func(m string) string {
		name := markerRE.FindStringSubmatch(m)[1]
		lbl, ok := r.labels.Resolve(name)
		if !ok {
			return m
		}
		if first == "" {
			first = lbl
		}
		return " "
	})
	return strings.Join(strings.Fields(out), " "), first
}

func (r *Router) fromHistory(recent []history.Message) (Label, bool) {
	seen := 0
	for i := len(recent) - 1; i >= 0 && seen < r.window; i-- {
		seen++
		for _, m := range markerRE.FindAllStringSubmatch(recent[i].Content, -1) {
			if lbl, ok := r.labels.Resolve(m[1]); ok {
				return lbl, true
			}
		}
	}
	return "", false
}

// normalize reduces a classifier reply to a single known label token.
func (r *Router) normalize(reply string) (Label, bool) {
	clean := strings.ToLower(strings.TrimSpace(reply))
	clean = strings.Trim(clean, "#`\"'.:;!* \n\t")
	if lbl, ok := r.labels.Resolve(clean); ok {
		return lbl, true
	}
	for _, tok := range strings.FieldsFunc(clean, func(c rune) bool {
		return !(c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9'))
	}) {
		if lbl, ok := r.labels.Resolve(strings.ReplaceAll(tok, "_", "-")); ok {
			return lbl, true
		}
	}
	return "", false
}
