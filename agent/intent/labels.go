// Package intent classifies inbound questions into a closed set of labels.
package intent

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed labels.yaml
var labelsYAML []byte

type Label string

const (
	DataLookup        Label = "data-lookup"
	ContractQA        Label = "contract-qa"
	SourceAIKnowledge Label = "source-ai-knowledge"
	IdeaGeneration    Label = "idea-generation"
	Negotiation       Label = "negotiation"
	NewsQnA           Label = "news-qna"
	DynamicIdeas      Label = "dynamic-ideas"
)

type labelConfig struct {
	Fallback string       `yaml:"fallback"`
	Labels   []labelEntry `yaml:"labels"`
}

type labelEntry struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Aliases     []string `yaml:"aliases"`
}

// Labels is the closed label set with its aliases.
type Labels struct {
	fallback Label
	entries  []labelEntry
	lookup   map[string]Label
}

func newLabelsFromYAML(data []byte) (*Labels, error) {
	var cfg labelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("intent: parse labels: %w", err)
	}
	l := &Labels{entries: cfg.Labels, lookup: make(map[string]Label)}
	for _, e := range cfg.Labels {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			return nil, fmt.Errorf("intent: label without name")
		}
		l.lookup[name] = Label(name)
		for _, a := range e.Aliases {
			l.lookup[strings.ToLower(strings.TrimSpace(a))] = Label(name)
		}
	}
	fb, ok := l.lookup[strings.ToLower(cfg.Fallback)]
	if !ok {
		return nil, fmt.Errorf("intent: fallback %q is not a label", cfg.Fallback)
	}
	l.fallback = fb
	return l, nil
}

var (
	defaultLabels     *Labels
	defaultLabelsErr  error
	defaultLabelsOnce sync.Once
)

// DefaultLabels returns the embedded label set.
func DefaultLabels() (*Labels, error) {
	defaultLabelsOnce.Do(func() {
		defaultLabels, defaultLabelsErr = newLabelsFromYAML(labelsYAML)
	})
	return defaultLabels, defaultLabelsErr
}

// Resolve maps a label or alias to its canonical label.
func (l *Labels) Resolve(s string) (Label, bool) {
	lbl, ok := l.lookup[strings.ToLower(strings.TrimSpace(s))]
	return lbl, ok
}

func (l *Labels) Fallback() Label { return l.fallback }

// All returns the canonical labels, sorted.
func (l *Labels) All() []Label {
	out := make([]Label, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, Label(e.Name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *Labels) describe() string {
	var sb strings.Builder
	for _, e := range l.entries {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Name, strings.TrimSpace(e.Description))
	}
	return strings.TrimRight(sb.String(), "\n")
}
