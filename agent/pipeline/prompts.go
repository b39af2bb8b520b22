package pipeline

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/malbeclabs/ada/agent/pipeline/prompts"
)

// Prompts contains the pipeline prompts loaded from embedded files.
type Prompts struct {
	Stabilise string
	Rerank    string
	Generate  string // with the dialect profile injected
	Correct   string // with the dialect profile injected
	Dialect   *Dialect
}

// Dialect is the SQL dialect profile given to generation and correction.
type Dialect struct {
	Name        string   `yaml:"name"`
	Time        []string `yaml:"time"`
	Division    []string `yaml:"division"`
	Aggregation []string `yaml:"aggregation"`
	Joins       []string `yaml:"joins"`
}

// Render formats the profile as a prompt section.
func (d *Dialect) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s dialect rules\n", d.Name)
	section := func(title string, rules []string) {
		if len(rules) == 0 {
			return
		}
		fmt.Fprintf(&sb, "\n### %s\n", title)
		for _, r := range rules {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	section("Time", d.Time)
	section("Division", d.Division)
	section("Aggregation", d.Aggregation)
	section("Joins", d.Joins)
	return strings.TrimRight(sb.String(), "\n")
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Stabilise, err = loadPrompt("STABILISE.md"); err != nil {
		return nil, fmt.Errorf("failed to load STABILISE: %w", err)
	}
	if p.Rerank, err = loadPrompt("RERANK.md"); err != nil {
		return nil, fmt.Errorf("failed to load RERANK: %w", err)
	}
	if p.Generate, err = loadPrompt("GENERATE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}
	if p.Correct, err = loadPrompt("CORRECT.md"); err != nil {
		return nil, fmt.Errorf("failed to load CORRECT: %w", err)
	}

	raw, err := loadPrompt("dialect.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to load dialect: %w", err)
	}
	var d Dialect
	if err := yaml.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("failed to parse dialect: %w", err)
	}
	p.Dialect = &d

	rendered := d.Render()
	p.Generate = strings.Replace(p.Generate, "{{DIALECT}}", rendered, 1)
	p.Correct = strings.Replace(p.Correct, "{{DIALECT}}", rendered, 1)

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
