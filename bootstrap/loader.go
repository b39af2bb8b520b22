// Package bootstrap loads the on-disk example tree and deploys it to the
// example index.
package bootstrap

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/malbeclabs/ada/pkg/tenant"
)

const (
	exampleExt  = ".sql"
	categoryTag = "[category]"
)

var exampleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ada/sql_examples"))

// Example is one (question, SQL) pair read from <tenant>/<question_type>/<slug>.sql.
type Example struct {
	ID           string
	Tenant       string
	QuestionType string
	Question     string
	SQL          string
	Path         string
}

// ExampleID is stable for a file path, so re-deploying the same tree
// overwrites the same points.
func ExampleID(tenantID, questionType, file string) string {
	return uuid.NewSHA1(exampleNamespace, []byte(tenantID+"/"+questionType+"/"+file)).String()
}

// QuestionFromFileName derives the example question from its file name:
// the part before the first '.', lowercased, '_' as space, punctuation
// removed and category tokens replaced by "[category]".
func QuestionFromFileName(name string, categoryTokens []string) string {
	name, _, _ = strings.Cut(name, ".")
	name = strings.ToLower(strings.ReplaceAll(name, "_", " "))
	name = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")
	for _, tok := range categoryTokens {
		if tok = strings.ToLower(strings.TrimSpace(tok)); tok != "" {
			name = strings.ReplaceAll(name, tok, categoryTag)
		}
	}
	return name
}

// Load reads the example tree rooted at dir.
func Load(dir string, categoryTokens []string) ([]Example, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: examples root: %v", ErrConfig, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: examples root %s is not a directory", ErrConfig, dir)
	}
	return LoadFS(os.DirFS(dir), categoryTokens)
}

// LoadFS reads <tenant>/<question_type>/<slug>.sql files from fsys in
// lexical order. Files at the tenant level (such as rule files), hidden
// entries and empty examples are skipped.
func LoadFS(fsys fs.FS, categoryTokens []string) ([]Example, error) {
	tenants, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("%w: read examples root: %v", ErrConfig, err)
	}
	var out []Example
	for _, t := range tenants {
		if !t.IsDir() || hidden(t.Name()) {
			continue
		}
		if err := tenant.Validate(t.Name()); err != nil {
			return nil, fmt.Errorf("%w: tenant directory %q: %v", ErrConfig, t.Name(), err)
		}
		types, err := fs.ReadDir(fsys, t.Name())
		if err != nil {
			return nil, fmt.Errorf("read tenant %s: %w", t.Name(), err)
		}
		for _, qt := range types {
			if !qt.IsDir() || hidden(qt.Name()) {
				continue
			}
			dir := path.Join(t.Name(), qt.Name())
			files, err := fs.ReadDir(fsys, dir)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", dir, err)
			}
			for _, f := range files {
				if f.IsDir() || hidden(f.Name()) || !strings.HasSuffix(f.Name(), exampleExt) {
					continue
				}
				p := path.Join(dir, f.Name())
				body, err := fs.ReadFile(fsys, p)
				if err != nil {
					return nil, fmt.Errorf("read %s: %w", p, err)
				}
				sql := strings.TrimSpace(string(body))
				question := QuestionFromFileName(f.Name(), categoryTokens)
				if sql == "" || question == "" {
					continue
				}
				out = append(out, Example{
					ID:           ExampleID(t.Name(), qt.Name(), f.Name()),
					Tenant:       t.Name(),
					QuestionType: qt.Name(),
					Question:     question,
					SQL:          sql,
					Path:         p,
				})
			}
		}
	}
	return out, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
