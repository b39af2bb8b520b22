package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/malbeclabs/ada/pkg/cache"
)

const (
	RulesFile       = "querystablization_rules.txt"
	DefaultFileTTL  = 5 * time.Minute
	maxSchemaDocLen = 1 << 20
)

// RulesSource loads per-tenant stabilisation rules from
// <root>/<tenant>/querystablization_rules.txt, one rule per line.
type RulesSource struct {
	log   *slog.Logger
	root  string
	cache *ttlcache.Cache[string, []string]
}

func NewRulesSource(log *slog.Logger, root string, ttl time.Duration) *RulesSource {
	if ttl <= 0 {
		ttl = DefaultFileTTL
	}
	return &RulesSource{
		log:   log,
		root:  root,
		cache: ttlcache.New(ttlcache.WithTTL[string, []string](ttl)),
	}
}

// Rules returns the tenant's rules. A missing file yields no rules.
func (r *RulesSource) Rules(tenantID string) []string {
	if r == nil || r.root == "" {
		return nil
	}
	if item := r.cache.Get(tenantID); item != nil {
		return item.Value()
	}
	dir, ok := tenantDir(r.root, tenantID)
	if !ok {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dir, RulesFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.log.Warn("pipeline: failed to read stabilisation rules", "tenant", tenantID, "error", err)
		}
		r.cache.Set(tenantID, nil, ttlcache.DefaultTTL)
		return nil
	}
	var rules []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			rules = append(rules, line)
		}
	}
	r.cache.Set(tenantID, rules, ttlcache.DefaultTTL)
	return rules
}

// SchemaDocs are the schema documents for a tenant and their fingerprint.
type SchemaDocs struct {
	Documents   []string
	Fingerprint string
}

// SchemaSource provides the schema documents handed to SQL generation.
type SchemaSource interface {
	Schema(ctx context.Context, tenantID string) (SchemaDocs, error)
}

// DirSchemaSource reads every regular file in <root>/<tenant>/ as one
// document, in file-name order.
type DirSchemaSource struct {
	log   *slog.Logger
	root  string
	cache *ttlcache.Cache[string, SchemaDocs]
}

func NewDirSchemaSource(log *slog.Logger, root string, ttl time.Duration) *DirSchemaSource {
	if ttl <= 0 {
		ttl = DefaultFileTTL
	}
	return &DirSchemaSource{
		log:   log,
		root:  root,
		cache: ttlcache.New(ttlcache.WithTTL[string, SchemaDocs](ttl)),
	}
}

func (s *DirSchemaSource) Schema(_ context.Context, tenantID string) (SchemaDocs, error) {
	if item := s.cache.Get(tenantID); item != nil {
		return item.Value(), nil
	}
	docs, err := s.load(tenantID)
	if err != nil {
		return SchemaDocs{}, err
	}
	s.cache.Set(tenantID, docs, ttlcache.DefaultTTL)
	return docs, nil
}

func (s *DirSchemaSource) load(tenantID string) (SchemaDocs, error) {
	dir, ok := tenantDir(s.root, tenantID)
	if !ok {
		return NewSchemaDocs(nil), nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("pipeline: no schema documents", "tenant", tenantID, "dir", dir)
			return NewSchemaDocs(nil), nil
		}
		return SchemaDocs{}, fmt.Errorf("pipeline: read schema dir: %w", err)
	}
	var docs []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return SchemaDocs{}, fmt.Errorf("pipeline: read schema document %s: %w", e.Name(), err)
		}
		if len(data) > maxSchemaDocLen {
			s.log.Warn("pipeline: truncating schema document", "tenant", tenantID, "file", e.Name(), "size", len(data))
			data = data[:maxSchemaDocLen]
		}
		docs = append(docs, strings.TrimSpace(string(data)))
	}
	return NewSchemaDocs(docs), nil
}

// NewSchemaDocs fingerprints docs: sha256 over the sorted documents.
func NewSchemaDocs(docs []string) SchemaDocs {
	sorted := append([]string(nil), docs...)
	sort.Strings(sorted)
	return SchemaDocs{Documents: docs, Fingerprint: cache.Hash(sorted...)}
}

// StaticSchemaSource serves fixed documents for every tenant.
type StaticSchemaSource struct {
	docs SchemaDocs
}

func NewStaticSchemaSource(docs ...string) *StaticSchemaSource {
	return &StaticSchemaSource{docs: NewSchemaDocs(docs)}
}

func (s *StaticSchemaSource) Schema(context.Context, string) (SchemaDocs, error) {
	return s.docs, nil
}

// tenantDir joins root and tenant, refusing tenant ids that would escape
// root.
func tenantDir(root, tenantID string) (string, bool) {
	if root == "" || tenantID == "" || tenantID != filepath.Base(tenantID) || tenantID == "." || tenantID == ".." {
		return "", false
	}
	return filepath.Join(root, tenantID), true
}
