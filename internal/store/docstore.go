package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/index"
)

// DocStore is a commit target for indexing passes that can also be read
// back for verification.
type DocStore interface {
	index.Committer

	// Get returns the stored fields of a document.
	Get(ctx context.Context, id string) (map[string]any, bool, error)
	Count(ctx context.Context) (int, error)
	// Search matches query against the text of every string field.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	AllIDs(ctx context.Context) ([]string, error)
	Close() error
}

// Hit is a search result. Higher scores are better matches.
type Hit struct {
	ID    string
	Score float64
}

// Backend selects the document store implementation.
type Backend string

const (
	// BackendSQLite stores documents in SQLite with an FTS5 table (default).
	// Several processes can read while one commits.
	BackendSQLite Backend = "sqlite"

	// BackendBleve stores documents in a Bleve index. The index is locked
	// by a single process.
	BackendBleve Backend = "bleve"
)

// docBaseName is the file name stem of the document store in the data dir.
const docBaseName = "docs"

// OpenDocStore opens the document store of backend under dataDir. An empty
// dataDir creates an in-memory store for testing.
func OpenDocStore(dataDir string, backend string) (DocStore, error) {
	switch Backend(backend) {
	case BackendSQLite, "":
		var path string
		if dataDir != "" {
			path = DocStorePath(dataDir, string(BackendSQLite))
		}
		return OpenSQLiteDocStore(path)
	case BackendBleve:
		var path string
		if dataDir != "" {
			path = DocStorePath(dataDir, string(BackendBleve))
		}
		return OpenBleveDocStore(path)
	default:
		return nil, errors.ConfigError(
			fmt.Sprintf("unknown document store backend: %s", backend), nil).
			WithSuggestion("valid options: sqlite, bleve")
	}
}

// DetectBackend reports which backend already has a store under dataDir,
// or an empty string if there is none.
func DetectBackend(dataDir string) Backend {
	if fileExists(DocStorePath(dataDir, string(BackendSQLite))) {
		return BackendSQLite
	}
	if dirExists(DocStorePath(dataDir, string(BackendBleve))) {
		return BackendBleve
	}
	return ""
}

// DocStorePath returns the file or directory the backend uses under dataDir.
func DocStorePath(dataDir string, backend string) string {
	base := filepath.Join(dataDir, docBaseName)
	if Backend(backend) == BackendBleve {
		return base + ".bleve"
	}
	return base + ".db"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// docText flattens the string values of fields into searchable text, in
// field name order. Nested maps and slices are walked.
func docText(fields map[string]any) string {
	var parts []string
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case string:
			if x != "" {
				parts = append(parts, x)
			}
		case []string:
			for _, s := range x {
				walk(s)
			}
		case []any:
			for _, s := range x {
				walk(s)
			}
		case map[string]any:
			for _, k := range sortedKeys(x) {
				walk(x[k])
			}
		}
	}
	walk(fields)
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// removalIDs returns the document ids of the removed entries.
func removalIDs(removals []*entry.Entry) []string {
	ids := make([]string, len(removals))
	for i, e := range removals {
		ids[i] = e.ID()
	}
	return ids
}
