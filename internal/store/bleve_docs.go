package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/entityidx/internal/entry"
	"github.com/Aman-CERP/entityidx/internal/errors"
	"github.com/Aman-CERP/entityidx/internal/index"
)

const (
	// TextTokenizerName is the Bleve name of the document text tokenizer.
	TextTokenizerName = "entity_text_tokenizer"

	// TextStopFilterName is the Bleve name of the stop word filter.
	TextStopFilterName = "entity_text_stop"

	// TextAnalyzerName is the Bleve name of the document text analyzer.
	TextAnalyzerName = "entity_text"
)

func init() {
	_ = registry.RegisterTokenizer(TextTokenizerName, textTokenizerConstructor)
	_ = registry.RegisterTokenFilter(TextStopFilterName, textStopFilterConstructor)
}

// bleveDoc is what gets indexed. Only Text is searchable; Source holds the
// document fields as JSON so they can be read back.
type bleveDoc struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// BleveDocStore keeps documents in a Bleve index.
type BleveDocStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ DocStore = (*BleveDocStore)(nil)

// validateIndexIntegrity checks an existing Bleve index before opening it.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError reports whether a Bleve open error means the index is
// damaged rather than merely absent or locked.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") ||
		strings.Contains(s, "error parsing mapping JSON") ||
		strings.Contains(s, "failed to load segment") ||
		strings.Contains(s, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// OpenBleveDocStore opens the index at path, in memory when empty. A
// corrupt index is cleared and recreated empty.
func OpenBleveDocStore(path string) (*BleveDocStore, error) {
	indexMapping, err := newDocMapping()
	if err != nil {
		return nil, errors.InternalError("failed to create index mapping", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.StoreError(fmt.Sprintf("failed to create directory %s", dir), err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("doc_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, errors.New(errors.ErrCodeStoreCorrupt,
					fmt.Sprintf("document index corrupted at %s and cannot remove", path), removeErr)
			}
			slog.Info("doc_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("doc_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, errors.New(errors.ErrCodeStoreCorrupt,
					"document index corrupted, cannot clear", removeErr)
			}
			slog.Info("doc_index_cleared",
				slog.String("path", path),
				slog.String("reason", "open failed with corruption, please reindex"))
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, errors.StoreError("failed to create/open document index", err)
	}

	return &BleveDocStore{index: idx, path: path}, nil
}

// newDocMapping indexes only the text field with the entity text analyzer
// and stores the JSON source unindexed.
func newDocMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(TextAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": TextTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			TextStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = TextAnalyzerName

	text := bleve.NewTextFieldMapping()
	text.Analyzer = TextAnalyzerName
	text.Store = false
	text.IncludeTermVectors = false

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false
	doc.AddFieldMappingsAt("text", text)
	doc.AddFieldMappingsAt("source", source)
	indexMapping.DefaultMapping = doc

	return indexMapping, nil
}

// Commit applies removals and docs in one Bleve batch. Bleve persists each
// batch, so flush needs no extra work.
func (b *BleveDocStore) Commit(ctx context.Context, docs []*index.DocEntry, removals []*entry.Entry, flush string) error {
	if len(docs) == 0 && len(removals) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.StoreError("document index is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := b.index.NewBatch()
	for _, id := range removalIDs(removals) {
		batch.Delete(id)
	}
	for _, d := range docs {
		fields := d.Fields()
		src, err := json.Marshal(nonNilAttrs(fields))
		if err != nil {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("document %s is not serializable", d.ID()), err)
		}
		if err := batch.Index(d.ID(), bleveDoc{Text: docText(fields), Source: string(src)}); err != nil {
			return errors.StoreError(fmt.Sprintf("failed to index document %s", d.ID()), err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return errors.StoreError("failed to execute batch", err)
	}
	if flush == entry.FlushAll {
		slog.Debug("doc_store_flushed", slog.String("path", b.path))
	}
	return nil
}

func (b *BleveDocStore) Get(ctx context.Context, id string) (map[string]any, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false, errors.StoreError("document index is closed", nil)
	}

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Fields = []string{"source"}
	req.Size = 1
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, false, errors.StoreError("failed to read document", err)
	}
	if len(res.Hits) == 0 {
		return nil, false, nil
	}
	src, _ := res.Hits[0].Fields["source"].(string)
	var fields map[string]any
	if err := json.Unmarshal([]byte(src), &fields); err != nil {
		return nil, false, errors.New(errors.ErrCodeStoreCorrupt,
			fmt.Sprintf("document %s is corrupt", id), err)
	}
	return fields, true, nil
}

func (b *BleveDocStore) Count(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, errors.StoreError("document index is closed", nil)
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0, errors.StoreError("failed to count documents", err)
	}
	return int(n), nil
}

func (b *BleveDocStore) Search(ctx context.Context, q string, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errors.StoreError("document index is closed", nil)
	}
	if strings.TrimSpace(q) == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	match := bleve.NewMatchQuery(q)
	match.SetField("text")
	match.SetOperator(query.MatchQueryOperatorAnd)
	req := bleve.NewSearchRequest(match)
	req.Size = limit

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.StoreError("search failed", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func (b *BleveDocStore) AllIDs(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errors.StoreError("document index is closed", nil)
	}

	n, err := b.index.DocCount()
	if err != nil {
		return nil, errors.StoreError("failed to count documents", err)
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(n)
	req.Fields = []string{}
	req.SortBy([]string{"_id"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.StoreError("failed to search for all ids", err)
	}
	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	return ids, nil
}

// Close closes the index. It is idempotent.
func (b *BleveDocStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func textTokenizerConstructor(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveTextTokenizer{}, nil
}

// bleveTextTokenizer adapts TokenizeText to Bleve.
type bleveTextTokenizer struct{}

func (t *bleveTextTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := TokenizeText(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for pos, token := range tokens {
		start := strings.Index(lower[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos + 1,
			Type:     analysis.AlphaNumeric,
		})
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func textStopFilterConstructor(config map[string]any, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStopFilter{stopWords: BuildStopWordMap(DefaultStopWords)}, nil
}

type bleveStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
