// Package payload implements the payload index registry (spec §4.8): a
// field path -> field index map that dispatches filter and cardinality
// queries to the appropriate concrete index (map, null, full-text, geo)
// and hands boolean combinations of conditions to the query planner.
package payload

import (
	"path/filepath"
	"sync"

	"github.com/segmentcore/segmentcore/internal/config"
	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/payload/fulltext"
	"github.com/segmentcore/segmentcore/internal/payload/geoindex"
	"github.com/segmentcore/segmentcore/internal/payload/indexapi"
	"github.com/segmentcore/segmentcore/internal/payload/mapindex"
	"github.com/segmentcore/segmentcore/internal/payload/nullindex"
	"github.com/segmentcore/segmentcore/internal/planner"
)

// Registry maps field path -> (kind, field index instance).
type Registry struct {
	mu     sync.RWMutex
	dir    string
	fields map[string]indexapi.FieldIndex
	total  uint64
}

// Open returns an empty Registry rooted at dir; it does not load any field
// index from disk. Callers typically create a Registry fresh per segment open
// and call SetIndexed for each schema entry.
func Open(dir string, total uint64) *Registry {
	return &Registry{dir: dir, fields: map[string]indexapi.FieldIndex{}, total: total}
}

// SetTotal updates the point count used for unknown-cardinality
// estimates (spec §4.9 step 1).
func (r *Registry) SetTotal(total uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = total
}

// SetIndexed creates the field index named by schema and streams values
// into it (spec §4.8). values maps offset -> raw payload value(s) at
// path; for map/keyword fields a single value or slice of values; for
// text fields a string; for geo fields a [2]float64{lat, lon}; for null
// fields a hasValue/isNull pair (passed via AddNullRecord instead).
func (r *Registry) SetIndexed(path string, schema config.FieldSchema, values map[uint32]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Join(r.dir, sanitizePath(path))
	idx, err := openFieldIndex(dir, schema)
	if err != nil {
		return err
	}
	if err := streamInto(idx, schema.Kind, values); err != nil {
		_ = idx.Close()
		return err
	}
	r.fields[path] = idx
	return nil
}

func openFieldIndex(dir string, schema config.FieldSchema) (indexapi.FieldIndex, error) {
	switch schema.Kind {
	case config.FieldKindKeyword, config.FieldKindInteger, config.FieldKindFloat, config.FieldKindBool:
		ix, _, err := mapindex.Open(dir, mapindex.BackendKV, true)
		return ix, err
	case config.FieldKindText:
		cfg := fulltext.TokenizerConfig{Lowercase: true, Stem: schema.Stemming}
		if schema.StopWordsLang == "english" || schema.StopWordsLang == "" {
			cfg.StopWords = fulltext.DefaultEnglishStopWords()
		}
		ix, _, err := fulltext.Open(dir, cfg, true)
		return ix, err
	case config.FieldKindGeo:
		ix, _, err := geoindex.Open(dir, schema.GeoPrecision, true)
		return ix, err
	case config.FieldKindNull:
		ix, err := nullindex.Open(dir)
		return ix, err
	default:
		return nil, segerrors.Arguments(segerrors.CodeInvalidConfig, "unknown field kind: "+string(schema.Kind))
	}
}

func streamInto(idx indexapi.FieldIndex, kind config.FieldKind, values map[uint32]any) error {
	switch kind {
	case config.FieldKindKeyword, config.FieldKindInteger, config.FieldKindFloat, config.FieldKindBool:
		mi := idx.(*mapindex.Index)
		for offset, v := range values {
			vs, ok := v.([]any)
			if !ok {
				vs = []any{v}
			}
			if err := mi.AddManyToMap(offset, vs); err != nil {
				return err
			}
		}
	case config.FieldKindText:
		ft := idx.(*fulltext.Index)
		for offset, v := range values {
			text, _ := v.(string)
			if err := ft.AddDocument(offset, text); err != nil {
				return err
			}
		}
	case config.FieldKindGeo:
		gi := idx.(*geoindex.Index)
		for offset, v := range values {
			pt, ok := v.([2]float64)
			if !ok {
				continue
			}
			if err := gi.Add(offset, pt[0], pt[1]); err != nil {
				return err
			}
		}
	case config.FieldKindNull:
		ni := idx.(*nullindex.Index)
		for offset, v := range values {
			pair, ok := v.([2]bool)
			if !ok {
				continue
			}
			if err := ni.Add(offset, pair[0], pair[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Filter dispatches cond to the field index named by cond.Path. A field
// with no index returns a NotIndexed error here; it is the planner's
// job (spec §7), not this method's callers, to downgrade that into a
// non-driving residual rather than a hard failure.
func (r *Registry) Filter(cond indexapi.Condition) (indexapi.OffsetIterator, error) {
	r.mu.RLock()
	idx, ok := r.fields[cond.Path]
	r.mu.RUnlock()
	if !ok {
		return nil, segerrors.NotIndexed(cond.Path)
	}
	return idx.Filter(cond)
}

// EstimateCardinality returns the field index's estimate, or
// indexapi.Unknown(total) when cond.Path has no index (spec §4.8/§4.9).
func (r *Registry) EstimateCardinality(cond indexapi.Condition) (indexapi.Cardinality, error) {
	r.mu.RLock()
	idx, ok := r.fields[cond.Path]
	total := r.total
	r.mu.RUnlock()
	if !ok {
		return indexapi.Unknown(total), nil
	}
	return idx.EstimateCardinality(cond)
}

// QueryPoints runs the query planner (spec §4.9) over this registry's
// indices. Conditions on unindexed paths are downgraded by the planner
// itself (spec §7): they never drive iteration and are treated as
// always-passing residuals rather than failing the query.
func (r *Registry) QueryPoints(q planner.Query) (indexapi.OffsetIterator, error) {
	return planner.Execute(r, q, nil)
}

// IsIndexed reports whether path has a live field index.
func (r *Registry) IsIndexed(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fields[path]
	return ok
}

// PayloadBlock is one heavy-hitter bucket: a condition paired with its
// cardinality, used by the segment to decide which value buckets are
// worth a dedicated sub-index (spec §4.8).
type PayloadBlock struct {
	Condition   indexapi.Condition
	Cardinality indexapi.Cardinality
}

// PayloadBlocks returns every indexed (path, value) pair whose posting
// set size is at least threshold. Only map-backed fields expose
// per-value counts; other index kinds have no notion of discrete value
// buckets and are skipped.
func (r *Registry) PayloadBlocks(threshold uint64) []PayloadBlock {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var blocks []PayloadBlock
	for path, idx := range r.fields {
		mi, ok := idx.(*mapindex.Index)
		if !ok {
			continue
		}
		for valueKey, count := range mi.IterCountsPerValue() {
			if count < threshold {
				continue
			}
			value, err := mapindex.DecodeValue(valueKey)
			if err != nil {
				continue
			}
			blocks = append(blocks, PayloadBlock{
				Condition:   indexapi.Condition{Kind: indexapi.ConditionMatch, Path: path, MatchValue: value},
				Cardinality: indexapi.Cardinality{Min: count, Exp: count, Max: count},
			})
		}
	}
	return blocks
}

// Close closes every open field index.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, idx := range r.fields {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Flush flushes every open field index.
func (r *Registry) Flush() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, idx := range r.fields {
		if err := idx.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func sanitizePath(path string) string {
	out := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '/' || c == '\\' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
