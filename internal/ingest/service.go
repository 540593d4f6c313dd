// Package ingest sequences the ingestion pipeline (read, normalize, persist,
// record) and serves the query paths over the ingested data.
package ingest

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/finbase/b3ingest/internal/cache"
	"github.com/finbase/b3ingest/internal/csv"
	"github.com/finbase/b3ingest/internal/ledger"
	"github.com/finbase/b3ingest/internal/logging"
	"github.com/finbase/b3ingest/internal/store"
)

// SearchPageSize is the fixed per-page size for content search.
const SearchPageSize = 10

// NoFilterMessage is returned when search is called without a usable filter.
const NoFilterMessage = "no valid filter provided; supply at least one of: TckrSymb, RptDt"

// ContentStore persists and searches ingested rows.
type ContentStore interface {
	InsertAll(ctx context.Context, records []csv.Record, batchSize int) (int, error)
	Search(ctx context.Context, f store.ContentFilter, page, perPage int) (*store.Page, error)
}

// Ledger records completed uploads.
type Ledger interface {
	Append(ctx context.Context, rec ledger.UploadRecord) error
	Find(ctx context.Context, f ledger.Filter) ([]ledger.UploadRecord, error)
	FindByHash(ctx context.Context, hash string) (*ledger.UploadRecord, error)
}

// FileStore places uploaded files on disk.
type FileStore interface {
	Save(name string, r io.Reader) (string, error)
}

// Options tune the pipeline. Zero values fall back to the defaults.
type Options struct {
	// BatchSize is the chunk size for bulk inserts (default 500).
	BatchSize int

	// RejectDuplicates refuses files whose content hash is already in the
	// ledger. Off by default: hashes are always recorded but only checked
	// when this is set.
	RejectDuplicates bool

	// HistoryCacheKey is the fixed cache key for history lookups. The key
	// does not vary by filter values: within the TTL every caller gets the
	// first computed result.
	HistoryCacheKey string

	// HistoryCacheTTL bounds staleness of cached history results
	// (default 600s).
	HistoryCacheTTL time.Duration
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = store.DefaultBatchSize
	}
	if o.HistoryCacheKey == "" {
		o.HistoryCacheKey = "upload-history"
	}
	if o.HistoryCacheTTL <= 0 {
		o.HistoryCacheTTL = 600 * time.Second
	}
}

// Result is the single outcome of one ingestion.
type Result struct {
	Success bool                 `json:"success"`
	Upload  *ledger.UploadRecord `json:"upload,omitempty"`
	Message string               `json:"message,omitempty"`
}

// Service wires the pipeline stages together.
type Service struct {
	contents ContentStore
	uploads  Ledger
	files    FileStore
	opts     Options
	history  *cache.TTL[[]ledger.UploadRecord]
}

// NewService creates the ingestion service.
func NewService(contents ContentStore, uploads Ledger, files FileStore, opts Options) *Service {
	opts.applyDefaults()
	return &Service{
		contents: contents,
		uploads:  uploads,
		files:    files,
		opts:     opts,
		history:  cache.NewTTL[[]ledger.UploadRecord](16, opts.HistoryCacheTTL),
	}
}

// Ingest runs the full pipeline for one uploaded file. It never returns an
// error: every stage failure becomes a Result with the underlying message.
// Success means all content rows are committed and the ledger entry exists.
func (s *Service) Ingest(ctx context.Context, fileName string, file io.Reader) Result {
	log := logging.WithFields(ctx, "file", fileName)
	log.Info("upload started")

	path, err := s.files.Save(fileName, file)
	if err != nil {
		return s.failure(ctx, err)
	}

	if s.opts.RejectDuplicates {
		hash, err := ledger.HashFile(path)
		if err != nil {
			return s.failure(ctx, err)
		}
		existing, err := s.uploads.FindByHash(ctx, hash)
		if err != nil {
			return s.failure(ctx, err)
		}
		if existing != nil {
			log.Info("duplicate upload rejected", "hash", hash, "previous", existing.Name)
			return Result{Success: false, Message: "file already ingested: " + hash}
		}
	}

	records, err := readAll(path)
	if err != nil {
		return s.failure(ctx, err)
	}

	inserted, err := s.contents.InsertAll(ctx, records, s.opts.BatchSize)
	if err != nil {
		return s.failure(ctx, &PersistError{Err: err})
	}

	// The relational transaction is committed from here on. Hashing and the
	// ledger write are a best-effort addendum: a failure leaves the rows in
	// place and is reported, not rolled back.
	hash, err := ledger.HashFile(path)
	if err != nil {
		return s.failure(ctx, &HashError{Err: err})
	}

	rec := ledger.UploadRecord{
		ID:         uuid.NewString(),
		Name:       fileName,
		Hash:       hash,
		Path:       path,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.uploads.Append(ctx, rec); err != nil {
		return s.failure(ctx, &HashError{Err: err})
	}

	log.Info("upload complete", "rows", inserted, "hash", hash)
	return Result{Success: true, Upload: &rec}
}

// failure logs the stage error and converts it to a caller-facing result.
func (s *Service) failure(ctx context.Context, err error) Result {
	logging.FromContext(ctx).Error("upload failed", "error", err)
	return Result{Success: false, Message: err.Error()}
}

// readAll streams the file through the reader and normalizer into the
// ordered record sequence the persister chunks. The file handle is released
// on every path.
func readAll(path string) ([]csv.Record, error) {
	r, err := csv.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records []csv.Record
	for {
		row, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, csv.Normalize(row))
	}
	return records, nil
}

// History returns upload records matching the filters, served through the
// fixed-key TTL cache: within the TTL every call gets the same cached result
// regardless of filter values, and new ingestions do not invalidate it.
func (s *Service) History(ctx context.Context, f ledger.Filter) ([]ledger.UploadRecord, error) {
	return s.history.GetOrCompute(s.opts.HistoryCacheKey, func() ([]ledger.UploadRecord, error) {
		return s.uploads.Find(ctx, f)
	})
}

// SearchResult is the tagged search outcome: either a page of rows or a
// structured no-filter refusal. The refusal is a normal negative result, not
// an error.
type SearchResult struct {
	Page    *store.Page
	Message string
}

// NoFilter reports whether the result is the no-usable-filter variant.
func (r SearchResult) NoFilter() bool { return r.Page == nil }

// Search returns one page of content rows for the given filters. At least
// one of TckrSymb or RptDt must be present.
func (s *Service) Search(ctx context.Context, f store.ContentFilter, page int) (SearchResult, error) {
	if f.Empty() {
		return SearchResult{Message: NoFilterMessage}, nil
	}

	p, err := s.contents.Search(ctx, f, page, SearchPageSize)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Page: p}, nil
}
