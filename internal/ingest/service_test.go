package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/finbase/b3ingest/internal/csv"
	"github.com/finbase/b3ingest/internal/ledger"
	"github.com/finbase/b3ingest/internal/store"
)

// fakeContentStore records inserts in memory and can be told to fail.
type fakeContentStore struct {
	records    []csv.Record
	batchSizes []int
	insertErr  error
	searchErr  error
	page       *store.Page
	lastFilter store.ContentFilter
}

func (f *fakeContentStore) InsertAll(_ context.Context, records []csv.Record, batchSize int) (int, error) {
	f.batchSizes = append(f.batchSizes, batchSize)
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.records = append(f.records, records...)
	return len(records), nil
}

func (f *fakeContentStore) Search(_ context.Context, filter store.ContentFilter, page, perPage int) (*store.Page, error) {
	f.lastFilter = filter
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.page != nil {
		return f.page, nil
	}
	return &store.Page{Items: []store.FileContent{}, CurrentPage: page, PerPage: perPage}, nil
}

// fakeLedger is an in-memory Ledger with per-method failure injection.
type fakeLedger struct {
	records   []ledger.UploadRecord
	appendErr error
	findCalls int
}

func (f *fakeLedger) Append(_ context.Context, rec ledger.UploadRecord) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeLedger) Find(_ context.Context, filter ledger.Filter) ([]ledger.UploadRecord, error) {
	f.findCalls++
	var out []ledger.UploadRecord
	for _, rec := range f.records {
		if filter.Name != nil && rec.Name != *filter.Name {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeLedger) FindByHash(_ context.Context, hash string) (*ledger.UploadRecord, error) {
	for i := range f.records {
		if f.records[i].Hash == hash {
			return &f.records[i], nil
		}
	}
	return nil, nil
}

// diskFileStore writes into a per-test temp dir so the pipeline can re-read
// and hash the file it just saved.
type diskFileStore struct {
	dir     string
	saveErr error
}

func (f *diskFileStore) Save(name string, r io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	path := filepath.Join(f.dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return "", err
	}
	return path, nil
}

func newTestService(t *testing.T, opts Options) (*Service, *fakeContentStore, *fakeLedger) {
	t.Helper()
	contents := &fakeContentStore{}
	uploads := &fakeLedger{}
	files := &diskFileStore{dir: t.TempDir()}
	return NewService(contents, uploads, files, opts), contents, uploads
}

const sampleCSV = "Arquivo de instrumentos;2024-01-02\n" +
	"RptDt;TckrSymb;MktNm\n" +
	"2024-01-02;PETR4;EQUITY-CASH\n" +
	"2024-01-02;VALE3;EQUITY-CASH\n" +
	"2024-01-02;ITUB4;\n"

var hexHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestIngestSuccess(t *testing.T) {
	svc, contents, uploads := newTestService(t, Options{})

	res := svc.Ingest(context.Background(), "instruments.csv", strings.NewReader(sampleCSV))
	if !res.Success {
		t.Fatalf("ingest failed: %s", res.Message)
	}

	if len(contents.records) != 3 {
		t.Fatalf("got %d records, want 3", len(contents.records))
	}
	if v, ok := contents.records[0].Get("TckrSymb"); !ok || v != "PETR4" {
		t.Errorf("record 0 TckrSymb = %q, want PETR4", v)
	}
	if v, ok := contents.records[2].Get("MktNm"); !ok || v != "" {
		t.Errorf("record 2 MktNm = %q (present=%v), want empty string", v, ok)
	}
	if len(contents.batchSizes) != 1 || contents.batchSizes[0] != store.DefaultBatchSize {
		t.Errorf("batch sizes = %v, want [%d]", contents.batchSizes, store.DefaultBatchSize)
	}

	if res.Upload == nil {
		t.Fatal("success result has no upload record")
	}
	if res.Upload.Name != "instruments.csv" {
		t.Errorf("upload name = %q", res.Upload.Name)
	}
	if res.Upload.ID == "" {
		t.Error("upload record has no id")
	}
	if !hexHash.MatchString(res.Upload.Hash) {
		t.Errorf("hash %q is not 64 lowercase hex chars", res.Upload.Hash)
	}
	if res.Upload.UploadedAt.IsZero() {
		t.Error("upload record has no timestamp")
	}

	if len(uploads.records) != 1 || uploads.records[0].ID != res.Upload.ID {
		t.Errorf("ledger records = %+v, want the returned record", uploads.records)
	}
}

func TestIngestPersistFailure(t *testing.T) {
	svc, contents, uploads := newTestService(t, Options{})
	contents.insertErr = errors.New("deadlock detected")

	res := svc.Ingest(context.Background(), "instruments.csv", strings.NewReader(sampleCSV))
	if res.Success {
		t.Fatal("ingest succeeded despite insert failure")
	}
	if !strings.Contains(res.Message, "persist records") {
		t.Errorf("message %q does not identify the persist stage", res.Message)
	}
	if len(uploads.records) != 0 {
		t.Errorf("ledger has %d records after failed insert, want 0", len(uploads.records))
	}
}

func TestIngestLedgerFailureAfterCommit(t *testing.T) {
	svc, contents, uploads := newTestService(t, Options{})
	uploads.appendErr = errors.New("disk full")

	res := svc.Ingest(context.Background(), "instruments.csv", strings.NewReader(sampleCSV))
	if res.Success {
		t.Fatal("ingest succeeded despite ledger failure")
	}
	// The content rows stay committed: only the ledger entry is missing.
	if len(contents.records) != 3 {
		t.Errorf("content store has %d records, want the committed 3", len(contents.records))
	}
	if !strings.Contains(res.Message, "record upload after commit") {
		t.Errorf("message %q does not identify the post-commit stage", res.Message)
	}
}

func TestIngestUnreadableFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty file", content: ""},
		{name: "banner only", content: "Arquivo de instrumentos\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, contents, _ := newTestService(t, Options{})
			res := svc.Ingest(context.Background(), "bad.csv", strings.NewReader(tt.content))
			if res.Success {
				t.Fatal("ingest succeeded on a headerless file")
			}
			if len(contents.records) != 0 {
				t.Errorf("content store has %d records, want 0", len(contents.records))
			}
		})
	}
}

func TestIngestSaveFailure(t *testing.T) {
	contents := &fakeContentStore{}
	uploads := &fakeLedger{}
	files := &diskFileStore{saveErr: errors.New("read-only filesystem")}
	svc := NewService(contents, uploads, files, Options{})

	res := svc.Ingest(context.Background(), "instruments.csv", strings.NewReader(sampleCSV))
	if res.Success {
		t.Fatal("ingest succeeded despite save failure")
	}
	if len(contents.records) != 0 {
		t.Errorf("content store has %d records, want 0", len(contents.records))
	}
}

func TestIngestRejectDuplicates(t *testing.T) {
	svc, contents, uploads := newTestService(t, Options{RejectDuplicates: true})

	first := svc.Ingest(context.Background(), "instruments.csv", strings.NewReader(sampleCSV))
	if !first.Success {
		t.Fatalf("first ingest failed: %s", first.Message)
	}

	second := svc.Ingest(context.Background(), "renamed.csv", strings.NewReader(sampleCSV))
	if second.Success {
		t.Fatal("second ingest of identical content succeeded")
	}
	if !strings.Contains(second.Message, "already ingested") {
		t.Errorf("message %q does not mention the duplicate", second.Message)
	}
	if len(contents.records) != 3 {
		t.Errorf("content store has %d records, want only the first upload's 3", len(contents.records))
	}
	if len(uploads.records) != 1 {
		t.Errorf("ledger has %d records, want 1", len(uploads.records))
	}
}

func TestIngestAllowsDuplicatesByDefault(t *testing.T) {
	svc, contents, _ := newTestService(t, Options{})

	for i := 0; i < 2; i++ {
		res := svc.Ingest(context.Background(), "instruments.csv", strings.NewReader(sampleCSV))
		if !res.Success {
			t.Fatalf("ingest %d failed: %s", i+1, res.Message)
		}
	}
	if len(contents.records) != 6 {
		t.Errorf("content store has %d records, want 6", len(contents.records))
	}
}

func TestIngestCustomBatchSize(t *testing.T) {
	svc, contents, _ := newTestService(t, Options{BatchSize: 2})

	res := svc.Ingest(context.Background(), "instruments.csv", strings.NewReader(sampleCSV))
	if !res.Success {
		t.Fatalf("ingest failed: %s", res.Message)
	}
	if len(contents.batchSizes) != 1 || contents.batchSizes[0] != 2 {
		t.Errorf("batch sizes = %v, want [2]", contents.batchSizes)
	}
}

func TestHistoryCachesAcrossFilters(t *testing.T) {
	svc, _, uploads := newTestService(t, Options{HistoryCacheTTL: time.Minute})
	uploads.records = []ledger.UploadRecord{
		{ID: "a", Name: "jan.csv", UploadedAt: time.Now().UTC()},
	}

	recs, err := svc.History(context.Background(), ledger.Filter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}

	// The cache key is fixed, so a different filter within the TTL still
	// returns the cached result without touching the ledger.
	name := "feb.csv"
	recs, err = svc.History(context.Background(), ledger.Filter{Name: &name})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "a" {
		t.Errorf("filtered call got %+v, want the cached unfiltered result", recs)
	}
	if uploads.findCalls != 1 {
		t.Errorf("ledger queried %d times, want 1", uploads.findCalls)
	}
}

func TestHistoryRecomputesAfterExpiry(t *testing.T) {
	svc, _, uploads := newTestService(t, Options{HistoryCacheTTL: 20 * time.Millisecond})

	if _, err := svc.History(context.Background(), ledger.Filter{}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := svc.History(context.Background(), ledger.Filter{}); err != nil {
		t.Fatal(err)
	}
	if uploads.findCalls != 2 {
		t.Errorf("ledger queried %d times, want 2", uploads.findCalls)
	}
}

func TestSearchRequiresFilter(t *testing.T) {
	svc, contents, _ := newTestService(t, Options{})

	res, err := svc.Search(context.Background(), store.ContentFilter{}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !res.NoFilter() {
		t.Fatal("empty filter did not produce the no-filter result")
	}
	if res.Message != NoFilterMessage {
		t.Errorf("message = %q", res.Message)
	}
	if contents.lastFilter.TckrSymb != nil || contents.lastFilter.RptDt != nil {
		t.Error("store was queried despite the empty filter")
	}
}

func TestSearchDelegatesToStore(t *testing.T) {
	svc, contents, _ := newTestService(t, Options{})
	sym := "PETR4"
	contents.page = &store.Page{
		Items:       []store.FileContent{{TckrSymb: &sym}},
		Total:       1,
		CurrentPage: 2,
		PerPage:     SearchPageSize,
	}

	res, err := svc.Search(context.Background(), store.ContentFilter{TckrSymb: &sym}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.NoFilter() {
		t.Fatal("got no-filter result for a real filter")
	}
	if res.Page.Total != 1 || res.Page.CurrentPage != 2 {
		t.Errorf("unexpected page: %+v", res.Page)
	}
	if contents.lastFilter.TckrSymb == nil || *contents.lastFilter.TckrSymb != "PETR4" {
		t.Errorf("filter not passed through: %+v", contents.lastFilter)
	}
}

func TestSearchPropagatesStoreError(t *testing.T) {
	svc, contents, _ := newTestService(t, Options{})
	contents.searchErr = errors.New("connection refused")

	sym := "PETR4"
	if _, err := svc.Search(context.Background(), store.ContentFilter{TckrSymb: &sym}, 1); err == nil {
		t.Fatal("expected store error to propagate")
	}
}
