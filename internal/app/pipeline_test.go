package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"seq_miner/internal/fasta"
	"seq_miner/internal/fetcher"
	"seq_miner/internal/models"
	"seq_miner/internal/source"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubSource struct {
	pages  [][]string
	failAt int // page index answering with a FetchError, -1 for none
	loop   bool
	calls  []string
}

func (s *stubSource) InitialCursor() string { return "page-0" }

func (s *stubSource) FetchPage(_ context.Context, cursor string) (*models.Page, error) {
	s.calls = append(s.calls, cursor)
	var idx int
	if _, err := fmt.Sscanf(cursor, "page-%d", &idx); err != nil {
		return nil, err
	}
	if idx == s.failAt {
		return nil, &source.FetchError{StatusCode: 500, URL: cursor, Err: errors.New("HTTP 500")}
	}
	page := &models.Page{Count: s.total()}
	for _, acc := range s.pages[idx] {
		page.Records = append(page.Records, models.CatalogRecord{Accession: acc, Name: "name " + acc, Organism: "Homo sapiens"})
	}
	switch {
	case s.loop:
		page.Next = "page-0"
	case idx+1 < len(s.pages):
		page.Next = fmt.Sprintf("page-%d", idx+1)
	}
	return page, nil
}

func (s *stubSource) total() int {
	n := 0
	for _, p := range s.pages {
		n += len(p)
	}
	return n
}

type stubFetcher struct {
	mu       sync.Mutex
	seqs     map[string]string
	fail     map[string]bool
	calls    []string
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (f *stubFetcher) FetchSequence(ctx context.Context, acc string) (*models.SequenceEntry, error) {
	f.mu.Lock()
	f.calls = append(f.calls, acc)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.fail[acc] {
		return nil, fmt.Errorf("%w: %s: HTTP 404", fetcher.ErrSequenceFetch, acc)
	}
	residues, ok := f.seqs[acc]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unknown", fetcher.ErrSequenceFetch, acc)
	}
	return &models.SequenceEntry{
		Header:   "sp|" + acc + "|TEST",
		Residues: residues,
		RawText:  ">sp|" + acc + "|TEST\n" + residues + "\n",
	}, nil
}

type countingPacer struct{ waits int }

func (p *countingPacer) Wait(ctx context.Context) error {
	p.waits++
	return ctx.Err()
}

type memRecorder struct {
	docs    []*models.SequenceDocument
	history []*models.RunHistory
}

func (r *memRecorder) SaveSequence(_ context.Context, doc *models.SequenceDocument) error {
	r.docs = append(r.docs, doc)
	return nil
}

func (r *memRecorder) SaveRunHistory(_ context.Context, h *models.RunHistory) error {
	r.history = append(r.history, h)
	return nil
}

func intp(v int) *int { return &v }

func strp(s string) *string { return &s }

func outPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "out.fasta")
}

func readAccessions(t *testing.T, path string) []string {
	t.Helper()
	fh, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer fh.Close()
	entries, err := fasta.Parse(fh)
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	var accs []string
	for _, e := range entries {
		accs = append(accs, strings.Split(e.Header, "|")[1])
	}
	return accs
}

func threeSequences() (*stubSource, *stubFetcher) {
	src := &stubSource{pages: [][]string{{"P1", "P2"}, {"P3"}}, failAt: -1}
	f := &stubFetcher{seqs: map[string]string{"P1": "MKVLA", "P2": "MKVLL", "P3": "MKAAA"}}
	return src, f
}

func TestRunUnfilteredKeepsAllInOrder(t *testing.T) {
	src, f := threeSequences()
	pc := &countingPacer{}
	path := outPath(t)

	summary, err := NewPipeline(src, f, pc).Run(context.Background(), RunParams{EntryID: "IPR1", OutputPath: path, PageSize: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Fetched != 3 || summary.Kept != 3 || summary.Pages != 2 || summary.Total != 3 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.State != models.StateDone {
		t.Fatalf("state = %v", summary.State)
	}
	if got := strings.Join(readAccessions(t, path), ","); got != "P1,P2,P3" {
		t.Fatalf("output order = %s", got)
	}
	if pc.waits != 2 {
		t.Fatalf("pacer waits = %d, want one per page", pc.waits)
	}
}

func TestRunExactMatchWindow(t *testing.T) {
	src := &stubSource{pages: [][]string{{"A", "B", "C"}}, failAt: -1}
	f := &stubFetcher{seqs: map[string]string{"A": "AAAA", "B": "AAAB", "C": "BBBB"}}
	path := outPath(t)

	summary, err := NewPipeline(src, f, &countingPacer{}).Run(context.Background(), RunParams{
		OutputPath: path,
		Reference:  strp("AAAA"),
		Window:     models.FilterWindow{MaxDistance: intp(0)},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Fetched != 3 || summary.Kept != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := readAccessions(t, path); len(got) != 1 || got[0] != "A" {
		t.Fatalf("kept = %v", got)
	}
}

func TestRunWindowBounds(t *testing.T) {
	seqs := map[string]string{"A": "AAAA", "B": "AAAB", "C": "AABB", "D": "BBBB"}
	cases := []struct {
		name   string
		ref    *string
		window models.FilterWindow
		want   string
	}{
		{"min and max", strp("AAAA"), models.FilterWindow{MinDistance: intp(1), MaxDistance: intp(2)}, "B,C"},
		{"max only", strp("AAAA"), models.FilterWindow{MaxDistance: intp(1)}, "A,B"},
		{"min only disables filtering", strp("AAAA"), models.FilterWindow{MinDistance: intp(3)}, "A,B,C,D"},
		{"no reference", nil, models.FilterWindow{MaxDistance: intp(0)}, "A,B,C,D"},
		{"empty reference", strp(""), models.FilterWindow{MaxDistance: intp(0)}, "A,B,C,D"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			src := &stubSource{pages: [][]string{{"A", "B", "C", "D"}}, failAt: -1}
			path := outPath(t)
			summary, err := NewPipeline(src, &stubFetcher{seqs: seqs}, &countingPacer{}).Run(context.Background(), RunParams{
				OutputPath: path,
				Reference:  c.ref,
				Window:     c.window,
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := strings.Join(readAccessions(t, path), ","); got != c.want {
				t.Fatalf("kept = %s, want %s", got, c.want)
			}
			if summary.Fetched != 4 || summary.Kept != strings.Count(c.want, ",")+1 {
				t.Fatalf("summary = %+v", summary)
			}
		})
	}
}

func TestRunPageFailureKeepsWrittenOutput(t *testing.T) {
	src, f := threeSequences()
	src.failAt = 1
	path := outPath(t)

	summary, err := NewPipeline(src, f, &countingPacer{}).Run(context.Background(), RunParams{OutputPath: path})
	var fe *source.FetchError
	if !errors.As(err, &fe) || fe.URL != "page-1" || fe.StatusCode != 500 {
		t.Fatalf("err = %v, want FetchError for page-1", err)
	}
	if summary.State != models.StateFailed {
		t.Fatalf("state = %v", summary.State)
	}
	if summary.Fetched != 2 || summary.Kept != 2 || summary.Pages != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := strings.Join(readAccessions(t, path), ","); got != "P1,P2" {
		t.Fatalf("output = %s", got)
	}
}

func TestRunSequenceFailureIsSkipped(t *testing.T) {
	src := &stubSource{pages: [][]string{{"P1", "BAD", "P2"}, {"P3"}}, failAt: -1}
	f := &stubFetcher{
		seqs: map[string]string{"P1": "MK", "P2": "ML", "P3": "MN"},
		fail: map[string]bool{"BAD": true},
	}
	path := outPath(t)

	summary, err := NewPipeline(src, f, &countingPacer{}).Run(context.Background(), RunParams{OutputPath: path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Fetched != 3 || summary.Kept != 3 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := strings.Join(f.calls, ","); got != "P1,BAD,P2,P3" {
		t.Fatalf("fetch calls = %s", got)
	}
	if got := strings.Join(readAccessions(t, path), ","); got != "P1,P2,P3" {
		t.Fatalf("output = %s", got)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	run := func(workers int) []byte {
		src, f := threeSequences()
		path := outPath(t)
		if _, err := NewPipeline(src, f, &countingPacer{}, WithWorkers(workers)).Run(context.Background(), RunParams{
			OutputPath: path,
			Reference:  strp("MKVLA"),
			Window:     models.FilterWindow{MaxDistance: intp(1)},
		}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	first, second := run(1), run(1)
	if string(first) != string(second) {
		t.Fatalf("outputs differ:\n%s\n---\n%s", first, second)
	}
	if want := ">sp|P1|TEST\nMKVLA\n>sp|P2|TEST\nMKVLL\n"; string(first) != want {
		t.Fatalf("output = %q, want %q", first, want)
	}
	if parallel := run(4); string(parallel) != string(first) {
		t.Fatalf("parallel output differs:\n%s", parallel)
	}
}

func TestRunParallelFetchKeepsPageOrder(t *testing.T) {
	accs := []string{"Q1", "Q2", "Q3", "Q4", "Q5", "Q6"}
	src := &stubSource{pages: [][]string{accs}, failAt: -1}
	f := &stubFetcher{seqs: map[string]string{}, fail: map[string]bool{"Q3": true}, delay: 20 * time.Millisecond}
	for _, a := range accs {
		f.seqs[a] = "MK"
	}
	path := outPath(t)

	summary, err := NewPipeline(src, f, &countingPacer{}, WithWorkers(3)).Run(context.Background(), RunParams{OutputPath: path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Fetched != 5 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := strings.Join(readAccessions(t, path), ","); got != "Q1,Q2,Q4,Q5,Q6" {
		t.Fatalf("output = %s", got)
	}
	if f.maxSeen > 3 {
		t.Fatalf("max in-flight fetches = %d, limit 3", f.maxSeen)
	}
}

func TestRunMaxSequences(t *testing.T) {
	src, f := threeSequences()
	pc := &countingPacer{}
	path := outPath(t)

	summary, err := NewPipeline(src, f, pc).Run(context.Background(), RunParams{OutputPath: path, MaxSequences: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Fetched != 2 || summary.Pages != 1 || summary.State != models.StateDone {
		t.Fatalf("summary = %+v", summary)
	}
	if len(src.calls) != 1 {
		t.Fatalf("page calls = %v, want only the first page", src.calls)
	}
}

func TestRunStopsOnCursorLoop(t *testing.T) {
	src := &stubSource{pages: [][]string{{"P1"}}, failAt: -1, loop: true}
	f := &stubFetcher{seqs: map[string]string{"P1": "MK"}}
	summary, err := NewPipeline(src, f, &countingPacer{}).Run(context.Background(), RunParams{OutputPath: outPath(t)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Pages != 1 || summary.State != models.StateDone {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunCancelled(t *testing.T) {
	src, f := threeSequences()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := outPath(t)
	summary, err := NewPipeline(src, f, &countingPacer{}).Run(ctx, RunParams{OutputPath: path})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if summary.State != models.StateFailed || summary.Fetched != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("output not created: %v", statErr)
	}
}

func TestRunEmptyCatalog(t *testing.T) {
	src := &stubSource{pages: [][]string{{}}, failAt: -1}
	path := outPath(t)
	if err := os.WriteFile(path, []byte(">stale\nAAAA\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	summary, err := NewPipeline(src, &stubFetcher{}, &countingPacer{}).Run(context.Background(), RunParams{OutputPath: path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Empty() || summary.State != models.StateDone {
		t.Fatalf("summary = %+v", summary)
	}
	data, _ := os.ReadFile(path)
	if len(data) != 0 {
		t.Fatalf("output not truncated: %q", data)
	}
}

func TestRunSinkOpenError(t *testing.T) {
	src, f := threeSequences()
	summary, err := NewPipeline(src, f, &countingPacer{}).Run(context.Background(), RunParams{
		OutputPath: filepath.Join(t.TempDir(), "missing", "out.fasta"),
	})
	if err == nil || summary.State != models.StateFailed {
		t.Fatalf("err = %v, summary = %+v", err, summary)
	}
	if len(src.calls) != 0 {
		t.Fatalf("catalog fetched without a sink")
	}
}

func TestRunRecordsKeptSequencesAndHistory(t *testing.T) {
	src, f := threeSequences()
	src.failAt = 1
	rec := &memRecorder{}
	clock := time.Unix(1700000000, 0)

	_, err := NewPipeline(src, f, &countingPacer{}, WithRecorder(rec), WithClock(func() time.Time { return clock })).Run(context.Background(), RunParams{
		EntryID:    "IPR033966",
		OutputPath: outPath(t),
		Reference:  strp("MKVLA"),
		Window:     models.FilterWindow{MaxDistance: intp(5)},
	})
	if err == nil {
		t.Fatalf("expected page failure")
	}

	if len(rec.docs) != 2 {
		t.Fatalf("docs = %d, want 2", len(rec.docs))
	}
	d := rec.docs[1]
	if d.Accession != "P2" || d.EntryID != "IPR033966" || d.Distance == nil || *d.Distance != 1 || d.Length != 5 {
		t.Fatalf("doc = %+v", d)
	}
	if d.ContentHash == "" || d.LastScraped != clock.Unix() {
		t.Fatalf("doc = %+v", d)
	}

	if len(rec.history) != 1 {
		t.Fatalf("history = %d entries", len(rec.history))
	}
	h := rec.history[0]
	if h.Status != "failed" || h.Kept != 2 || !strings.Contains(h.ErrorMessage, "page-1") {
		t.Fatalf("history = %+v", h)
	}
}

func TestEvaluate(t *testing.T) {
	keep, dist := evaluate(strp("KITTEN"), models.FilterWindow{MaxDistance: intp(3)}, "SITTING")
	if !keep || dist == nil || *dist != 3 {
		t.Fatalf("evaluate = %v, %v", keep, dist)
	}
	keep, dist = evaluate(strp("KITTEN"), models.FilterWindow{MaxDistance: intp(2)}, "SITTING")
	if keep || *dist != 3 {
		t.Fatalf("evaluate = %v, %v", keep, *dist)
	}
	keep, dist = evaluate(nil, models.FilterWindow{}, "SITTING")
	if !keep || dist != nil {
		t.Fatalf("evaluate without filter = %v, %v", keep, dist)
	}
	if got := windowString(models.FilterWindow{MaxDistance: intp(4)}); got != "[-, 4]" {
		t.Fatalf("windowString = %q", got)
	}
}
