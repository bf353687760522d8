package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"seq_miner/internal/fetcher"
	"seq_miner/internal/models"
	"seq_miner/internal/pacer"
	"seq_miner/internal/sink"
	"seq_miner/internal/source"
	urlqueue "seq_miner/internal/url_queue"
	"time"

	"golang.org/x/sync/errgroup"
)

// Recorder receives kept sequences and the outcome of each run. Its errors
// are logged and never stop the pipeline.
type Recorder interface {
	SaveSequence(ctx context.Context, doc *models.SequenceDocument) error
	SaveRunHistory(ctx context.Context, history *models.RunHistory) error
}

type RunParams struct {
	EntryID      string
	OutputPath   string
	PageSize     int
	Reference    *string
	Window       models.FilterWindow
	MaxSequences int
}

// Pipeline pages through a RecordSource, fetches every sequence, filters it
// against the reference and streams the kept ones to a FASTA file.
type Pipeline struct {
	source   source.RecordSource
	fetcher  fetcher.SequenceFetcher
	pacer    pacer.Pacer
	recorder Recorder
	workers  int
	now      func() time.Time
}

type Option func(*Pipeline)

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithWorkers fetches up to n sequences of a page concurrently. Records are
// still filtered and written in page order.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(src source.RecordSource, f fetcher.SequenceFetcher, pc pacer.Pacer, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:  src,
		fetcher: f,
		pacer:   pc,
		workers: 1,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type fetchResult struct {
	entry *models.SequenceEntry
	err   error
}

// Run executes one pass over the catalog. A page fetch failure ends the
// run with StateFailed and the error; whatever was written stays on disk
// and the summary holds the counts reached so far.
func (p *Pipeline) Run(ctx context.Context, params RunParams) (summary models.PipelineSummary, err error) {
	started := p.now()
	summary.State = models.StateIdle

	out, err := sink.Open(params.OutputPath)
	if err != nil {
		summary.State = models.StateFailed
		return summary, err
	}
	queue := urlqueue.NewCursorQueue()
	defer func() {
		log.Printf("📦 %d records written to %s from %d distinct page cursors", out.Written(), params.OutputPath, queue.Seen())
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
			summary.State = models.StateFailed
		}
		p.recordRun(ctx, params, summary, started, err)
	}()

	filtering := filterActive(params.Reference, params.Window)
	if filtering {
		log.Printf("🔬 Filtering by edit distance: reference length %d, window %s", len(*params.Reference), windowString(params.Window))
	}

	queue.Add(p.source.InitialCursor())

	for {
		cursor, ok := queue.Get()
		if !ok {
			break
		}
		if capReached(summary, params) {
			log.Printf("🛑 Reached max_sequences=%d, stopping", params.MaxSequences)
			break
		}

		if err := p.pacer.Wait(ctx); err != nil {
			summary.State = models.StateFailed
			return summary, err
		}

		summary.State = models.StateFetching
		log.Printf("📄 Fetching page %d...", summary.Pages+1)
		page, err := p.source.FetchPage(ctx, cursor)
		if err != nil {
			var fe *source.FetchError
			if errors.As(err, &fe) && fe.StatusCode != 0 {
				log.Printf("❌ Failed to fetch page. Status code: %d", fe.StatusCode)
				log.Printf("❌ URL attempted: %s", fe.URL)
			} else {
				log.Printf("❌ Failed to fetch page %s: %v", cursor, err)
			}
			summary.State = models.StateFailed
			return summary, err
		}
		summary.Pages++
		if summary.Pages == 1 {
			summary.Total = page.Count
			log.Printf("📊 Total entries found: %d", page.Count)
		}

		if err := p.processPage(ctx, page.Records, params, filtering, &summary, out); err != nil {
			summary.State = models.StateFailed
			return summary, err
		}

		if page.Next != "" && !queue.Add(page.Next) {
			log.Printf("⚠️ Catalog returned an already visited cursor, stopping: %s", page.Next)
		}
	}

	summary.State = models.StateDone
	return summary, nil
}

func (p *Pipeline) processPage(ctx context.Context, records []models.CatalogRecord, params RunParams, filtering bool, summary *models.PipelineSummary, out *sink.FileSink) error {
	var prefetched []fetchResult
	if p.workers > 1 && len(records) > 1 {
		prefetched = p.fetchConcurrently(ctx, records)
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if capReached(*summary, params) {
			return nil
		}

		var res fetchResult
		if prefetched != nil {
			res = prefetched[i]
		} else {
			res.entry, res.err = p.fetcher.FetchSequence(ctx, rec.Accession)
		}
		if res.err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			summary.Skipped++
			log.Printf("⚠️ Skipping %s: %v", rec.Accession, res.err)
			continue
		}
		if res.entry == nil {
			summary.Skipped++
			log.Printf("⚠️ Skipping %s: no sequence returned", rec.Accession)
			continue
		}

		summary.Fetched++
		keep, dist := evaluate(params.Reference, params.Window, res.entry.Residues)
		if !keep {
			log.Printf("🚫 Discarded %s (distance=%d)", rec.Accession, *dist)
			continue
		}

		if err := out.Write(res.entry.RawText); err != nil {
			return fmt.Errorf("write %s: %w", rec.Accession, err)
		}
		summary.Kept++

		if filtering {
			log.Printf("✅ Retrieved and kept sequence %d (distance=%d): %s", summary.Kept, *dist, rec.Accession)
		} else {
			log.Printf("✅ Retrieved sequence %d: %s - %s (%s)", summary.Fetched, rec.Accession, rec.Name, rec.Organism)
		}

		p.recordSequence(ctx, params.EntryID, rec, res.entry, dist)
	}
	return nil
}

// fetchConcurrently fetches a whole page with at most p.workers requests in
// flight. Results keep the page order.
func (p *Pipeline) fetchConcurrently(ctx context.Context, records []models.CatalogRecord) []fetchResult {
	results := make([]fetchResult, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, rec := range records {
		g.Go(func() error {
			results[i].entry, results[i].err = p.fetcher.FetchSequence(gctx, rec.Accession)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func capReached(s models.PipelineSummary, params RunParams) bool {
	return params.MaxSequences > 0 && s.Fetched >= params.MaxSequences
}

func (p *Pipeline) recordSequence(ctx context.Context, entryID string, rec models.CatalogRecord, entry *models.SequenceEntry, dist *int) {
	if p.recorder == nil {
		return
	}
	now := p.now().Unix()
	doc := &models.SequenceDocument{
		ID:           rec.Accession,
		Accession:    rec.Accession,
		EntryID:      entryID,
		Name:         rec.Name,
		Organism:     rec.Organism,
		Header:       entry.Header,
		Residues:     entry.Residues,
		Length:       len(entry.Residues),
		Distance:     dist,
		ContentHash:  urlqueue.ComputeContentHash(entry.RawText),
		FirstScraped: now,
		LastScraped:  now,
	}
	if err := p.recorder.SaveSequence(ctx, doc); err != nil {
		log.Printf("❌ Error saving sequence %s: %v", rec.Accession, err)
	}
}

func (p *Pipeline) recordRun(ctx context.Context, params RunParams, summary models.PipelineSummary, started time.Time, runErr error) {
	if p.recorder == nil {
		return
	}
	finished := p.now()
	history := &models.RunHistory{
		ID:         fmt.Sprintf("%s-%d", params.EntryID, started.UnixNano()),
		EntryID:    params.EntryID,
		OutputPath: params.OutputPath,
		Status:     summary.State.String(),
		Fetched:    summary.Fetched,
		Kept:       summary.Kept,
		Skipped:    summary.Skipped,
		Pages:      summary.Pages,
		Total:      summary.Total,
		StartedAt:  started.Unix(),
		FinishedAt: finished.Unix(),
		Duration:   int(finished.Sub(started).Milliseconds()),
	}
	if runErr != nil {
		history.ErrorMessage = runErr.Error()
	}
	// The run context may already be cancelled; history is still worth keeping.
	if err := p.recorder.SaveRunHistory(context.WithoutCancel(ctx), history); err != nil {
		log.Printf("❌ Error saving run history: %v", err)
	}
}

func windowString(w models.FilterWindow) string {
	lo, hi := "-", "-"
	if w.MinDistance != nil {
		lo = fmt.Sprint(*w.MinDistance)
	}
	if w.MaxDistance != nil {
		hi = fmt.Sprint(*w.MaxDistance)
	}
	return "[" + lo + ", " + hi + "]"
}
