package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"seq_miner/internal/align"
	"seq_miner/internal/config"
	"seq_miner/internal/db"
	"seq_miner/internal/fetcher"
	"seq_miner/internal/models"
	"seq_miner/internal/pacer"
	"seq_miner/internal/source"
	"syscall"
)

// ErrAlignFailed is returned by Run when mining succeeded but the
// alignment step did not.
var ErrAlignFailed = errors.New("alignment failed")

// MinerApp wires the configured collaborators into a Pipeline.
type MinerApp struct {
	config    *config.MinerConfig
	db        *db.MongoDB
	pipeline  *Pipeline
	aligner   *align.ClustalOmega
	reference *string
}

func NewMinerApp(ctx context.Context, cfg *config.MinerConfig) (*MinerApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	reference, err := cfg.Reference()
	if err != nil {
		return nil, err
	}

	src, err := source.NewInterPro(source.Options{
		CatalogURL:    cfg.Source.CatalogURL,
		EntryID:       cfg.Source.EntryID,
		PageSize:      cfg.Source.PageSize,
		UserAgent:     cfg.Source.UserAgent,
		RespectRobots: cfg.Source.RespectRobots,
		Timeout:       cfg.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	seqFetcher := fetcher.NewUniProt(fetcher.Options{
		SequenceURL: cfg.Source.SequenceURL,
		Format:      cfg.Source.Format,
		UserAgent:   cfg.Source.UserAgent,
		Timeout:     cfg.Timeout(),
	})

	opts := []Option{WithWorkers(cfg.Logic.MaxConcurrentWorkers)}

	miner := &MinerApp{
		config:    cfg,
		reference: reference,
		aligner:   align.NewClustalOmega(cfg.Align.Binary),
	}

	if cfg.DB.Enabled() {
		mongoDB, err := db.NewMongoDB(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		miner.db = mongoDB
		opts = append(opts, WithRecorder(mongoDB))
	}

	miner.pipeline = NewPipeline(src, seqFetcher, pacer.NewInterval(cfg.Delay(), nil, nil), opts...)
	return miner, nil
}

func (a *MinerApp) Params() RunParams {
	return RunParams{
		EntryID:      a.config.Source.EntryID,
		OutputPath:   a.config.OutputPath(),
		PageSize:     a.config.Source.PageSize,
		Reference:    a.reference,
		Window:       a.config.Window(),
		MaxSequences: a.config.Source.MaxSequences,
	}
}

// Run mines the configured entry and, when enabled, aligns the result.
// SIGINT/SIGTERM stop the run; the output written so far is kept.
func (a *MinerApp) Run(ctx context.Context) (models.PipelineSummary, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := a.Params()
	log.Printf("🚀 Fetching sequences for InterPro entry %s...", params.EntryID)
	log.Printf("⚙️  Delay between pages: %d ms", a.config.Logic.DelayMS)
	if params.MaxSequences > 0 {
		log.Printf("⚙️  Will fetch at most %d sequences", params.MaxSequences)
	}

	summary, err := a.pipeline.Run(ctx, params)
	a.logSummary(ctx, params, summary)
	if err != nil {
		return summary, err
	}

	if a.config.Align.Enabled && !summary.Empty() {
		if !a.aligner.Run(ctx, params.OutputPath, a.config.AlignOutput()) {
			return summary, ErrAlignFailed
		}
	}
	return summary, nil
}

func (a *MinerApp) logSummary(ctx context.Context, params RunParams, summary models.PipelineSummary) {
	if summary.Empty() {
		log.Println("⚠️  No sequences were retrieved")
		return
	}
	log.Printf("📊 Total sequences processed: %d (skipped %d, pages %d)", summary.Fetched, summary.Skipped, summary.Pages)
	if filterActive(params.Reference, params.Window) {
		log.Printf("📊 Sequences within distance range: %d", summary.Kept)
	}
	log.Printf("💾 Sequences saved to: %s", params.OutputPath)

	if a.db != nil {
		stats, err := a.db.GetEntryStats(context.WithoutCancel(ctx), params.EntryID)
		if err != nil {
			log.Printf("⚠️ Can't read stats for %s: %v", params.EntryID, err)
			return
		}
		log.Printf("📁 Stored sequences for %s: %v", params.EntryID, stats)
	}
}

func (a *MinerApp) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
