package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"seq_miner/internal/app"
	"seq_miner/internal/config"
	"seq_miner/internal/source"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	entryID := flag.String("entry", "", "InterPro entry id (overrides source.entry_id)")
	output := flag.String("out", "", "output FASTA path (overrides output.path)")
	alignAfter := flag.Bool("align", false, "run Clustal Omega on the output afterwards")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("❌ Can't load config %s: %v", *configPath, err)
	}
	if *entryID != "" {
		cfg.Source.EntryID = *entryID
	}
	if *output != "" {
		cfg.Output.Path = *output
	}
	if *alignAfter {
		cfg.Align.Enabled = true
	}

	miner, err := app.NewMinerApp(context.Background(), cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	summary, err := miner.Run(context.Background())
	if cerr := miner.Close(); cerr != nil {
		log.Printf("⚠️ Error closing MongoDB: %v", cerr)
	}

	var fe *source.FetchError
	switch {
	case errors.As(err, &fe):
		log.Printf("❌ Stopped after %d pages: %v", summary.Pages, err)
		os.Exit(ExitFailure)
	case err != nil:
		log.Printf("❌ %v", err)
		os.Exit(ExitFailure)
	case summary.Empty():
		os.Exit(ExitFailure)
	}

	log.Println("Miner successfully run")
	os.Exit(ExitSuccess)
}
