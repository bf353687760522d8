package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"seq_miner/internal/align"
	"syscall"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
)

func main() {
	binary := flag.String("binary", align.DefaultBinary, "Clustal Omega executable")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [input] [output]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	input, output := "clustered_seq_rep_seq.fasta", "aligned_clustered_sequences.fasta"
	if flag.NArg() > 0 {
		input = flag.Arg(0)
	}
	if flag.NArg() > 1 {
		output = flag.Arg(1)
	}

	if _, err := os.Stat(input); err != nil {
		log.Printf("❌ Input file %s not found", input)
		os.Exit(ExitFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("📖 Reading sequences from %s", input)
	if !align.NewClustalOmega(*binary).Run(ctx, input, output) {
		stop()
		os.Exit(ExitFailure)
	}
}
