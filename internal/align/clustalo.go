// Package align runs Clustal Omega over a mined FASTA file.
package align

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"seq_miner/internal/fasta"
	"strings"
)

const DefaultBinary = "clustalo"

// MinSequences is the smallest input an alignment makes sense for.
const MinSequences = 2

// InputError means the input cannot be aligned; the tool was not started.
type InputError struct {
	Path  string
	Count int
	Err   error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("alignment input %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("alignment input %s: need at least %d sequences, found %d", e.Path, MinSequences, e.Count)
}

func (e *InputError) Unwrap() error { return e.Err }

// ToolError means the aligner ran and failed.
type ToolError struct {
	Binary string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Binary, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + lastLine(out)
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

type ClustalOmega struct {
	Binary  string
	Verbose bool
}

func NewClustalOmega(binary string) *ClustalOmega {
	if binary == "" {
		binary = DefaultBinary
	}
	return &ClustalOmega{Binary: binary, Verbose: true}
}

func (c *ClustalOmega) args(input, output string) []string {
	args := []string{"-i", input, "-o", output, "--auto", "--force"}
	if c.Verbose {
		args = append(args, "-v")
	}
	return args
}

// Align checks that input holds at least two sequences and then runs the
// tool, overwriting output.
func (c *ClustalOmega) Align(ctx context.Context, input, output string) error {
	n, err := fasta.CountFile(input)
	if err != nil {
		return &InputError{Path: input, Err: err}
	}
	log.Printf("🧬 Found %d sequences to align in %s", n, input)
	if n < MinSequences {
		return &InputError{Path: input, Count: n}
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.args(input, output)...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	log.Printf("⚙️  Running %s...", c.Binary)
	if err := cmd.Run(); err != nil {
		return &ToolError{Binary: c.Binary, Output: buf.String(), Err: err}
	}
	if _, err := os.Stat(output); err != nil {
		return &ToolError{Binary: c.Binary, Output: buf.String(), Err: fmt.Errorf("no alignment written: %w", err)}
	}
	return nil
}

// Run is Align for callers that only need a success flag. Every failure is
// logged here.
func (c *ClustalOmega) Run(ctx context.Context, input, output string) bool {
	err := c.Align(ctx, input, output)
	if err == nil {
		log.Printf("✅ Alignment saved to %s", output)
		return true
	}

	var ie *InputError
	if errors.As(err, &ie) {
		log.Printf("❌ Not aligning: %v", err)
		return false
	}
	log.Printf("❌ Error during alignment: %v", err)
	return false
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
