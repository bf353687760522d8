/*
Package fasta reads the FASTA text served by UniProt and written by the
miner.

Headers start with '>'. Sequence lines are concatenated, blank lines and
surrounding whitespace are ignored, and residues are upper-cased. The only
characters accepted in a sequence are a-z, A-Z, '*' and '-'.
*/
package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// An Entry is one header line plus its residues joined into a single string.
type Entry struct {
	Header   string
	Sequence string
}

// Parse reads every entry in r.
func Parse(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		current *Entry
		seq     strings.Builder
		lineNo  int
	)
	flush := func() {
		if current != nil {
			current.Sequence = seq.String()
			entries = append(entries, *current)
			seq.Reset()
		}
	}

	buf := bufio.NewReader(r)
	for {
		line, err := buf.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		lineNo++
		line = bytes.TrimSpace(line)

		switch {
		case len(line) == 0:
		case line[0] == '>':
			flush()
			current = &Entry{Header: string(bytes.TrimSpace(line[1:]))}
		case current == nil:
			return nil, fmt.Errorf("line %d: expected '>', got '%c'", lineNo, line[0])
		default:
			for _, b := range line {
				nb, ok := translate(b)
				if !ok {
					return nil, fmt.Errorf("line %d: invalid character '%c'", lineNo, b)
				}
				seq.WriteByte(nb)
			}
		}

		if err == io.EOF {
			break
		}
	}
	flush()
	return entries, nil
}

// ParseString is Parse over an in-memory body.
func ParseString(s string) ([]Entry, error) {
	return Parse(strings.NewReader(s))
}

func translate(b byte) (byte, bool) {
	switch {
	case b >= 'a' && b <= 'z':
		return b - 'a' + 'A', true
	case b >= 'A' && b <= 'Z', b == '*', b == '-':
		return b, true
	}
	return 0, false
}

// CountFile returns the number of header lines in the FASTA file at path.
// Sequence lines are not validated.
func CountFile(path string) (int, error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer fh.Close()

	n := 0
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 && line[0] == '>' {
			n++
		}
	}
	return n, sc.Err()
}

// ReadOne reads a file that must hold exactly one entry.
func ReadOne(path string) (Entry, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer fh.Close()

	entries, err := Parse(fh)
	if err != nil {
		return Entry{}, fmt.Errorf("parse %s: %w", path, err)
	}
	switch len(entries) {
	case 0:
		return Entry{}, fmt.Errorf("no sequences found in '%s'", path)
	case 1:
		return entries[0], nil
	default:
		return Entry{}, fmt.Errorf("%d sequences found in '%s', expected only 1", len(entries), path)
	}
}
