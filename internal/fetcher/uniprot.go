package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"seq_miner/internal/fasta"
	"seq_miner/internal/models"
	"strings"
	"time"

	"github.com/gocolly/colly"
)

const (
	DefaultSequenceURL = "https://rest.uniprot.org/uniprotkb"
	DefaultFormat      = "fasta"
)

// SequenceFetcher retrieves the sequence behind one accession.
type SequenceFetcher interface {
	FetchSequence(ctx context.Context, accession string) (*models.SequenceEntry, error)
}

// ErrSequenceFetch marks a per-accession failure. Callers skip the record
// and keep going.
var ErrSequenceFetch = errors.New("sequence fetch failed")

type Options struct {
	SequenceURL string
	Format      string
	UserAgent   string
	Timeout     time.Duration
}

// UniProt downloads FASTA records from the UniProtKB REST API.
type UniProt struct {
	collector   *colly.Collector
	sequenceURL string
	format      string
}

func NewUniProt(opts Options) *UniProt {
	if opts.SequenceURL == "" {
		opts.SequenceURL = DefaultSequenceURL
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat
	}

	options := []func(*colly.Collector){colly.AllowURLRevisit()}
	if opts.UserAgent != "" {
		options = append(options, colly.UserAgent(opts.UserAgent))
	}
	c := colly.NewCollector(options...)
	if opts.Timeout > 0 {
		c.SetRequestTimeout(opts.Timeout)
	}

	return &UniProt{
		collector:   c,
		sequenceURL: strings.TrimRight(opts.SequenceURL, "/"),
		format:      opts.Format,
	}
}

func (u *UniProt) URLFor(accession string) string {
	return fmt.Sprintf("%s/%s.%s", u.sequenceURL, url.PathEscape(accession), u.format)
}

// FetchSequence issues one request for accession. Every failure wraps
// ErrSequenceFetch, except cancellation which returns ctx.Err().
func (u *UniProt) FetchSequence(ctx context.Context, accession string) (*models.SequenceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		body   []byte
		status int
	)
	c := u.collector.Clone()
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/plain")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	// colly v1 requests carry no context; the visit is abandoned on
	// cancellation and finishes on its own within the request timeout.
	target := u.URLFor(accession)
	done := make(chan error, 1)
	go func() { done <- c.Visit(target) }()

	var err error
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err = <-done:
	}
	if err != nil {
		if status != 0 {
			return nil, fmt.Errorf("%w: %s: HTTP %d from %s", ErrSequenceFetch, accession, status, target)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSequenceFetch, accession, err)
	}

	raw := string(body)
	entries, err := fasta.ParseString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSequenceFetch, accession, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s: no FASTA entries in response", ErrSequenceFetch, accession)
	}

	return &models.SequenceEntry{
		Header:   entries[0].Header,
		Residues: entries[0].Sequence,
		RawText:  raw,
	}, nil
}
