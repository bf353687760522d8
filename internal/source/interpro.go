package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"seq_miner/internal/models"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/html/charset"
)

const (
	DefaultCatalogURL = "https://www.ebi.ac.uk/interpro/api/protein/UniProt/entry/InterPro"
	DefaultPageSize   = 100
	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	MaxHops     = 15
	maxErrorLen = 200
)

// RecordSource yields catalog pages until Page.Next comes back empty.
type RecordSource interface {
	InitialCursor() string
	FetchPage(ctx context.Context, cursor string) (*models.Page, error)
}

// ErrDisallowed is returned when robots.txt forbids the catalog path.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// FetchError is a failed catalog request. StatusCode is zero when the
// request never got a response.
type FetchError struct {
	StatusCode int
	URL        string
	Detail     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("fetch page %s: %v", e.URL, e.Err)
	}
	msg := fmt.Sprintf("fetch page %s: HTTP %d", e.URL, e.StatusCode)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

type Options struct {
	CatalogURL    string
	EntryID       string
	PageSize      int
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Client        *http.Client
}

// InterPro pages through the proteins of one InterPro entry.
type InterPro struct {
	catalogURL    string
	entryID       string
	pageSize      int
	userAgent     string
	respectRobots bool
	client        *http.Client

	robotsOnce  sync.Once
	robotsGroup *robotstxt.Group
}

func NewInterPro(opts Options) (*InterPro, error) {
	if strings.TrimSpace(opts.EntryID) == "" {
		return nil, errors.New("interpro: empty entry id")
	}
	if opts.PageSize < 0 {
		return nil, fmt.Errorf("interpro: page size must be positive, got %d", opts.PageSize)
	}
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.CatalogURL == "" {
		opts.CatalogURL = DefaultCatalogURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
				MaxIdleConns:      0,
			},
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxHops {
					return fmt.Errorf("stopped after %d redirects (MaxHops exceeded)", MaxHops)
				}
				return nil
			},
		}
	}

	return &InterPro{
		catalogURL:    strings.TrimRight(opts.CatalogURL, "/"),
		entryID:       opts.EntryID,
		pageSize:      opts.PageSize,
		userAgent:     opts.UserAgent,
		respectRobots: opts.RespectRobots,
		client:        client,
	}, nil
}

func (s *InterPro) InitialCursor() string {
	return fmt.Sprintf("%s/%s/?page_size=%d", s.catalogURL, url.PathEscape(s.entryID), s.pageSize)
}

func (s *InterPro) FetchPage(ctx context.Context, cursor string) (*models.Page, error) {
	if s.respectRobots {
		s.robotsOnce.Do(func() { s.initRobotsTxt(ctx, cursor) })
		if !s.isAllowedURL(cursor) {
			return nil, fmt.Errorf("fetch page %s: %w", cursor, ErrDisallowed)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cursor, nil)
	if err != nil {
		return nil, &FetchError{URL: cursor, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: cursor, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, URL: cursor, Err: err}
	}

	// InterPro answers 204 for an entry without proteins.
	if resp.StatusCode == http.StatusNoContent {
		return &models.Page{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			URL:        cursor,
			Detail:     errorDetail(resp.Header.Get("Content-Type"), body),
			Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	page, err := decodePage(body)
	if err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, URL: cursor, Err: err}
	}
	return page, nil
}

type catalogResponse struct {
	Count   int             `json:"count"`
	Next    *string         `json:"next"`
	Results []catalogResult `json:"results"`
}

type catalogResult struct {
	Metadata *catalogMetadata `json:"metadata"`
}

type catalogMetadata struct {
	Accession      string   `json:"accession"`
	Name           flexName `json:"name"`
	SourceOrganism struct {
		ScientificName string `json:"scientificName"`
	} `json:"source_organism"`
}

// flexName accepts both "name": "..." and "name": {"name": "..."}.
type flexName string

func (n *flexName) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = flexName(s)
		return nil
	}
	var obj struct {
		Name  string `json:"name"`
		Short string `json:"short"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Name == "" {
		obj.Name = obj.Short
	}
	*n = flexName(obj.Name)
	return nil
}

func decodePage(body []byte) (*models.Page, error) {
	var raw catalogResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode catalog page: %w", err)
	}

	page := &models.Page{
		Count:   raw.Count,
		Records: make([]models.CatalogRecord, 0, len(raw.Results)),
	}
	if raw.Next != nil {
		page.Next = *raw.Next
	}
	for _, r := range raw.Results {
		if r.Metadata == nil {
			log.Printf("⚠️ catalog result without metadata, skipping")
			continue
		}
		if r.Metadata.Accession == "" {
			log.Printf("⚠️ catalog result without accession, skipping")
			continue
		}
		page.Records = append(page.Records, models.CatalogRecord{
			Accession: r.Metadata.Accession,
			Name:      string(r.Metadata.Name),
			Organism:  r.Metadata.SourceOrganism.ScientificName,
		})
	}
	return page, nil
}

func errorDetail(contentType string, body []byte) string {
	if strings.Contains(strings.ToLower(contentType), "html") {
		var r io.Reader = bytes.NewReader(body)
		if utf8Reader, err := charset.NewReader(r, contentType); err == nil {
			r = utf8Reader
		}
		doc, err := goquery.NewDocumentFromReader(r)
		if err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				return title
			}
			body = []byte(doc.Find("body").Text())
		}
	}
	text := strings.Join(strings.Fields(string(body)), " ")
	if len(text) > maxErrorLen {
		text = text[:maxErrorLen] + "..."
	}
	return text
}

func (s *InterPro) initRobotsTxt(ctx context.Context, cursor string) {
	u, err := url.Parse(cursor)
	if err != nil || u.Host == "" {
		log.Printf("⚠️ can't parse URL for robots.txt: %s", cursor)
		return
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	log.Printf("🤖 Loading robots.txt: %s", robotsURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		log.Printf("⚠️ robots.txt request failed (ignored): %v", err)
		return
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("⚠️ robots.txt download failed (ignored): %v", err)
		return
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		log.Printf("⚠️ robots.txt parse failed (ignored): %v", err)
		return
	}

	s.robotsGroup = data.FindGroup(s.userAgent)
	log.Println("✅ robots.txt loaded")
}

func (s *InterPro) isAllowedURL(link string) bool {
	if s.robotsGroup == nil {
		return true
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return s.robotsGroup.Test(u.Path)
}
