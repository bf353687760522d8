package models

// CatalogRecord is one protein entry listed on an InterPro catalog page.
type CatalogRecord struct {
	Accession string
	Name      string
	Organism  string
}

// SequenceEntry is the FASTA text fetched for one accession.
type SequenceEntry struct {
	Header   string
	Residues string
	RawText  string
}

// FilterWindow bounds the edit distance to the reference sequence.
// Both bounds are inclusive. Filtering only applies when MaxDistance is set.
type FilterWindow struct {
	MinDistance *int
	MaxDistance *int
}

type Page struct {
	Records []CatalogRecord
	Next    string
	Count   int
}

type RunState int

const (
	StateIdle RunState = iota
	StateFetching
	StateDone
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

type PipelineSummary struct {
	Fetched int
	Kept    int
	Skipped int
	Pages   int
	Total   int
	State   RunState
}

// Empty reports whether no sequence was retrieved at all.
func (s PipelineSummary) Empty() bool {
	return s.Fetched == 0
}

type SequenceDocument struct {
	ID           string `bson:"_id"`
	Accession    string `bson:"accession"`
	EntryID      string `bson:"entry_id"`
	Name         string `bson:"name"`
	Organism     string `bson:"organism"`
	Header       string `bson:"header"`
	Residues     string `bson:"residues"`
	Length       int    `bson:"length"`
	Distance     *int   `bson:"distance,omitempty"`
	ContentHash  string `bson:"content_hash"`
	FirstScraped int64  `bson:"first_scraped"`
	LastScraped  int64  `bson:"last_scraped"`
	ScrapedCount int    `bson:"scraped_count"`
}

type RunHistory struct {
	ID           string `bson:"_id"`
	EntryID      string `bson:"entry_id"`
	OutputPath   string `bson:"output_path"`
	Status       string `bson:"status"` // done, failed
	Fetched      int    `bson:"fetched"`
	Kept         int    `bson:"kept"`
	Skipped      int    `bson:"skipped"`
	Pages        int    `bson:"pages"`
	Total        int    `bson:"total"`
	StartedAt    int64  `bson:"started_at"`
	FinishedAt   int64  `bson:"finished_at"`
	Duration     int    `bson:"duration_ms"`
	ErrorMessage string `bson:"error_message,omitempty"`
}
