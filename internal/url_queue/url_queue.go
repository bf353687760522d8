package urlqueue

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// CursorQueue holds the page cursors of one run. A cursor that was already
// queued is refused, which stops a catalog that keeps handing back the same
// "next" link from looping forever.
type CursorQueue struct {
	URLs  map[string]bool
	Queue []string
	mu    sync.Mutex
}

func NewCursorQueue() *CursorQueue {
	return &CursorQueue{
		URLs:  make(map[string]bool),
		Queue: make([]string, 0, 1),
	}
}

func (q *CursorQueue) Add(cursor string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	normalized := NormalizeURL(cursor)
	if q.URLs[normalized] {
		return false
	}
	q.URLs[normalized] = true
	q.Queue = append(q.Queue, cursor)
	return true
}

func (q *CursorQueue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.Queue) == 0 {
		return "", false
	}
	cursor := q.Queue[0]
	q.Queue = q.Queue[1:]
	return cursor, true
}

// Seen is the number of distinct cursors ever queued.
func (q *CursorQueue) Seen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.URLs)
}

// NormalizeURL drops the fragment and a leading "www." and sorts the query
// so that equivalent cursors compare equal.
func NormalizeURL(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}

	parsed.Fragment = ""
	parsed.Host = strings.TrimPrefix(parsed.Host, "www.")

	if parsed.Scheme == "" && parsed.Host != "" {
		parsed.Scheme = "https"
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = parsed.Query().Encode()
	}

	return parsed.String()
}

func ComputeContentHash(content string) string {
	hash := md5.Sum([]byte(content))
	return fmt.Sprintf("%x", hash)
}
