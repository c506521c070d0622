// Package market defines the types shared by the quote retrieval pipeline:
// candidate links, the recency window, per-item outcomes and run reports.
package market

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// ArchiveSuffix is appended to the trailing path segment of a link to name
// the downloaded artifact.
const ArchiveSuffix = ".zip"

// Link is a candidate download URL discovered on the portal.
type Link struct {
	Href          string `json:"href"`
	ReferenceDate string `json:"reference_date"`
	FileName      string `json:"file_name"`
}

// NewLink derives the reference date token and artifact name from href.
func NewLink(href string) Link {
	seg := TrailingSegment(href)
	return Link{
		Href:          href,
		ReferenceDate: seg,
		FileName:      seg + ArchiveSuffix,
	}
}

// TrailingSegment returns the final path segment of rawURL. Query strings and
// fragments are ignored; an empty path or a trailing slash yields "".
func TrailingSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if p == "" || strings.HasSuffix(p, "/") {
		return ""
	}
	return path.Base("/" + p)
}

// Status classifies the result of processing one link.
type Status string

// Outcome statuses reported per link.
const (
	StatusDownloaded Status = "downloaded"
	StatusExtracted  Status = "extracted"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Artifact is a downloaded archive on local storage.
type Artifact struct {
	// Object is the store-relative name the archive was written under.
	Object string `json:"object"`
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// Member is a single file extracted from an artifact.
type Member struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
	URI   string `json:"uri,omitempty"`
}

// Outcome records what happened to one link during a run.
type Outcome struct {
	Link       Link          `json:"link"`
	Status     Status        `json:"status"`
	StatusCode int           `json:"status_code,omitempty"`
	Artifact   *Artifact     `json:"artifact,omitempty"`
	Members    []Member      `json:"members,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Report summarizes a complete run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Window     []string  `json:"window,omitempty"`
	Discovered int       `json:"discovered"`
	Downloaded int       `json:"downloaded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Extracted  int       `json:"extracted"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Tally recomputes the counters from Outcomes. Extracted items count as
// downloaded since unpacking only runs after a successful download.
func (r *Report) Tally() {
	r.Discovered = len(r.Outcomes)
	r.Downloaded, r.Skipped, r.Failed, r.Extracted = 0, 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusDownloaded:
			r.Downloaded++
		case StatusExtracted:
			r.Downloaded++
			r.Extracted += len(o.Members)
		case StatusSkipped:
			r.Skipped++
		case StatusFailed:
			if o.Artifact != nil {
				r.Downloaded++
			}
			r.Failed++
		}
	}
}
