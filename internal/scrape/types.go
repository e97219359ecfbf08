// Package scrape implements the adaptive multi-tier extraction pipeline:
// the fetch-strategy cascade, retry/backoff execution, proxy session
// selection, bounded fan-out, record normalization and the run controller
// that drives one complete collection run.
package scrape

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Source identifies which fetch strategy produced a page or record.
type Source string

// Strategy tags, in cascade order. The playwright tag is kept verbatim for
// dataset compatibility with earlier releases even though the renderer is
// chromedp-based.
const (
	SourceInternalAPI    Source = "internal-api"
	SourceJSONAPI        Source = "json-api"
	SourceHydratedHTML   Source = "hydrated-html"
	SourceHTMLParse      Source = "html-parse"
	SourcePlaywrightJSON Source = "playwright-json"
)

// SearchQuery is the immutable search filter set for a run. An empty value
// or the sentinel "All" means "no filter" for that dimension.
type SearchQuery struct {
	Keyword        string
	Location       string
	Category       string
	Company        string
	EmploymentType string
}

// Normalized returns a copy with whitespace trimmed and sentinel values
// collapsed to empty strings.
func (q SearchQuery) Normalized() SearchQuery {
	clean := func(s string) string {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "All") {
			return ""
		}
		return s
	}
	return SearchQuery{
		Keyword:        strings.TrimSpace(q.Keyword),
		Location:       strings.TrimSpace(q.Location),
		Category:       clean(q.Category),
		Company:        clean(q.Company),
		EmploymentType: clean(q.EmploymentType),
	}
}

// Params encodes the query as search-endpoint parameters for the given page.
func (q SearchQuery) Params(page int) url.Values {
	n := q.Normalized()
	params := url.Values{}
	if n.Keyword != "" {
		params.Set("keyword", n.Keyword)
	}
	if n.Location != "" {
		params.Set("location", n.Location)
	}
	if n.Category != "" {
		params.Set("category", n.Category)
	}
	if n.Company != "" {
		params.Set("company", n.Company)
	}
	if emp := NormalizeEmploymentType(n.EmploymentType); emp != "" {
		params.Set("employmentType", emp)
	}
	if page > 1 {
		params.Set("page", fmt.Sprintf("%d", page))
	}
	return params
}

// PageRequest identifies one page of search results to resolve.
type PageRequest struct {
	Query SearchQuery
	Page  int
}

// LooseText accepts JSON strings and numbers, decoding both into a string.
// The site's API is inconsistent about numeric identifiers and salary
// bounds, sometimes quoting them and sometimes not.
type LooseText string

// UnmarshalJSON implements json.Unmarshaler.
func (t *LooseText) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*t = LooseText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode number: %w", err)
	}
	*t = LooseText(n.String())
	return nil
}

// StringList accepts a JSON array of strings, a bare string, or null.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*l = nil
		return nil
	case strings.HasPrefix(trimmed, "["):
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("decode string list: %w", err)
		}
		*l = values
		return nil
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*l = StringList{s}
		return nil
	}
}

// EpochDate is the API's wrapped posting timestamp.
type EpochDate struct {
	Seconds int64 `json:"seconds"`
}

// BaseSalary mirrors the API's compensation block.
type BaseSalary struct {
	Currency string    `json:"currency"`
	MinValue LooseText `json:"minValue"`
	MaxValue LooseText `json:"maxValue"`
	Value    LooseText `json:"value"`
	UnitText string    `json:"unitText"`
}

// Organization is the nested employer object some payload versions carry.
type Organization struct {
	Name string `json:"name"`
}

// RawJob is the superset of job fields any strategy can produce. API and
// hydration payloads unmarshal into it directly; the DOM card parser fills
// the fields it can recover from markup. All per-field fallback chains live
// in Normalize, not at call sites.
type RawJob struct {
	ID                 LooseText     `json:"id"`
	Title              string        `json:"title"`
	Company            string        `json:"company"`
	HiringOrganization *Organization `json:"hiringOrganization"`
	Location           string        `json:"location"`
	EmploymentType     StringList    `json:"employmentType"`
	EmploymentTypeText string        `json:"employmentTypeText"`
	BaseSalary         *BaseSalary   `json:"baseSalary"`
	Summary            string        `json:"summary"`
	URL                string        `json:"url"`
	Date               *EpochDate    `json:"date"`
	DatePosted         string        `json:"datePosted"`
}

// PageResult is one resolved page of search results.
type PageResult struct {
	Jobs         []RawJob
	TotalResults int
	Source       Source
	// BuildID is the release token recovered from a hydration payload. It
	// unlocks the versioned JSON endpoint for subsequent pages.
	BuildID string
	URL     string
}

// Record is the canonical job schema every strategy converges to before
// dedup and emission. Optional fields are empty strings when the source did
// not provide them.
type Record struct {
	ID              string `json:"id"`
	Title           string `json:"title,omitempty"`
	Company         string `json:"company,omitempty"`
	Location        string `json:"location,omitempty"`
	Salary          string `json:"salary,omitempty"`
	EmploymentType  string `json:"employmentType,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionHTML string `json:"descriptionHtml,omitempty"`
	URL             string `json:"url,omitempty"`
	ApplyLink       string `json:"applyLink,omitempty"`
	DatePosted      string `json:"datePosted,omitempty"`
	RawDateText     string `json:"rawDateText,omitempty"`
	Source          Source `json:"source"`
	FetchedAt       string `json:"fetchedAt"`
}

// IdentityKey returns the dedup key: the stable id when present, the
// canonical URL otherwise. Empty means the record has no usable identity
// and must be dropped.
func (r Record) IdentityKey() string {
	if r.ID != "" {
		return r.ID
	}
	return r.URL
}

// Summary is written once at the end of a run.
type Summary struct {
	JobsSaved      int     `json:"jobsSaved"`
	PagesProcessed int     `json:"pagesProcessed"`
	RuntimeSeconds float64 `json:"runtimeSeconds"`
	Success        bool    `json:"success"`
	TimeoutReached bool    `json:"timeoutReached"`
}
