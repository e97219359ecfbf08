// Package extract holds the site-specific extraction rules: the hydration
// payload shape, the versioned job-card selector sets, the JSON-LD posting
// reader and the detail-page parser. The cascade tries these in order and
// interprets their results; nothing here fetches anything.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

// nextDataScriptRe recovers the hydration script body from raw markup when
// a structured DOM read is not available (used by the browser fallback).
var nextDataScriptRe = regexp.MustCompile(`(?is)<script[^>]*id=["']__NEXT_DATA__["'][^>]*>(.*?)</script>`)

// Payload is the normalized hydration payload: the jobs a server-rendered
// page embedded, plus the release token that unlocks the versioned JSON
// endpoint for later pages.
type Payload struct {
	Jobs         []scrape.RawJob
	TotalResults int
	BuildID      string
}

type pageProps struct {
	Jobs         []scrape.RawJob `json:"jobs"`
	TotalResults int             `json:"totalResults"`
}

// nextData tolerates both payload shapes the site has shipped: pageProps at
// the top level (data endpoint) and nested under props (page hydration).
type nextData struct {
	BuildID   string     `json:"buildId"`
	PageProps *pageProps `json:"pageProps"`
	Props     *struct {
		PageProps *pageProps `json:"pageProps"`
	} `json:"props"`
}

// ParseNextData decodes a hydration payload.
func ParseNextData(data []byte) (*Payload, error) {
	var nd nextData
	if err := json.Unmarshal(data, &nd); err != nil {
		return nil, fmt.Errorf("decode hydration payload: %w", err)
	}
	props := nd.PageProps
	if props == nil && nd.Props != nil {
		props = nd.Props.PageProps
	}
	if props == nil {
		return nil, fmt.Errorf("hydration payload has no page props")
	}
	return &Payload{
		Jobs:         props.Jobs,
		TotalResults: props.TotalResults,
		BuildID:      nd.BuildID,
	}, nil
}

// NextDataFromHTML locates the embedded hydration script in server-rendered
// markup and decodes it. Returns nil without error when the script tag is
// absent.
func NextDataFromHTML(html []byte) (*Payload, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	script := doc.Find("script#__NEXT_DATA__").First()
	if script.Length() == 0 {
		return nil, nil
	}
	return ParseNextData([]byte(script.Text()))
}

// FindNextDataScript extracts the raw hydration JSON with a regex scan.
// Last-ditch path for rendered documents where the DOM read came up empty.
func FindNextDataScript(html []byte) []byte {
	m := nextDataScriptRe.FindSubmatch(html)
	if m == nil {
		return nil
	}
	return bytes.TrimSpace(m[1])
}
