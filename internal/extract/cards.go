package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

var jobIDFromURL = regexp.MustCompile(`/job/(\d+)`)

// CardSelectors is one versioned set of structural selectors for the search
// results markup. Each field lists candidates in preference order; the
// first selector producing text wins.
type CardSelectors struct {
	Version  string
	Card     string
	Title    string
	Company  string
	Location string
	Type     string
	JobLink  string
}

// CardSelectorSets lists the known markup versions, newest first. The
// parser tries each set until one yields cards, so a site redesign needs a
// new entry here rather than code changes.
var CardSelectorSets = []CardSelectors{
	{
		Version:  "2024-11",
		Card:     `article, .job-card, .job-listing, [data-job-id]`,
		Title:    `h2, h3, .job-title, [class*="title"]`,
		Company:  `.company, .company-name, [class*="company"]`,
		Location: `.location, .job-location, [class*="location"]`,
		Type:     `.employment-type, .job-type, [class*="type"]`,
		JobLink:  `a[href*="/job/"]`,
	},
}

// ParseJobCards assembles raw jobs from search-result markup using the
// versioned selector sets. Cards with no title or no link are skipped; a
// card without a numeric id keys on its URL.
func ParseJobCards(html []byte, baseURL string, now time.Time) ([]scrape.RawJob, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	for _, sel := range CardSelectorSets {
		jobs := parseWithSelectors(doc, sel, baseURL, now)
		if len(jobs) > 0 {
			return jobs, nil
		}
	}
	return nil, nil
}

func parseWithSelectors(doc *goquery.Document, sel CardSelectors, baseURL string, now time.Time) []scrape.RawJob {
	var jobs []scrape.RawJob
	doc.Find(sel.Card).Each(func(_ int, card *goquery.Selection) {
		title := firstText(card, sel.Title)
		if title == "" {
			return
		}

		href, ok := card.Find(sel.JobLink).First().Attr("href")
		if !ok {
			href, ok = card.Find("a").First().Attr("href")
		}
		if !ok || href == "" {
			return
		}
		fullURL := href
		if !strings.HasPrefix(href, "http") {
			fullURL = strings.TrimSuffix(baseURL, "/") + href
		}

		id, _ := card.Attr("data-job-id")
		if id == "" {
			if m := jobIDFromURL.FindStringSubmatch(fullURL); m != nil {
				id = m[1]
			}
		}
		if id == "" {
			id = fullURL
		}

		jobs = append(jobs, scrape.RawJob{
			ID:                 scrape.LooseText(id),
			Title:              title,
			Company:            firstText(card, sel.Company),
			Location:           firstText(card, sel.Location),
			EmploymentTypeText: firstText(card, sel.Type),
			URL:                fullURL,
			Date:               &scrape.EpochDate{Seconds: now.Unix()},
		})
	})
	return jobs
}

func firstText(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(s.Find(selector).First().Text())
}
