package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

// ParseDetail reads a job detail page into a partial record for merging
// into the search row. Selector fallbacks cover the page versions the site
// has served.
func ParseDetail(html []byte, pageURL string) scrape.Record {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return scrape.Record{}
	}

	rec := scrape.Record{
		Title:    strings.TrimSpace(doc.Find("h1, h2.title").First().Text()),
		Company:  strings.TrimSpace(doc.Find(".job-single a, span.company").First().Text()),
		Location: strings.Join(strings.Fields(doc.Find("span.location, .job-location").First().Text()), " "),
		URL:      pageURL,
	}

	descriptionHTML, err := doc.Find(".job-search-description").First().Html()
	if err != nil || strings.TrimSpace(descriptionHTML) == "" {
		descriptionHTML, _ = doc.Find("#job-description").First().Html()
	}
	if strings.TrimSpace(descriptionHTML) != "" {
		rec.DescriptionHTML = descriptionHTML
		rec.Description = scrape.CleanHTML(descriptionHTML)
	}

	dateText, ok := doc.Find("time").First().Attr("datetime")
	if !ok || dateText == "" {
		dateText = strings.TrimSpace(doc.Find(".text-gray small").First().Text())
	}
	rec.DatePosted = dateText
	rec.RawDateText = dateText

	return rec
}
