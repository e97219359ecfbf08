package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

type jsonLDSalaryValue struct {
	Currency string           `json:"currency"`
	MinValue scrape.LooseText `json:"minValue"`
	MaxValue scrape.LooseText `json:"maxValue"`
	Value    scrape.LooseText `json:"value"`
	UnitText string           `json:"unitText"`
}

type jsonLDPosting struct {
	Type               scrape.StringList `json:"@type"`
	Title              string            `json:"title"`
	DatePosted         string            `json:"datePosted"`
	DatePublished      string            `json:"datePublished"`
	Description        string            `json:"description"`
	EmploymentType     scrape.StringList `json:"employmentType"`
	HiringOrganization *struct {
		Name string `json:"name"`
	} `json:"hiringOrganization"`
	JobLocation *struct {
		Address *struct {
			Locality string `json:"addressLocality"`
			Region   string `json:"addressRegion"`
			Country  string `json:"addressCountry"`
		} `json:"address"`
	} `json:"jobLocation"`
	BaseSalary *struct {
		Value *jsonLDSalaryValue `json:"value"`
	} `json:"baseSalary"`
}

// JobPostingFromJSONLD scans the structured-data blocks of a detail page
// for a schema.org JobPosting and converts it to a partial record suitable
// for merging. Returns the zero record when no posting is present;
// malformed blocks are skipped, not fatal.
func JobPostingFromJSONLD(html []byte) scrape.Record {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return scrape.Record{}
	}

	var posting *jsonLDPosting
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := []byte(s.Text())
		for _, candidate := range decodePostings(raw) {
			if isJobPosting(candidate.Type) {
				posting = candidate
				return false
			}
		}
		return true
	})
	if posting == nil {
		return scrape.Record{}
	}

	rec := scrape.Record{
		Title:          posting.Title,
		EmploymentType: strings.Join(posting.EmploymentType, ", "),
	}
	if posting.HiringOrganization != nil {
		rec.Company = posting.HiringOrganization.Name
	}
	if posting.JobLocation != nil && posting.JobLocation.Address != nil {
		addr := posting.JobLocation.Address
		parts := make([]string, 0, 3)
		for _, p := range []string{addr.Locality, addr.Region, addr.Country} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		rec.Location = strings.Join(parts, ", ")
	}
	rec.DatePosted = posting.DatePosted
	if rec.DatePosted == "" {
		rec.DatePosted = posting.DatePublished
	}
	if posting.BaseSalary != nil {
		rec.Salary = jsonLDSalaryText(posting.BaseSalary.Value)
	}
	if posting.Description != "" {
		rec.DescriptionHTML = posting.Description
		rec.Description = scrape.CleanHTML(posting.Description)
	}
	return rec
}

// decodePostings tolerates both a single object and an array of objects in
// one ld+json block.
func decodePostings(raw []byte) []*jsonLDPosting {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var items []*jsonLDPosting
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil
		}
		return items
	}
	var item jsonLDPosting
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil
	}
	return []*jsonLDPosting{&item}
}

func isJobPosting(types scrape.StringList) bool {
	for _, t := range types {
		if t == "JobPosting" {
			return true
		}
	}
	return false
}

// The structured-data salary path keeps the site's historical formatting: a
// space after the currency, unlike the API-derived salary string.
func jsonLDSalaryText(v *jsonLDSalaryValue) string {
	if v == nil {
		return ""
	}
	prefix := ""
	if v.Currency != "" {
		prefix = v.Currency + " "
	}
	var text string
	switch {
	case v.MinValue != "" && v.MaxValue != "":
		text = prefix + string(v.MinValue) + " - " + prefix + string(v.MaxValue)
	case v.Value != "":
		text = prefix + string(v.Value)
	default:
		return ""
	}
	if v.UnitText != "" {
		text += " " + v.UnitText
	}
	return text
}
