package scrape

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var allCapsToken = regexp.MustCompile(`^[A-Z_]+$`)

// employmentEnum maps the site's human-readable employment labels to the
// enum values its search endpoint expects.
var employmentEnum = map[string]string{
	"full time":        "FULL_TIME",
	"part time":        "PART_TIME",
	"contractor":       "CONTRACTOR",
	"contract to hire": "CONTRACT_TO_HIRE",
	"temporary":        "TEMPORARY",
	"intern":           "INTERN",
	"internship":       "INTERN",
}

// NormalizeEmploymentType converts a filter value to the endpoint enum.
// Empty and the "All" sentinel mean no filter. Already-uppercased enum
// values pass through; anything else is upper-snake-cased.
func NormalizeEmploymentType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "All") {
		return ""
	}
	if enum, ok := employmentEnum[strings.ToLower(value)]; ok {
		return enum
	}
	if allCapsToken.MatchString(value) {
		return value
	}
	return strings.ToUpper(regexp.MustCompile(`\s+`).ReplaceAllString(value, "_"))
}

// CleanHTML strips script, style and noscript content and collapses the
// remaining text to single-spaced plain text.
func CleanHTML(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Normalize converts a source-shaped job into the canonical record. The
// field derivation rules match the site's dataset schema exactly and must
// not drift between strategies.
func Normalize(raw RawJob, source Source, now time.Time) Record {
	rec := Record{
		ID:       string(raw.ID),
		Title:    raw.Title,
		Company:  raw.Company,
		Location: raw.Location,
		URL:      raw.URL,
		Source:   source,
	}
	if rec.Company == "" && raw.HiringOrganization != nil {
		rec.Company = raw.HiringOrganization.Name
	}

	// Prefer the epoch timestamp; fall back to the raw textual date.
	switch {
	case raw.Date != nil && raw.Date.Seconds > 0:
		rec.DatePosted = time.Unix(raw.Date.Seconds, 0).UTC().Format(time.RFC3339)
	case raw.DatePosted != "":
		rec.DatePosted = raw.DatePosted
	}
	rec.RawDateText = raw.DatePosted

	rec.EmploymentType = employmentText(raw)
	rec.Salary = salaryText(raw.BaseSalary)

	if raw.Summary != "" {
		rec.Description = CleanHTML(raw.Summary)
		rec.DescriptionHTML = raw.Summary
	}

	if rec.URL != "" {
		// Spaces must come out as %20, not +, so links match the dataset
		// format consumers already parse.
		title := strings.ReplaceAll(url.QueryEscape(rec.Title), "+", "%20")
		rec.ApplyLink = rec.URL + "/apply?title=" + title
	}

	rec.FetchedAt = now.UTC().Format(time.RFC3339)
	return rec
}

func employmentText(raw RawJob) string {
	if len(raw.EmploymentType) > 0 {
		kept := make([]string, 0, len(raw.EmploymentType))
		for _, t := range raw.EmploymentType {
			if t == "" || t == "UNSPECIFIED" {
				continue
			}
			kept = append(kept, t)
		}
		return strings.Join(kept, ", ")
	}
	return raw.EmploymentTypeText
}

// salaryText builds the display string: "{cur}{min} - {cur}{max}" when both
// bounds exist, "{cur}{value}" for a single figure, with the unit appended.
func salaryText(s *BaseSalary) string {
	if s == nil {
		return ""
	}
	if s.MinValue == "" && s.MaxValue == "" && s.Value == "" {
		return ""
	}
	currency := s.Currency
	if currency == "" {
		currency = "$"
	}
	var text string
	switch {
	case s.MinValue != "" && s.MaxValue != "":
		text = currency + string(s.MinValue) + " - " + currency + string(s.MaxValue)
	case s.Value != "":
		text = currency + string(s.Value)
	default:
		return ""
	}
	if s.UnitText != "" {
		text += " " + s.UnitText
	}
	return text
}

// Merge fills base's empty fields from addition. Present base values are
// never overwritten, so a rich-but-slow detail fetch can enrich a sparse
// search row without clobbering what is already known.
func Merge(base, addition Record) Record {
	merged := base
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
		}
	}
	fill(&merged.ID, addition.ID)
	fill(&merged.Title, addition.Title)
	fill(&merged.Company, addition.Company)
	fill(&merged.Location, addition.Location)
	fill(&merged.Salary, addition.Salary)
	fill(&merged.EmploymentType, addition.EmploymentType)
	fill(&merged.Description, addition.Description)
	fill(&merged.DescriptionHTML, addition.DescriptionHTML)
	fill(&merged.URL, addition.URL)
	fill(&merged.ApplyLink, addition.ApplyLink)
	fill(&merged.DatePosted, addition.DatePosted)
	fill(&merged.RawDateText, addition.RawDateText)
	return merged
}
