package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

const cardsHTML = `<html><body>
<article data-job-id="555">
	<h3>Retail Associate</h3>
	<span class="company-name">ShopCo</span>
	<span class="job-location">Austin, TX</span>
	<span class="job-type">Part time</span>
	<a href="/job/555/retail-associate">View</a>
</article>
<article>
	<h3>Warehouse Picker</h3>
	<a href="https://www.collegerecruiter.com/job/556/warehouse-picker">View</a>
</article>
<article>
	<a href="/job/557">No title, skipped</a>
</article>
</body></html>`

func TestParseJobCards(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	jobs, err := ParseJobCards([]byte(cardsHTML), "https://www.collegerecruiter.com", now)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	first := jobs[0]
	require.Equal(t, scrape.LooseText("555"), first.ID)
	require.Equal(t, "Retail Associate", first.Title)
	require.Equal(t, "ShopCo", first.Company)
	require.Equal(t, "Austin, TX", first.Location)
	require.Equal(t, "Part time", first.EmploymentTypeText)
	require.Equal(t, "https://www.collegerecruiter.com/job/555/retail-associate", first.URL)
	require.Equal(t, now.Unix(), first.Date.Seconds)

	second := jobs[1]
	require.Equal(t, scrape.LooseText("556"), second.ID, "id recovered from the job url")
	require.Equal(t, "https://www.collegerecruiter.com/job/556/warehouse-picker", second.URL)
}

func TestParseJobCardsEmptyDocument(t *testing.T) {
	t.Parallel()

	jobs, err := ParseJobCards([]byte(`<html><body></body></html>`), "https://x", time.Now())
	require.NoError(t, err)
	require.Empty(t, jobs)
}
