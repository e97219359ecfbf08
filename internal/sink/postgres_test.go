package sink

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/hiredeck/collegerecruiter-scraper/internal/scrape"
)

func TestPostgresSinkInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresSinkWithPool(mock, "jobs")
	require.NoError(t, err)

	rec := scrape.Record{
		ID:             "12345",
		Title:          "Analyst",
		Company:        "Acme",
		Location:       "Chicago, IL",
		Salary:         "$50000 - $70000 YEAR",
		EmploymentType: "FULL_TIME",
		URL:            "https://www.collegerecruiter.com/job/12345",
		ApplyLink:      "https://www.collegerecruiter.com/job/12345/apply?title=Analyst",
		DatePosted:     "2025-03-01T12:00:00Z",
		Source:         scrape.SourceJSONAPI,
		FetchedAt:      "2025-03-01T12:00:05Z",
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			rec.IdentityKey(),
			rec.ID,
			rec.Title,
			rec.Company,
			rec.Location,
			rec.Salary,
			rec.EmploymentType,
			rec.Description,
			rec.DescriptionHTML,
			rec.URL,
			rec.ApplyLink,
			rec.DatePosted,
			rec.RawDateText,
			string(rec.Source),
			rec.FetchedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Push(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkRejectsIdentitylessRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresSinkWithPool(mock, "jobs")
	require.NoError(t, err)

	require.Error(t, s.Push(context.Background(), scrape.Record{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkValidatesTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresSinkWithPool(mock, "jobs; DROP TABLE jobs")
	require.Error(t, err)
}
