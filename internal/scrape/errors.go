package scrape

import "errors"

// Sentinel errors that make the tier-boundary decisions explicit: retry
// happens inside a tier, these decide what happens between tiers.
var (
	// ErrNoJobs means every tier was exhausted for a page without yielding
	// a single job.
	ErrNoJobs = errors.New("unable to extract jobs from search page")

	// ErrBlocked marks a hard blocking response (HTTP 403 or an explicit
	// verification gate). It escalates to the next tier instead of retrying.
	ErrBlocked = errors.New("request blocked")

	// ErrStaleBuildID means the versioned data endpoint returned 404: the
	// cached release token no longer matches the deployed site.
	ErrStaleBuildID = errors.New("build id is stale")

	// ErrPayloadMissing means a rendered document carried no hydration
	// payload even after a reload.
	ErrPayloadMissing = errors.New("hydration payload missing")

	// ErrNoResults is the run-level hard failure: zero records saved.
	ErrNoResults = errors.New("no results scraped")
)
