package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"priceowl/scrapeworker/config"
	"priceowl/scrapeworker/logger"
	"priceowl/scrapeworker/services/ledger"
	"priceowl/scrapeworker/services/publisher"
	"priceowl/scrapeworker/services/repository"
)

// RunCoordinator owns one full run of a source: it opens the ledger entry,
// drives every listing URL through HTTP or browser traversal, deactivates
// stale records and finalizes the ledger exactly once.
type RunCoordinator struct {
	source    *Source
	cfg       *config.Config
	fetcher   Fetcher
	render    *RenderClient
	sanitizer *Sanitizer
	repo      repository.Repository
	store     ledger.Store
	publisher publisher.Publisher

	log   *logger.Logger
	now   func() time.Time
	sleep func(time.Duration)
}

// CoordinatorDeps carries the collaborators a run needs. Render and
// Publisher may be nil; browser sources then yield nothing and events are
// not published.
type CoordinatorDeps struct {
	Fetcher   Fetcher
	Render    *RenderClient
	Repo      repository.Repository
	Ledger    ledger.Store
	Publisher publisher.Publisher
}

// NewRunCoordinator wires a coordinator for one source
func NewRunCoordinator(source *Source, cfg *config.Config, deps CoordinatorDeps) *RunCoordinator {
	return &RunCoordinator{
		source:    source.withDefaults(),
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		render:    deps.Render,
		sanitizer: NewSanitizer(SanitizerOptions{
			PriceMin:        cfg.PriceMin,
			PriceMax:        cfg.PriceMax,
			MaxFieldLengths: cfg.MaxFieldLengths,
		}),
		repo:      deps.Repo,
		store:     deps.Ledger,
		publisher: deps.Publisher,
		log:       logger.ForSource(source.ID),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// SourceID returns the source this coordinator runs
func (c *RunCoordinator) SourceID() string {
	return c.source.ID
}

// Run executes one complete run and returns the finalized ledger entry
func (c *RunCoordinator) Run(ctx context.Context) (*ledger.Entry, error) {
	start := c.now()
	runID, err := c.store.Start(ctx, c.source.ID)
	if err != nil {
		return nil, err
	}
	c.log.Info().Int64("run_id", runID).Int("listing_urls", len(c.source.ListingURLs)).
		Msg("Run started")

	counts := ledger.Counts{}
	entry, runErr := c.runGuarded(ctx, runID, start, &counts)
	if runErr != nil {
		if failErr := c.store.Fail(ctx, runID, counts, runErr.Error()); failErr != nil {
			c.log.Error().Err(failErr).Int64("run_id", runID).Msg("Failed to finalize ledger entry")
		}
		final, _ := c.store.Get(ctx, runID)
		c.publish(final)
		return final, runErr
	}
	c.publish(entry)
	return entry, nil
}

// runGuarded runs the listing URLs with a panic guard so programming
// errors finalize the ledger as failed instead of crashing the worker
func (c *RunCoordinator) runGuarded(ctx context.Context, runID int64, start time.Time, counts *ledger.Counts) (entry *ledger.Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()

	deadline := start.Add(c.cfg.RunTimeBudget)
	emptyListings := 0
	skippedListings := 0
	useBrowser := c.source.UseBrowserRendering

	for i, listingURL := range c.source.ListingURLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			skippedListings += len(c.source.ListingURLs) - i
			c.log.Warn().Int("skipped_listings", skippedListings).
				Msg("Run time budget exceeded, skipping remaining listings")
			break
		}

		result := c.runListing(ctx, runID, listingURL, deadline, useBrowser)
		counts.Found += result.Found
		counts.Created += result.Created
		counts.Updated += result.Updated
		counts.Unchanged += result.Unchanged

		// Anti-blocking fallback: repeated zero-yield listings over plain
		// HTTP suggest we are being served empty or blocked pages
		if !useBrowser && c.source.FallbackToBrowser && c.render != nil {
			if result.Found == 0 {
				emptyListings++
				if emptyListings >= c.source.FallbackAfterEmptyPages {
					useBrowser = true
					c.log.Warn().Str("listing_url", listingURL).
						Msg("Repeated empty listings over HTTP, switching to browser rendering")
					retry := c.runListing(ctx, runID, listingURL, deadline, true)
					counts.Found += retry.Found
					counts.Created += retry.Created
					counts.Updated += retry.Updated
					counts.Unchanged += retry.Unchanged
				}
			} else {
				emptyListings = 0
			}
		}
	}

	deactivated, err := c.repo.DeactivateStale(ctx, c.source.ID, start.Add(-c.cfg.StalenessGrace))
	if err != nil {
		c.recordError(ctx, runID, "deactivation", err)
		return nil, err
	}
	counts.Deactivated = int(deactivated)

	status := ledger.StatusCompleted
	if skippedListings > 0 {
		status = ledger.StatusPartial
	}
	if err := c.store.Complete(ctx, runID, *counts, status); err != nil {
		return nil, err
	}

	entry, err = c.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	c.log.Info().
		Int64("run_id", runID).
		Str("status", string(status)).
		Int("found", counts.Found).
		Int("created", counts.Created).
		Int("updated", counts.Updated).
		Int("unchanged", counts.Unchanged).
		Int("deactivated", counts.Deactivated).
		Str("duration", ledger.FormatDuration(entry.Duration())).
		Msg("Run finished")
	return entry, nil
}

// runListing crawls one listing URL with the chosen strategy
func (c *RunCoordinator) runListing(ctx context.Context, runID int64, listingURL string, deadline time.Time, useBrowser bool) *ListingResult {
	fetcher := c.fetcher
	if useBrowser {
		if c.render == nil {
			c.recordError(ctx, runID, listingURL,
				fmt.Errorf("browser rendering requested but no render client available"))
			return &ListingResult{}
		}
		fetcher = NewRenderFetcher(c.render, c.source.ID)
	}

	controller := NewPaginationController(c.source, fetcher, c.sanitizer, c.repo)
	controller.sleep = c.sleep
	controller.SetDeadline(deadline)
	controller.SetItemDelay(c.cfg.InterItemDelay)
	controller.SetRequiredFields(c.cfg.RequiredFields)
	controller.OnError(func(stage string, err error) {
		c.recordError(ctx, runID, stage, err)
	})
	controller.OnChange(func(action repository.Action, naturalKey string) {
		c.publishChange(action, naturalKey)
	})

	if useBrowser {
		return c.runRenderedListing(ctx, listingURL, controller)
	}

	result, err := controller.Run(ctx, listingURL)
	if err != nil {
		c.recordError(ctx, runID, listingURL, err)
	}
	return result
}

// runRenderedListing walks a listing with the browser and feeds each
// rendered page through the controller's item pipeline
func (c *RunCoordinator) runRenderedListing(ctx context.Context, listingURL string, controller *PaginationController) *ListingResult {
	result := &ListingResult{}

	if c.source.PaginationType == PaginationInfiniteScroll {
		html := c.render.RenderInfiniteScroll(listingURL, c.source.ScrollCount)
		if html == "" {
			return result
		}
		if _, err := controller.ProcessContent(ctx, []byte(html), listingURL, result); err == nil {
			result.PagesProcessed = 1
		}
		return result
	}

	pages := c.render.RenderPaginated(ctx, listingURL, RenderConfig{
		MaxPages:        c.source.MaxPages,
		PageParam:       c.source.PageParam,
		HasNextSelector: c.source.HasNextSelector,
		MaxEmptyPages:   c.source.MaxEmptyPages,
		Delay:           c.source.InterPageDelay,
	})
	for _, page := range pages {
		if ctx.Err() != nil {
			break
		}
		if _, err := controller.ProcessContent(ctx, []byte(page.HTML), page.URL, result); err != nil {
			result.Errors++
			continue
		}
		result.PagesProcessed++
	}
	return result
}

func (c *RunCoordinator) recordError(ctx context.Context, runID int64, stage string, err error) {
	if rerr := c.store.RecordError(ctx, runID, stage, err); rerr != nil {
		c.log.Error().Err(rerr).Str("stage", stage).Msg("Failed to record run error")
	}
}

// runEvent is the published summary of a finalized run
type runEvent struct {
	Type        string        `json:"type"`
	SourceID    string        `json:"source_id"`
	RunID       int64         `json:"run_id"`
	Status      ledger.Status `json:"status"`
	Counts      ledger.Counts `json:"counts"`
	DurationSec float64       `json:"duration_sec"`
	Errors      int           `json:"errors"`
}

func (c *RunCoordinator) publish(entry *ledger.Entry) {
	if c.publisher == nil || entry == nil {
		return
	}
	payload, err := json.Marshal(runEvent{
		Type:        "run_summary",
		SourceID:    entry.SourceID,
		RunID:       entry.ID,
		Status:      entry.Status,
		Counts:      entry.Counts,
		DurationSec: entry.Duration().Seconds(),
		Errors:      len(entry.Errors),
	})
	if err != nil {
		return
	}
	if err := c.publisher.Publish(c.source.ID, payload); err != nil {
		c.log.Warn().Err(err).Msg("Failed to publish run summary")
	}
}

// recordEvent is the published notice of a created or updated record
type recordEvent struct {
	Type       string            `json:"type"`
	SourceID   string            `json:"source_id"`
	Action     repository.Action `json:"action"`
	NaturalKey string            `json:"natural_key"`
}

func (c *RunCoordinator) publishChange(action repository.Action, naturalKey string) {
	if c.publisher == nil {
		return
	}
	payload, err := json.Marshal(recordEvent{
		Type:       "record_change",
		SourceID:   c.source.ID,
		Action:     action,
		NaturalKey: naturalKey,
	})
	if err != nil {
		return
	}
	if err := c.publisher.Publish(c.source.ID, payload); err != nil {
		c.log.Warn().Err(err).Msg("Failed to publish record change")
	}
}
