package scraper

import (
	"context"
	"fmt"
	mrand "math/rand"
	"time"

	"priceowl/scrapeworker/config"
	"priceowl/scrapeworker/logger"
	apperr "priceowl/scrapeworker/pkg/errors"
	"priceowl/scrapeworker/services/repository"
)

// ListingResult aggregates what one listing URL produced
type ListingResult struct {
	PagesProcessed int
	Found          int
	Created        int
	Updated        int
	Unchanged      int
	Skipped        int
	Errors         int
}

func (r *ListingResult) add(other *ListingResult) {
	r.PagesProcessed += other.PagesProcessed
	r.Found += other.Found
	r.Created += other.Created
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Skipped += other.Skipped
	r.Errors += other.Errors
}

// PaginationController drives one listing URL page by page: fetch the
// page, extract item URLs, fetch and persist each item, decide whether to
// continue. Failed pages can be retried in a second pass.
type PaginationController struct {
	source    *Source
	fetcher   Fetcher
	sanitizer *Sanitizer
	repo      repository.Repository

	// deadline is the run's cooperative time budget; checked at page
	// boundaries only
	deadline time.Time

	requiredFields []string
	itemDelay      config.DelayRange

	// onError feeds the run's ledger error trail
	onError func(stage string, err error)
	// onChange reports created/updated records for event publishing
	onChange func(action repository.Action, naturalKey string)

	log   *logger.Logger
	sleep func(time.Duration)
	rnd   *mrand.Rand
}

// NewPaginationController wires a controller for one source and fetch
// strategy
func NewPaginationController(source *Source, fetcher Fetcher, sanitizer *Sanitizer, repo repository.Repository) *PaginationController {
	src := source.withDefaults()
	return &PaginationController{
		source:    src,
		fetcher:   fetcher,
		sanitizer: sanitizer,
		repo:      repo,
		log:       logger.ForSource(src.ID),
		sleep:     time.Sleep,
		rnd:       mrand.New(mrand.NewSource(time.Now().UnixNano())),
		onError:   func(string, error) {},
		onChange:  func(repository.Action, string) {},
	}
}

// SetDeadline installs the run time budget
func (p *PaginationController) SetDeadline(deadline time.Time) {
	p.deadline = deadline
}

// SetItemDelay installs the randomized delay applied after each item
func (p *PaginationController) SetItemDelay(delay config.DelayRange) {
	p.itemDelay = delay
}

// SetRequiredFields installs fields that must survive sanitization for a
// record to be persisted
func (p *PaginationController) SetRequiredFields(fields []string) {
	p.requiredFields = fields
}

// OnError installs the error trail callback
func (p *PaginationController) OnError(fn func(stage string, err error)) {
	if fn != nil {
		p.onError = fn
	}
}

// OnChange installs the record change callback
func (p *PaginationController) OnChange(fn func(action repository.Action, naturalKey string)) {
	if fn != nil {
		p.onChange = fn
	}
}

func (p *PaginationController) budgetExceeded() bool {
	return !p.deadline.IsZero() && time.Now().After(p.deadline)
}

// Run crawls one listing URL to completion
func (p *PaginationController) Run(ctx context.Context, listingURL string) (*ListingResult, error) {
	result := &ListingResult{}
	consecutiveEmpty := 0
	consecutiveErrors := 0
	var failedPages []int

	for page := 1; page <= p.source.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if p.budgetExceeded() {
			p.log.Warn().Int("page", page).Msg("Run time budget exceeded, stopping listing")
			break
		}

		found, err := p.processPage(ctx, pageURL(listingURL, p.source.PageParam, page), result)
		if err != nil {
			consecutiveErrors++
			result.Errors++
			failedPages = append(failedPages, page)
			p.onError(fmt.Sprintf("page %d", page), err)
			p.log.Warn().Err(err).Int("page", page).
				Int("consecutive_errors", consecutiveErrors).Msg("Page failed")
			if consecutiveErrors >= p.source.MaxConsecutiveErrors {
				p.log.Warn().Int("page", page).Msg("Too many consecutive page errors, stopping listing")
				break
			}
			p.interPageSleep(page)
			continue
		}

		consecutiveErrors = 0
		result.PagesProcessed++
		if found == 0 {
			consecutiveEmpty++
			if consecutiveEmpty >= p.source.MaxEmptyPages {
				p.log.Info().Int("page", page).Msg("No items on consecutive pages, stopping listing")
				break
			}
		} else {
			consecutiveEmpty = 0
		}

		p.interPageSleep(page)
	}

	if p.source.RetryFailedPages && len(failedPages) > 0 {
		p.retryFailedPages(ctx, listingURL, failedPages, result)
	}
	return result, nil
}

// interPageSleep pauses before moving to the next page number; failed
// pages pause the same way as successful ones
func (p *PaginationController) interPageSleep(page int) {
	if page < p.source.MaxPages {
		p.sleep(randomDelay(p.rnd, p.source.InterPageDelay))
	}
}

// retryFailedPages gives each failed page up to MaxRetriesPerPage extra
// attempts with a longer backoff. A retried page that succeeds does not
// resume traversal beyond it.
func (p *PaginationController) retryFailedPages(ctx context.Context, listingURL string, pages []int, result *ListingResult) {
	for _, page := range pages {
		for attempt := 1; attempt <= p.source.MaxRetriesPerPage; attempt++ {
			if ctx.Err() != nil || p.budgetExceeded() {
				return
			}
			p.sleep(time.Duration(5+p.rnd.Intn(6)) * time.Second)

			_, err := p.processPage(ctx, pageURL(listingURL, p.source.PageParam, page), result)
			if err == nil {
				result.PagesProcessed++
				p.log.Info().Int("page", page).Int("attempt", attempt).Msg("Failed page recovered on retry")
				break
			}
			result.Errors++
			p.onError(fmt.Sprintf("page %d retry %d", page, attempt), err)
		}
	}
}

// processPage fetches one listing page and runs every discovered item
// through extract, sanitize and persist. Extractor panics surface as
// page-level errors.
func (p *PaginationController) processPage(ctx context.Context, url string, result *ListingResult) (found int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.NewParsing(p.source.ID, fmt.Sprintf("panic processing %s: %v", url, r), nil)
		}
	}()

	fetched, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	return p.ProcessContent(ctx, fetched.Body, url, result)
}

// ProcessContent extracts and persists the items on already-fetched page
// content. The browser traversal path feeds rendered HTML through here.
func (p *PaginationController) ProcessContent(ctx context.Context, pageHTML []byte, pageURL string, result *ListingResult) (int, error) {
	itemURLs, err := p.source.Extractor.ListItemURLs(pageHTML, pageURL)
	if err != nil {
		return 0, err
	}
	result.Found += len(itemURLs)

	for _, itemURL := range itemURLs {
		if err := ctx.Err(); err != nil {
			return len(itemURLs), err
		}
		action, naturalKey, err := p.processItem(ctx, itemURL)
		if err != nil {
			result.Skipped++
			result.Errors++
			p.onError("item "+itemURL, err)
			p.log.Warn().Err(err).Str("item_url", itemURL).Msg("Item skipped")
		} else {
			switch action {
			case repository.ActionCreated:
				result.Created++
			case repository.ActionUpdated:
				result.Updated++
			case repository.ActionUnchanged:
				result.Unchanged++
			}
			if action == repository.ActionCreated || action == repository.ActionUpdated {
				p.onChange(action, naturalKey)
			}
		}
		if p.itemDelay.Min > 0 {
			p.sleep(randomDelay(p.rnd, p.itemDelay))
		}
	}
	return len(itemURLs), nil
}

// processItem fetches, extracts, sanitizes and persists a single item
func (p *PaginationController) processItem(ctx context.Context, itemURL string) (repository.Action, string, error) {
	fetched, err := p.fetcher.Fetch(ctx, itemURL)
	if err != nil {
		return "", "", err
	}

	raw, err := p.source.Extractor.ExtractItem(fetched.Body, itemURL)
	if err != nil {
		return "", "", err
	}

	fields := p.sanitizer.Sanitize(raw)
	for _, required := range p.requiredFields {
		if required == repository.FieldNaturalKey {
			continue
		}
		if _, ok := fields[required]; !ok {
			return "", "", apperr.NewValidation(p.source.ID,
				fmt.Sprintf("missing required field %q for %s", required, itemURL))
		}
	}

	naturalKey, _ := fields[repository.FieldNaturalKey].(string)
	action, err := p.repo.Upsert(ctx, p.source.ID, naturalKey, fields)
	if err != nil {
		return "", "", err
	}
	return action, naturalKey, nil
}
