// Package tabs turns an ASIN into an extracted record by driving a browser
// tab: reuse one already showing the detail page, or open a fresh background
// tab, wait for it to render, extract, and dispose of it.
package tabs

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/collectkit/amazon-collector/internal/extract"
	"github.com/collectkit/amazon-collector/internal/models"
)

// TabError indicates the tab itself failed: navigation, load timeout, or the
// page never became readable. Extraction failures keep their own type.
type TabError struct {
	ASIN string
	Err  error
}

func (e TabError) Error() string {
	return fmt.Errorf("tab %s: %w", e.ASIN, e.Err).Error()
}

func (e TabError) Unwrap() error {
	return e.Err
}

// Driver is the browser surface the orchestrator needs. *browser.Browser
// satisfies it.
type Driver interface {
	FindPage(fragment string) playwright.Page
	NewPage() (playwright.Page, error)
	NavigateWithRetry(page playwright.Page, url string, maxRetries int) error
	Humanize(page playwright.Page)
}

// Orchestrator opens at most one tab per collect call.
type Orchestrator struct {
	browser Driver
	logger  *slog.Logger

	// settleDelay is waited after load-complete so client-side rendering can
	// finish. Two seconds, found empirically.
	settleDelay time.Duration
	navRetries  int
	includeRaw  bool
}

type Config struct {
	SettleDelay time.Duration
	NavRetries  int
	IncludeRaw  bool
}

func NewOrchestrator(b Driver, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.NavRetries <= 0 {
		cfg.NavRetries = 3
	}
	return &Orchestrator{
		browser:     b,
		logger:      logger.With("component", "tab_orchestrator"),
		settleDelay: cfg.SettleDelay,
		navRetries:  cfg.NavRetries,
		includeRaw:  cfg.IncludeRaw,
	}
}

// Collect extracts the record for asin through a browser tab. A tab this
// call opened is always closed before returning; a reused page is left
// alone. Disposal failures are logged, never propagated.
func (o *Orchestrator) Collect(ctx context.Context, asin, marketplace string) (*models.ProductRecord, error) {
	detailURL := extract.DetailURL(asin, marketplace)

	var page playwright.Page
	opened := false

	if existing := o.browser.FindPage("/dp/" + asin); existing != nil {
		// Reuse without bringing it to the front so the user is not yanked
		// onto the page mid-browse.
		o.logger.Info("reusing open detail page", "asin", asin, "url", existing.URL())
		page = existing
	} else {
		p, err := o.browser.NewPage()
		if err != nil {
			return nil, TabError{ASIN: asin, Err: fmt.Errorf("failed to open tab: %w", err)}
		}
		page = p
		opened = true

		if err := o.browser.NavigateWithRetry(page, detailURL, o.navRetries); err != nil {
			o.dispose(page, asin)
			return nil, TabError{ASIN: asin, Err: fmt.Errorf("navigation failed: %w", err)}
		}
	}

	record, err := o.extractFromPage(ctx, page, asin, marketplace)
	if opened {
		// An opened tab never outlives the call, success or not.
		o.dispose(page, asin)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (o *Orchestrator) extractFromPage(ctx context.Context, page playwright.Page, asin, marketplace string) (*models.ProductRecord, error) {
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateLoad,
	}); err != nil {
		return nil, TabError{ASIN: asin, Err: fmt.Errorf("load wait failed: %w", err)}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(o.settleDelay):
	}

	o.browser.Humanize(page)

	content, err := page.Content()
	if err != nil {
		return nil, TabError{ASIN: asin, Err: fmt.Errorf("failed to read page: %w", err)}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, TabError{ASIN: asin, Err: fmt.Errorf("failed to parse page: %w", err)}
	}
	if u, err := url.Parse(page.URL()); err == nil {
		doc.Url = u
	}

	record, err := extract.ProductFromDetail(doc, asin, page.URL(), o.includeRaw)
	if err != nil {
		return nil, err
	}
	record.Marketplace = marketplace
	record.Cleaned.Marketplace = marketplace
	return record, nil
}

func (o *Orchestrator) dispose(page playwright.Page, asin string) {
	if err := page.Close(); err != nil {
		o.logger.Warn("failed to close tab", "asin", asin, "error", err)
	}
}
