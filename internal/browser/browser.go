// Package browser wraps a playwright browser context: launch, page creation,
// navigation with retry, and the usual anti-bot countermeasures.
package browser

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9",
		TimezoneID:     "America/New_York",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--window-size=1920,1080",
			"--user-agent=" + opts.UserAgent,
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	}

	context, err := b.NewContext(contextOpts)
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: b,
		context: context,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

// NewPage opens a page in the shared context.
func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(DefaultOptions().Timeout.Milliseconds()))
	return page, nil
}

// FindPage returns the first open page whose URL contains fragment, or nil.
// Used to reuse a tab that already shows the wanted detail page.
func (b *Browser) FindPage(fragment string) playwright.Page {
	for _, page := range b.context.Pages() {
		if strings.Contains(page.URL(), fragment) {
			return page
		}
	}
	return nil
}

func (b *Browser) Context() playwright.BrowserContext {
	return b.context
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

// NavigateWithRetry drives the page to url, retrying transient failures with
// a linear backoff and handling the interstitial bot check when it appears.
func (b *Browser) NavigateWithRetry(page playwright.Page, url string, maxRetries int) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			time.Sleep(time.Duration(i+1) * time.Second)
		}

		_, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(30000),
		})
		if err == nil {
			bypassed, err := b.checkBotInterstitial(page)
			if err != nil {
				b.logger.Error("bot check handling failed", "error", err)
				lastErr = err
				continue
			}
			if bypassed {
				b.logger.Info("bot interstitial bypassed")
			}
			return nil
		}

		lastErr = err
		b.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// checkBotInterstitial clicks through the "Continue shopping" challenge page
// when Amazon serves it instead of the requested page.
func (b *Browser) checkBotInterstitial(page playwright.Page) (bool, error) {
	content, err := page.Content()
	if err != nil {
		return false, fmt.Errorf("failed to get page content: %w", err)
	}

	if !strings.Contains(content, "Continue shopping") &&
		!strings.Contains(content, "Click the button below to continue") {
		if strings.Contains(content, "Sorry! Something went wrong") {
			return false, fmt.Errorf("error page served")
		}
		return false, nil
	}

	b.logger.Info("bot interstitial detected, attempting bypass")
	selectors := []string{
		`button:has-text("Continue shopping")`,
		`input[type="submit"][value*="Continue"]`,
		`.a-button-primary`,
		`button.a-button-text`,
	}

	for _, selector := range selectors {
		button := page.Locator(selector).First()
		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}
		if err := button.Click(); err != nil {
			b.logger.Error("failed to click interstitial button", "error", err)
			continue
		}
		time.Sleep(3 * time.Second)

		after, _ := page.Content()
		if !strings.Contains(after, "Continue shopping") {
			return true, nil
		}
	}

	return false, fmt.Errorf("could not bypass bot interstitial")
}

// Humanize adds unremarkable mouse movement and scrolling before extraction.
func (b *Browser) Humanize(page playwright.Page) {
	for i := 0; i < 3; i++ {
		page.Mouse().Move(float64(100+i*200), float64(100+i*150))
		time.Sleep(time.Millisecond * time.Duration(200+i*100))
	}
	page.Evaluate(`window.scrollBy(0, Math.random() * 300)`)
	time.Sleep(time.Second)
}
