package discovery

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/model"
)

const headlessSourceName = "headless_browser"

// HeadlessSource renders the catalog page in a headless browser and runs
// the extractor cascade on the rendered DOM. The most expensive source, so
// it runs last and only when the scrape mode allows aggressive access.
type HeadlessSource struct {
	extractor *Extractor
	userAgent string
	timeout   time.Duration
}

// NewHeadlessSource creates a headless-browser source.
func NewHeadlessSource(extractor *Extractor, userAgent string, timeout time.Duration) *HeadlessSource {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HeadlessSource{extractor: extractor, userAgent: userAgent, timeout: timeout}
}

func (s *HeadlessSource) Name() string { return headlessSourceName }

func (s *HeadlessSource) Supports(target model.ScrapeTarget, mode model.ScrapeMode) bool {
	return mode == model.ScrapeModeAggressive || target.AllowAggressive
}

func (s *HeadlessSource) Discover(ctx context.Context, target model.ScrapeTarget) ([]model.ExtractedOffer, error) {
	html, err := s.render(ctx, target.PageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "headless: render %s", target.PageURL)
	}
	offers, _, invalidPricing, err := s.extractor.Extract(html, target)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 && invalidPricing {
		return nil, ErrInvalidPricing
	}
	return offers, nil
}

func (s *HeadlessSource) render(ctx context.Context, pageURL string) (string, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("window-size", "1920,1080"),
	)
	if s.userAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(s.userAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	runCtx, runCancel := context.WithTimeout(browserCtx, s.timeout)
	defer runCancel()

	headers := network.Headers{"Accept-Language": "en-US,en;q=0.9"}
	var html string
	start := time.Now()
	err := chromedp.Run(runCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.Navigate(pageURL),
		// Give client-side storefronts time to hydrate their catalog.
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", eris.Wrap(err, "headless: chromedp run")
	}
	zap.L().Debug("headless render complete",
		zap.String("url", pageURL),
		zap.Duration("took", time.Since(start)),
		zap.Int("bytes", len(html)),
	)
	return html, nil
}
