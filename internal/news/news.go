// Package news implements the compile_news_reports capability: it
// fetches a selection of RSS feeds and flattens their top headlines
// into tagged lines for the synthesizer.
package news

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/majordomo/internal/capability"
	"github.com/nugget/majordomo/internal/config"
	"github.com/nugget/majordomo/internal/httpkit"
)

// NoHeadlines is returned as the capability output when no selected
// feed produced a headline.
const NoHeadlines = "ERROR: No news headlines could be retrieved from the selected feeds."

// Compiler fetches and aggregates headlines.
type Compiler struct {
	feeds       map[string]string // upper-case key → URL
	defaults    []string
	perFeed     int
	concurrency int
	httpClient  *http.Client
	logger      *slog.Logger
}

// New creates a Compiler. Some institutional sites filter bot user
// agents, so feeds are fetched with a browser user agent.
func New(cfg config.NewsConfig, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	feeds := make(map[string]string, len(cfg.Feeds))
	for k, v := range cfg.Feeds {
		feeds[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	c := &Compiler{
		feeds:       feeds,
		defaults:    cfg.Defaults,
		perFeed:     cfg.PerFeed,
		concurrency: cfg.Concurrency,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(20*time.Second),
			httpkit.WithUserAgent(httpkit.BrowserUserAgent),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
	if len(c.defaults) == 0 {
		c.defaults = config.DefaultNewsSelection()
	}
	if c.perFeed <= 0 {
		c.perFeed = 3
	}
	if c.concurrency <= 0 {
		c.concurrency = 4
	}
	return c
}

// Sources returns the configured feed keys.
func (c *Compiler) Sources() map[string]string {
	out := make(map[string]string, len(c.feeds))
	for k, v := range c.feeds {
		out[k] = v
	}
	return out
}

// selection normalizes requested keys: blank and unknown keys are
// dropped, duplicates collapse, order is kept. An empty request means
// the default selection.
func (c *Compiler) selection(sources []string) []string {
	if len(sources) == 0 {
		sources = c.defaults
	}
	seen := make(map[string]bool, len(sources))
	var keys []string
	for _, s := range sources {
		key := strings.ToUpper(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		if _, ok := c.feeds[key]; !ok {
			c.logger.Debug("unknown news source skipped", "source", s)
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// Compile fetches the selected feeds concurrently and returns one
// "[KEY] : title" line per headline, feeds in request order. A feed
// that fails is logged and skipped. When nothing was retrieved the
// result is [NoHeadlines].
func (c *Compiler) Compile(ctx context.Context, sources []string) string {
	keys := c.selection(sources)
	results := make([][]string, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			feed, err := fetchFeed(gctx, c.httpClient, c.feeds[key])
			if err != nil {
				c.logger.Warn("news feed failed", "source", key, "error", err)
				return nil
			}
			results[i] = c.headlines(key, feed)
			return nil
		})
	}
	g.Wait()

	var lines []string
	for _, r := range results {
		lines = append(lines, r...)
	}
	if len(lines) == 0 {
		return NoHeadlines
	}
	c.logger.Debug("news compiled", "sources", len(keys), "headlines", len(lines))
	return strings.Join(lines, "\n")
}

func (c *Compiler) headlines(key string, feed *Feed) []string {
	var out []string
	for _, e := range feed.Entries {
		if len(out) == c.perFeed {
			break
		}
		title := strings.Join(strings.Fields(e.Title), " ")
		if title == "" {
			continue
		}
		out = append(out, fmt.Sprintf("[%s] : %s", key, title))
	}
	return out
}

// Invoke implements [capability.Invoker] for compile_news_reports.
func (c *Compiler) Invoke(ctx context.Context, args capability.Args) (string, error) {
	return c.Compile(ctx, args.Strings("sources")), nil
}
