package news

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/nugget/majordomo/internal/httpkit"
)

// maxFeedBytes bounds how much of a feed is read.
const maxFeedBytes = 4 << 20

var errNotFeed = errors.New("unrecognized feed format (expected RSS or Atom)")

// Feed is an RSS 2.0, RSS 1.0 (RDF), or Atom document reduced to what
// the headline compiler needs.
type Feed struct {
	Title   string
	Entries []Entry
}

// Entry is one item (RSS) or entry (Atom), in document order.
type Entry struct {
	Title     string
	Published time.Time
}

// parseFeed walks the document token by token so the three dialects
// share one pass. Items in RSS 1.0 sit beside the channel rather than
// inside it, which this handles without a separate schema.
func parseFeed(r io.Reader) (*Feed, error) {
	d := xml.NewDecoder(r)
	d.CharsetReader = charset.NewReaderLabel
	d.Strict = false
	d.Entity = xml.HTMLEntity

	var (
		feed  Feed
		path  []string
		entry *Entry
		root  bool
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse feed: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if !root {
				if name != "rss" && name != "RDF" && name != "feed" {
					return nil, errNotFeed
				}
				root = true
			}

			switch {
			case name == "item" || name == "entry":
				entry = &Entry{}
			case name == "title":
				var s string
				if err := d.DecodeElement(&s, &t); err != nil {
					return nil, fmt.Errorf("parse feed title: %w", err)
				}
				if entry != nil {
					entry.Title = s
				} else if feed.Title == "" {
					feed.Title = strings.TrimSpace(s)
				}
				continue
			case entry != nil && isDateElement(name):
				var s string
				if err := d.DecodeElement(&s, &t); err != nil {
					return nil, fmt.Errorf("parse feed date: %w", err)
				}
				// Atom's <published> beats <updated> whichever comes first.
				if ts := parseDate(s); !ts.IsZero() && (entry.Published.IsZero() || name == "published") {
					entry.Published = ts
				}
				continue
			}
			path = append(path, name)

		case xml.EndElement:
			if len(path) == 0 {
				continue
			}
			path = path[:len(path)-1]
			if (t.Name.Local == "item" || t.Name.Local == "entry") && entry != nil {
				feed.Entries = append(feed.Entries, *entry)
				entry = nil
			}
		}
	}

	if !root {
		return nil, errNotFeed
	}
	return &feed, nil
}

func isDateElement(name string) bool {
	switch name {
	case "pubDate", "date", "published", "updated":
		return true
	}
	return false
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// fetchFeed downloads and parses one feed.
func fetchFeed(ctx context.Context, c *http.Client, url string) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8")

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<16)

	if resp.StatusCode != http.StatusOK {
		return nil, &httpkit.StatusError{Code: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 256)}
	}
	return parseFeed(io.LimitReader(resp.Body, maxFeedBytes))
}
