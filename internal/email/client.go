package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nugget/majordomo/internal/config"
)

// Client is a single-account IMAP client that wraps go-imap/v2 with
// automatic reconnection and mutex-serialized access. All public
// methods are goroutine-safe.
type Client struct {
	cfg    config.IMAPConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewClient creates an IMAP client. The connection is established
// lazily on first use.
func NewClient(cfg config.IMAPConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

// connectLocked dials and authenticates. Caller must hold c.mu.
func (c *Client) connectLocked() error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	var opts imapclient.Options
	if c.cfg.TLS {
		opts.TLSConfig = &tls.Config{ServerName: c.cfg.Host}
	}

	c.logger.Debug("connecting to IMAP server", "host", c.cfg.Host, "port", c.cfg.Port, "tls", c.cfg.TLS)

	var client *imapclient.Client
	var err error
	if c.cfg.TLS {
		client, err = imapclient.DialTLS(addr, &opts)
	} else {
		client, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}

	c.client = client
	c.logger.Info("IMAP connected", "host", c.cfg.Host, "user", c.cfg.Username)
	return nil
}

// ensureConnected reconnects when the session has gone stale.
// Caller must hold c.mu.
func (c *Client) ensureConnected() error {
	if c.client != nil {
		if err := c.client.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("IMAP connection stale, reconnecting", "host", c.cfg.Host)
	}
	return c.connectLocked()
}

// Ping checks that the IMAP connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnected()
}

// Close logs out and closes the IMAP connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// Recent returns the newest limit messages of folder, newest first.
// Bodies are fetched with PEEK so reading does not mark mail as seen.
func (c *Client) Recent(ctx context.Context, folder string, limit int) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	if folder == "" {
		folder = "INBOX"
	}
	if limit <= 0 {
		limit = 5
	}

	if _, err := c.client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	searchData, err := c.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	var set imap.UIDSet
	set.AddNum(uids...)

	fetchCmd := c.client.Fetch(set, &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	})

	var msgs []Message
	for {
		data := fetchCmd.Next()
		if data == nil {
			break
		}
		msgs = append(msgs, c.readMessage(data))
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", folder, err)
	}

	sortNewestFirst(msgs)
	return msgs, nil
}

// readMessage consumes one fetch response. Body literals must be read
// inside the item loop; go-imap discards unread literals on Next.
func (c *Client) readMessage(data *imapclient.FetchMessageData) Message {
	var msg Message
	for {
		item := data.Next()
		if item == nil {
			break
		}
		switch it := item.(type) {
		case imapclient.FetchItemDataUID:
			msg.UID = uint32(it.UID)
		case imapclient.FetchItemDataEnvelope:
			if it.Envelope != nil {
				msg.Subject = it.Envelope.Subject
				msg.Date = it.Envelope.Date
				if len(it.Envelope.From) > 0 {
					msg.From = formatAddress(it.Envelope.From[0])
				}
			}
		case imapclient.FetchItemDataBodySection:
			if it.Literal == nil {
				continue
			}
			body, err := parseBody(it.Literal)
			drainLiteral(it.Literal)
			if err != nil {
				c.logger.Debug("body parse error", "uid", msg.UID, "error", err)
			}
			msg.Snippet = Snippet(body, snippetLength)
		}
	}
	return msg
}

// formatAddress formats an IMAP address as "Name <user@host>" or
// just "user@host" if no name is set.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}
