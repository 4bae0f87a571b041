// Package email implements the summarize_recent_emails capability: a
// read-only IMAP view of the newest messages in one folder.
package email

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nugget/majordomo/internal/capability"
)

// NoMessages is the capability output for an empty folder.
const NoMessages = "No new emails found."

const snippetLength = 160

// Message is the summary of one email.
type Message struct {
	UID     uint32
	Date    time.Time
	From    string
	Subject string
	Snippet string
}

// drainLiteral reads and discards the rest of an IMAP literal so the
// stream stays in sync. Nil readers are handled gracefully.
func drainLiteral(r imap.LiteralReader) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}

func sortNewestFirst(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].UID > msgs[j].UID })
}

// Reader lists recent messages.
type Reader interface {
	Recent(ctx context.Context, folder string, limit int) ([]Message, error)
}

// Inbox formats recent mail for the synthesizer.
type Inbox struct {
	reader Reader
	folder string
	count  int
	logger *slog.Logger
}

// NewInbox creates an Inbox reading count messages from folder.
func NewInbox(reader Reader, folder string, count int, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{reader: reader, folder: folder, count: count, logger: logger}
}

// Invoke implements [capability.Invoker] for summarize_recent_emails.
func (in *Inbox) Invoke(ctx context.Context, _ capability.Args) (string, error) {
	msgs, err := in.reader.Recent(ctx, in.folder, in.count)
	if err != nil {
		return "", fmt.Errorf("email: %w", err)
	}
	in.logger.Debug("mailbox read", "folder", in.folder, "messages", len(msgs))
	return Format(msgs), nil
}

// Format renders messages as the capability output.
func Format(msgs []Message) string {
	if len(msgs) == 0 {
		return NoMessages
	}
	var b strings.Builder
	b.WriteString("Recent Emails: ")
	for _, m := range msgs {
		subject := m.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		fmt.Fprintf(&b, "[Subject: %s | Snippet: %s] ", subject, m.Snippet)
	}
	return strings.TrimSpace(b.String())
}
