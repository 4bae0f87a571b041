package email

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxBodySize bounds how much of each text part is read.
const maxBodySize = 32 * 1024

// parseBody walks the MIME structure and returns the readable text of
// the message, preferring text/plain over text/html.
//
// mail.CreateReader and NextPart may return both a usable reader and
// an error for unknown charsets; those are treated as non-fatal.
func parseBody(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return "", fmt.Errorf("create mail reader: %w", err)
	}
	if mr == nil {
		return "", fmt.Errorf("create mail reader returned nil")
	}

	var plain, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return firstNonEmpty(plain, textFromHTML(htmlBody)), fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()

		switch {
		case contentType == "text/plain" && plain == "":
			body, err := io.ReadAll(io.LimitReader(part.Body, maxBodySize))
			if err == nil {
				plain = strings.TrimSpace(string(body))
			}
		case contentType == "text/html" && htmlBody == "":
			body, err := io.ReadAll(io.LimitReader(part.Body, maxBodySize))
			if err == nil {
				htmlBody = string(body)
			}
		}
	}
	return firstNonEmpty(plain, textFromHTML(htmlBody)), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Snippet collapses whitespace and truncates text to at most n runes,
// appending an ellipsis when shortened.
func Snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n])) + "…"
}
