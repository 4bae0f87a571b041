package api

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// renderHTML converts a markdown response to HTML. Model answers
// routinely contain lists and emphasis.
func renderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
