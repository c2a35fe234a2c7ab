package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// maxPartBytes bounds how much of a body part is read for the excerpt.
const maxPartBytes = 64 * 1024

// Excerpt returns up to limit runes of readable text from a raw message,
// preferring the text/plain part and falling back to a flattened text/html
// part. Returns "" when limit is zero or no text could be extracted.
func Excerpt(p *HTMLParser, raw []byte, limit int) string {
	if limit <= 0 || len(raw) == 0 {
		return ""
	}

	var plain, html string
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(ct, "text/plain") && plain == "":
			plain = string(body)
		case strings.HasPrefix(ct, "text/html") && html == "":
			html = string(body)
		}
	}

	text := strings.TrimSpace(plain)
	if text == "" && html != "" {
		if parsed, err := p.Parse(html); err == nil {
			text = parsed
		}
	}
	return truncate(text, limit)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
