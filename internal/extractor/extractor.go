// Package extractor turns bank alert payloads into structured payment fields.
//
// Everything here is pure: no I/O and no state. Normalisation beyond trimming
// and case-folding belongs to the matcher.
package extractor

import (
	"encoding/base64"
	"regexp"
	"strings"

	"payment_verification_gateway/internal/model"
)

const (
	mimeHTML  = "text/html"
	mimePlain = "text/plain"
)

var (
	amountPattern    = regexp.MustCompile(`(?i)Rs\.?\s?([0-9][0-9,]*(?:\.[0-9]+)?)`)
	vpaPattern       = regexp.MustCompile(`(?i)by VPA\s+(\S+)`)
	payerPattern     = regexp.MustCompile(`(?i)by VPA\s+\S+\s+([a-z][a-z ]*?)\s*(?:\bon\b|[^a-z ]|$)`)
	referencePattern = regexp.MustCompile(`(?i)reference number is\s+([0-9]+)`)
)

// Extract resolves the notification body and parses it
func Extract(n model.Notification) model.Extracted {
	return Parse(Body(n.Payload))
}

// Body picks the best textual representation of a payload. HTML wins over
// plain text at any depth; among several HTML parts the last one wins.
func Body(part model.MessagePart) string {
	if len(part.Parts) == 0 {
		return decode(part.Data)
	}

	var html, plain string
	var haveHTML, havePlain bool
	walk(part.Parts, func(p model.MessagePart) {
		if p.Data == "" {
			return
		}
		switch strings.ToLower(p.MimeType) {
		case mimeHTML:
			html, haveHTML = decode(p.Data), true
		case mimePlain:
			plain, havePlain = decode(p.Data), true
		}
	})

	switch {
	case haveHTML:
		return html
	case havePlain:
		return plain
	default:
		return ""
	}
}

func walk(parts []model.MessagePart, visit func(model.MessagePart)) {
	for _, p := range parts {
		visit(p)
		if len(p.Parts) > 0 {
			walk(p.Parts, visit)
		}
	}
}

// decode accepts the url-safe alphabet used by mail APIs as well as standard base64
func decode(data string) string {
	if data == "" {
		return ""
	}
	encodings := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	for _, enc := range encodings {
		if b, err := enc.DecodeString(data); err == nil {
			return string(b)
		}
	}
	return ""
}

// Parse applies the HDFC UPI credit alert patterns to a decoded body
func Parse(body string) model.Extracted {
	var out model.Extracted

	if m := amountPattern.FindStringSubmatch(body); m != nil {
		out.Amount = strPtr(strings.TrimSpace(m[1]))
	}
	if m := vpaPattern.FindStringSubmatch(body); m != nil {
		out.VPA = strPtr(strings.ToLower(strings.TrimSpace(m[1])))
	}
	if m := payerPattern.FindStringSubmatch(body); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			out.PayerToken = strPtr(strings.ToLower(name))
		}
	}
	if m := referencePattern.FindStringSubmatch(body); m != nil {
		out.ReferenceID = strPtr(m[1])
	}

	return out
}

func strPtr(s string) *string {
	return &s
}
