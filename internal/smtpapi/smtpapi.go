// Package smtpapi renders the X-SMTPAPI header that lets provider callbacks be
// correlated back to a tracked send.
package smtpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// HeaderName is the header the provider reads unique arguments from.
const HeaderName = "X-SMTPAPI"

// TrackerIDPlaceholder is replaced with the tracker id in message bodies.
const TrackerIDPlaceholder = "##tracker_id##"

const (
	lineWidth = 76
	lineBreak = "\n   "
)

var separatorSpacing = regexp.MustCompile(`(["\]}])([,:])(["\[{])`)

type uniqueArgs struct {
	TrackerID int64 `json:"tracker_id"`
}

type header struct {
	UniqueArgs uniqueArgs `json:"unique_args"`
	Category   string     `json:"category,omitempty"`
}

// Header renders the folded header value for trackerID. An empty category is omitted.
func Header(trackerID int64, category string) (string, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(header{UniqueArgs: uniqueArgs{TrackerID: trackerID}, Category: category}); err != nil {
		return "", fmt.Errorf("failed to encode %s header: %w", HeaderName, err)
	}

	value := separatorSpacing.ReplaceAllString(strings.TrimSpace(buf.String()), "$1$2 $3")

	return fold(value, lineWidth, lineBreak), nil
}

// ReplaceTrackerID substitutes every placeholder in body with trackerID.
func ReplaceTrackerID(body string, trackerID int64) string {
	return strings.ReplaceAll(body, TrackerIDPlaceholder, strconv.FormatInt(trackerID, 10))
}

// fold breaks s at spaces so no line exceeds width, unless a single word is longer.
func fold(s string, width int, br string) string {
	words := strings.Split(s, " ")

	var (
		out     strings.Builder
		lineLen int
	)
	for i, word := range words {
		switch {
		case i == 0:
		case lineLen+1+len(word) > width:
			out.WriteString(br)
			lineLen = 0
		default:
			out.WriteByte(' ')
			lineLen++
		}
		out.WriteString(word)
		lineLen += len(word)
	}

	return out.String()
}
