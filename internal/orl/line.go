package orl

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidFormat is returned when a line cannot be split into a
// timestamp/username/text triple, or its timestamp field fails to parse.
var ErrInvalidFormat = errors.New("orl: invalid line format")

// Record is a single decoded, un-normalized ORL log line.
type Record struct {
	Timestamp time.Time
	Username  string
	Text      string
}

// ParseMessageLine decodes one ORL log line of the form
// "[<timestamp>] <username>: <text>". The first "]" ends the timestamp
// field; the first ":" after that ends the username field. Newlines inside
// text collapse to single spaces.
func ParseMessageLine(line string) (Record, error) {
	bracketEnd := strings.IndexByte(line, ']')
	if bracketEnd < 0 {
		return Record{}, ErrInvalidFormat
	}
	tsField := line[:bracketEnd]
	tsField = strings.TrimPrefix(tsField, "[")
	tsField = strings.TrimSpace(tsField)

	ts, err := ParseTimestamp(tsField)
	if err != nil {
		return Record{}, ErrInvalidFormat
	}

	rest := line[bracketEnd+1:]
	colonIdx := strings.IndexByte(rest, ':')
	if colonIdx < 0 {
		return Record{}, ErrInvalidFormat
	}

	username := strings.TrimSpace(rest[:colonIdx])
	text := strings.TrimSpace(rest[colonIdx+1:])
	text = strings.ReplaceAll(text, "\n", " ")

	return Record{
		Timestamp: ts,
		Username:  username,
		Text:      text,
	}, nil
}
