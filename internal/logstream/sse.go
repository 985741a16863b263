package logstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"
)

// readSSE streams one job's events over HTTP until EOF, error or cancellation
func (o *Opener) readSSE(ctx context.Context, streamURL string, deliver func(string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mediaType != "text/event-stream" {
		return fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	o.logger.Debug().Str("url", streamURL).Msg("Log stream connected")

	return decodeEvents(resp.Body, o.cfg.EventName, o.cfg.MaxLineBytes, deliver)
}

// decodeEvents parses a text/event-stream body and delivers each matching
// event's data as one line. It returns nil on a clean EOF.
func decodeEvents(r io.Reader, eventName string, maxLineBytes int, deliver func(string)) error {
	lines := &lineReader{r: bufio.NewReaderSize(r, 4096), max: maxLineBytes}
	var dec eventDecoder

	for {
		line, tooLong, err := lines.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// An event without its terminating blank line is incomplete and dropped
				return nil
			}
			return err
		}
		if tooLong {
			dec.reset()
			deliver(fmt.Sprintf("%sdropped line longer than %d bytes", DiagnosticPrefix, maxLineBytes))
			continue
		}

		payload, ok := dec.feed(line)
		if !ok {
			continue
		}
		if dec.lastEvent != eventName {
			continue
		}
		if !utf8.ValidString(payload) {
			deliver(DiagnosticPrefix + "dropped event with invalid UTF-8")
			continue
		}
		deliver(payload)
	}
}

// eventDecoder accumulates fields until a blank line dispatches the event
type eventDecoder struct {
	data      []string
	hasData   bool
	event     string
	lastEvent string
}

// feed consumes one line and returns the event payload when the line dispatches one
func (d *eventDecoder) feed(line string) (string, bool) {
	if line == "" {
		if !d.hasData {
			d.reset()
			return "", false
		}
		payload := strings.Join(d.data, "\n")
		d.lastEvent = d.event
		if d.lastEvent == "" {
			d.lastEvent = defaultEventName
		}
		d.reset()
		return payload, true
	}

	if strings.HasPrefix(line, ":") {
		return "", false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "data":
		d.data = append(d.data, value)
		d.hasData = true
	case "event":
		d.event = value
	}
	// id, retry and unknown fields carry nothing for a log channel
	return "", false
}

func (d *eventDecoder) reset() {
	d.data = d.data[:0]
	d.hasData = false
	d.event = ""
}

// lineReader splits an event stream on LF, CRLF or a lone CR. Lines longer
// than max are consumed to their end and reported as tooLong.
type lineReader struct {
	r      *bufio.Reader
	max    int
	skipLF bool // previous line ended in CR; a following LF belongs to it
}

func (lr *lineReader) next() (line string, tooLong bool, err error) {
	var buf []byte
	for {
		b, readErr := lr.r.ReadByte()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) && (len(buf) > 0 || tooLong) {
				return string(buf), tooLong, nil
			}
			return "", false, readErr
		}

		if lr.skipLF {
			lr.skipLF = false
			if b == '\n' {
				continue
			}
		}

		switch b {
		case '\r':
			lr.skipLF = true
			return string(buf), tooLong, nil
		case '\n':
			return string(buf), tooLong, nil
		}

		if tooLong {
			continue
		}
		if len(buf) >= lr.max {
			tooLong = true
			buf = nil
			continue
		}
		buf = append(buf, b)
	}
}
