package logstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAll(t *testing.T, body string, eventName string, maxLine int) []string {
	t.Helper()
	var lines []string
	err := decodeEvents(strings.NewReader(body), eventName, maxLine, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	return lines
}

func TestDecodeEvents(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		eventName string
		want      []string
	}{
		{
			name:      "single data lines",
			body:      "data: init\n\ndata: fetching page\n\n",
			eventName: "message",
			want:      []string{"init", "fetching page"},
		},
		{
			name:      "multi-line data is one line",
			body:      "data: first\ndata: second\n\n",
			eventName: "message",
			want:      []string{"first\nsecond"},
		},
		{
			name:      "keep-alive comments ignored",
			body:      ": keep-alive\n\ndata: a\n\n: keep-alive\n\n",
			eventName: "message",
			want:      []string{"a"},
		},
		{
			name:      "id and retry ignored",
			body:      "id: 7\nretry: 1000\ndata: a\n\nretry: 5\n\n",
			eventName: "message",
			want:      []string{"a"},
		},
		{
			name:      "other event names filtered",
			body:      "event: status\ndata: running\n\nevent: message\ndata: b\n\ndata: c\n\n",
			eventName: "message",
			want:      []string{"b", "c"},
		},
		{
			name:      "custom event name",
			body:      "event: log\ndata: x\n\ndata: y\n\n",
			eventName: "log",
			want:      []string{"x"},
		},
		{
			name:      "crlf terminators",
			body:      "data: a\r\n\r\ndata: b\r\n\r\n",
			eventName: "message",
			want:      []string{"a", "b"},
		},
		{
			name:      "cr-only terminators",
			body:      "data: a\r\rdata: b\r\r",
			eventName: "message",
			want:      []string{"a", "b"},
		},
		{
			name:      "mixed terminators",
			body:      "data: a\r\ndata: b\r\rdata: c\n\r\n",
			eventName: "message",
			want:      []string{"a\nb", "c"},
		},
		{
			name:      "no space after colon",
			body:      "data:tight\n\n",
			eventName: "message",
			want:      []string{"tight"},
		},
		{
			name:      "empty data field",
			body:      "data\n\ndata:\n\n",
			eventName: "message",
			want:      []string{"", ""},
		},
		{
			name:      "unterminated event dropped",
			body:      "data: done\n\ndata: partial",
			eventName: "message",
			want:      []string{"done"},
		},
		{
			name:      "blank lines without data",
			body:      "\n\n\ndata: a\n\n",
			eventName: "message",
			want:      []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeAll(t, tt.body, tt.eventName, 1024))
		})
	}
}

func TestDecodeEvents_OversizedLine(t *testing.T) {
	long := strings.Repeat("x", 200)
	body := "data: before\n\ndata: " + long + "\n\ndata: after\n\n"

	lines := decodeAll(t, body, "message", 64)

	require.Len(t, lines, 3)
	assert.Equal(t, "before", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], DiagnosticPrefix))
	assert.Contains(t, lines[1], "64 bytes")
	assert.Equal(t, "after", lines[2])
}

func TestDecodeEvents_OversizedLineBeyondBuffer(t *testing.T) {
	long := strings.Repeat("y", 10000)
	body := "data: " + long + "\n\ndata: ok\n\n"

	lines := decodeAll(t, body, "message", 5000)

	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], DiagnosticPrefix))
	assert.Equal(t, "ok", lines[1])
}

func TestDecodeEvents_LongLineWithinLimit(t *testing.T) {
	long := strings.Repeat("z", 9000)

	lines := decodeAll(t, "data: "+long+"\n\n", "message", 10000)

	assert.Equal(t, []string{long}, lines)
}

func TestDecodeEvents_InvalidUTF8(t *testing.T) {
	body := "data: good\n\ndata: \xff\xfe\n\ndata: also good\n\n"

	lines := decodeAll(t, body, "message", 1024)

	require.Len(t, lines, 3)
	assert.Equal(t, "good", lines[0])
	assert.Equal(t, DiagnosticPrefix+"dropped event with invalid UTF-8", lines[1])
	assert.Equal(t, "also good", lines[2])
}
