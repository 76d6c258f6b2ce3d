package openai

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode/utf8"
)

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"
)

// StreamDecoder turns a chunked chat/completions event stream into content deltas.
// Raw bytes are buffered until a line is complete, so multi-byte characters and
// invalid sequences decode the same way wherever the body was split.
// Data left over when the body ends is discarded.
type StreamDecoder struct {
	emit func(text string)
	line []byte
	done bool
}

// NewStreamDecoder returns a decoder that passes each non-empty delta to emit.
func NewStreamDecoder(emit func(text string)) *StreamDecoder {
	return &StreamDecoder{emit: emit}
}

// Write consumes the next chunk of the body. It reports true once the [DONE]
// marker has been seen; lines after the marker are never processed.
func (d *StreamDecoder) Write(chunk []byte) bool {
	if d.done {
		return true
	}

	for {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			d.line = append(d.line, chunk...)
			return false
		}

		d.line = append(d.line, chunk[:i]...)
		line := d.line
		d.line = nil
		chunk = chunk[i+1:]

		if d.handleLine(line) {
			d.done = true
			return true
		}
	}
}

// Done reports whether the [DONE] marker was reached.
func (d *StreamDecoder) Done() bool {
	return d.done
}

// handleLine parses one complete line. Invalid UTF-8 inside JSON strings is
// replaced byte by byte by the JSON decoder.
func (d *StreamDecoder) handleLine(line []byte) bool {
	line = bytes.TrimSuffix(line, []byte("\r"))
	payload, ok := bytes.CutPrefix(line, []byte(dataPrefix))
	if !ok {
		return false
	}

	payload = bytes.TrimSpace(payload)
	if string(payload) == doneMarker {
		return true
	}

	var chunk streamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		slog.Warn("skipping malformed stream line", "payload", strings.ToValidUTF8(string(payload), string(utf8.RuneError)), "err", err)
		return false
	}

	if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
		d.emit(chunk.Choices[0].Delta.Content)
	}
	return false
}
