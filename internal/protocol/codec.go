package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// EncodePayload serializes v into the single JSON argument handed to the worker.
// HTML escaping is disabled so the worker receives the document verbatim.
func EncodePayload(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// DecodeError reports worker output that is not exactly one JSON document.
type DecodeError struct {
	Reason string
	Raw    []byte
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeResult parses data as exactly one JSON document. Leading and trailing
// whitespace is tolerated; empty input, malformed JSON and additional
// top-level values are errors.
func DecodeResult(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &DecodeError{Reason: "worker produced no output on stdout", Raw: data}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &DecodeError{Reason: "worker output is not valid JSON", Raw: data, Err: err}
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			err = fmt.Errorf("trailing value %s", Truncate(extra, 64))
		}
		return nil, &DecodeError{Reason: "worker output contains more than one JSON document", Raw: data, Err: err}
	}

	return v, nil
}

// Truncate returns at most limit bytes of data as a string without splitting a
// UTF-8 sequence, marking the cut.
func Truncate(data []byte, limit int) string {
	if limit <= 0 || len(data) <= limit {
		return string(data)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return string(data[:cut]) + fmt.Sprintf("... [truncated %d bytes]", len(data)-cut)
}
