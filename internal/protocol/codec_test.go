package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{
			name: "match payload",
			in: MatchPayload{
				Patient: map[string]any{"age": 54, "gender": "F"},
				Trials:  []map[string]any{{"trial_id": 7}},
			},
			want: `{"patient":{"age":54,"gender":"F"},"trials":[{"trial_id":7}]}`,
		},
		{
			name: "html characters are not escaped",
			in:   map[string]string{"note": "<b>&</b>"},
			want: `{"note":"<b>&</b>"}`,
		},
		{
			name:    "unsupported type",
			in:      map[string]any{"ch": make(chan int)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodePayload(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("EncodePayload() = %s, want %s", got, tt.want)
			}
			if strings.HasSuffix(got, "\n") {
				t.Error("payload must not end with a newline")
			}
		})
	}
}

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantErr    bool
		wantReason string
		checkFn    func(t *testing.T, v any)
	}{
		{
			name:  "object",
			input: `{"status":"success","matches":[1,2]}`,
			checkFn: func(t *testing.T, v any) {
				m, ok := v.(map[string]any)
				if !ok {
					t.Fatalf("expected object, got %T", v)
				}
				if m["status"] != "success" {
					t.Errorf("status = %v", m["status"])
				}
			},
		},
		{
			name:  "trailing whitespace tolerated",
			input: "[1,2,3]\n\n  \t",
			checkFn: func(t *testing.T, v any) {
				if arr, ok := v.([]any); !ok || len(arr) != 3 {
					t.Errorf("unexpected value %v", v)
				}
			},
		},
		{
			name:  "scalar document",
			input: "42\n",
			checkFn: func(t *testing.T, v any) {
				if v != float64(42) {
					t.Errorf("v = %v", v)
				}
			},
		},
		{
			name:       "empty output",
			input:      "",
			wantErr:    true,
			wantReason: "no output",
		},
		{
			name:       "whitespace only",
			input:      " \n",
			wantErr:    true,
			wantReason: "no output",
		},
		{
			name:       "not json",
			input:      "not-json",
			wantErr:    true,
			wantReason: "not valid JSON",
		},
		{
			name:       "two documents",
			input:      `{"a":1}{"b":2}`,
			wantErr:    true,
			wantReason: "more than one",
		},
		{
			name:       "document followed by garbage",
			input:      `{"a":1} trailing`,
			wantErr:    true,
			wantReason: "more than one",
		},
		{
			name:       "truncated document",
			input:      `{"a":`,
			wantErr:    true,
			wantReason: "not valid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeResult([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var derr *DecodeError
				if !errors.As(err, &derr) {
					t.Fatalf("expected *DecodeError, got %T", err)
				}
				if !strings.Contains(derr.Reason, tt.wantReason) {
					t.Errorf("Reason = %q, want containing %q", derr.Reason, tt.wantReason)
				}
				if string(derr.Raw) != tt.input {
					t.Errorf("Raw = %q, want %q", derr.Raw, tt.input)
				}
				return
			}
			if tt.checkFn != nil {
				tt.checkFn(t, v)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate([]byte("short"), 10); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	got := Truncate([]byte(strings.Repeat("x", 20)), 8)
	if !strings.HasPrefix(got, "xxxxxxxx...") || !strings.Contains(got, "truncated 12 bytes") {
		t.Errorf("Truncate long = %q", got)
	}
	// "é" is two bytes; cutting at 1 must not split it.
	got = Truncate([]byte("éé"), 1)
	if !strings.HasPrefix(got, "...") {
		t.Errorf("Truncate should back off to a rune boundary, got %q", got)
	}
}
