package protocol

// MatchPayload is the document handed to the worker for a matching request.
type MatchPayload struct {
	Patient any `json:"patient"`
	Trials  any `json:"trials"`
}

// DefaultRawLimit bounds the raw output echoed back in decode diagnostics.
const DefaultRawLimit = 4 * 1024
