package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// HTTPLauncher hands the payload to a worker that is already running as an
// HTTP service. The JSON payload is POSTed as the request body; a 2xx response
// body is treated like a clean exit's stdout and any other status like a
// nonzero exit whose stderr is the response body.
type HTTPLauncher struct {
	URL            string
	Client         *http.Client
	MaxOutputBytes int
}

// Launch posts the payload and waits for the response or ctx.
func (l *HTTPLauncher) Launch(ctx context.Context, req LaunchRequest) (*Output, error) {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, deadlineError(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.URL, strings.NewReader(req.Payload))
	if err != nil {
		return nil, newError(KindSpawn, fmt.Errorf("build request: %w", err), "")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	logger.Debug("posting to worker", "url", l.URL, "payload_bytes", len(req.Payload))
	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, deadlineError(ctx.Err())
		}
		return nil, newError(KindSpawn, fmt.Errorf("post to worker: %w", err), err.Error())
	}
	defer resp.Body.Close()
	if req.Started != nil {
		req.Started(0)
	}

	body := cappedBuffer{limit: l.MaxOutputBytes}
	chunk := make([]byte, readChunkSize)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			body.write(chunk[:n])
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return nil, deadlineError(ctx.Err())
			}
			return nil, newError(KindRuntime, fmt.Errorf("read worker response: %w", rerr), body.buf.String())
		}
	}

	out := &Output{Overflow: body.dropped}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.ExitCode = resp.StatusCode
		out.Stderr = body.buf.Bytes()
		return out, nil
	}
	out.Stdout = body.buf.Bytes()
	return out, nil
}
