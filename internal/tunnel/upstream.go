// ABOUTME: Performs the actual HTTP call against the origin server.
// ABOUTME: Failures collapse to a synthetic 500 response envelope.

package tunnel

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"

	"github.com/2389/tunnelgate/internal/config"
	"github.com/2389/tunnelgate/internal/envelope"
)

// upstreamDoer abstracts the HTTP client so tests can substitute one.
type upstreamDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// newUpstream builds the shared origin-facing HTTP client. TLS
// verification follows proxy.ssl.rejectUnauthorized; the per-call
// timeout mirrors the broker's request deadline, since anything slower
// has already been answered with a 504 on the other side.
func newUpstream(cfg *config.Config) *http.Client {
	return &http.Client{
		Timeout: cfg.RequestTimeout(),
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !cfg.Client.Proxy.SSL.RejectUnauthorized,
			},
		},
	}
}

// perform resolves the target URL and issues the upstream call. Any
// failure on the way to the origin — bad URL, connect error, timeout,
// body read — produces the synthetic 500 envelope.
func (c *Client) perform(ctx context.Context, req *envelope.Request) *envelope.Response {
	target := c.resolveTarget(req.URL)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		c.logger.Error("building upstream request",
			"request_id", req.RequestID,
			"url", target,
			"error", err,
		)
		return failureResponse(req)
	}

	for name, values := range req.Headers {
		// The upstream client derives Host from the target URL.
		if strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	httpResp, err := c.upstream.Do(httpReq)
	if err != nil {
		c.logger.Error("upstream call failed",
			"request_id", req.RequestID,
			"url", target,
			"error", err,
		)
		return failureResponse(req)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.logger.Error("reading upstream response body",
			"request_id", req.RequestID,
			"url", target,
			"error", err,
		)
		return failureResponse(req)
	}

	c.logger.Debug("upstream call completed",
		"request_id", req.RequestID,
		"url", target,
		"status_code", httpResp.StatusCode,
	)

	return &envelope.Response{
		ClientID:   req.ClientID,
		RequestID:  req.RequestID,
		StatusCode: httpResp.StatusCode,
		Headers:    envelope.Header(httpResp.Header),
		Body:       body,
	}
}

// failureResponse is the synthetic envelope for any upstream failure.
func failureResponse(req *envelope.Request) *envelope.Response {
	return &envelope.Response{
		ClientID:   req.ClientID,
		RequestID:  req.RequestID,
		StatusCode: http.StatusInternalServerError,
		Headers:    envelope.Header{},
		Body:       []byte("Internal Server Error"),
	}
}
