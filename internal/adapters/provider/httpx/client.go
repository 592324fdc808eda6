// Package httpx holds the HTTP plumbing shared by provider adapters:
// a pooled client and the translation of transport outcomes into SendResults.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"channel-gateway/internal/ports"
)

// maxResponseBody caps how much of a provider response is read.
const maxResponseBody = 1 << 20

// NewClient returns an HTTP client with connection pooling. Timeout bounds
// a whole request; adapters additionally derive a per-send context deadline.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Response is a fully read provider response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Do sends req and reads the whole response body.
func Do(client *http.Client, req *http.Request) (Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// ClassifyStatus maps an unsuccessful HTTP status onto a failure class.
func ClassifyStatus(code int) ports.FailureClass {
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return ports.FailureTransient
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ports.FailureConfiguration
	default:
		return ports.FailurePermanent
	}
}

// TransportFailure converts an error from Do into a failed SendResult.
// Every transport error is transient.
func TransportFailure(provider string, err error) ports.SendResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return ports.Failed(ports.FailureTransient, provider+": request timed out")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ports.Failed(ports.FailureTransient, provider+": request timed out")
	}
	return ports.Failed(ports.FailureTransient, fmt.Sprintf("%s: %v", provider, err))
}

// StatusFailure converts a non-2xx response into a failed SendResult.
func StatusFailure(provider string, code int, detail string) ports.SendResult {
	reason := fmt.Sprintf("%s returned %d", provider, code)
	if detail != "" {
		reason += ": " + detail
	}
	return ports.Failed(ClassifyStatus(code), reason)
}
