// Package client implements get/put/wget, thin CLI conveniences around
// a running Axon store: get and put talk to the store's HTTP front-end,
// wget drives the URL fetcher directly against a local store directory.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/wuxler/axon/internal/xhttp"
)

const defaultServerFlagCategory = "[Client]"

// subjectHeaderName mirrors axonhttp's subject header: the identity
// asserted by a caller, opaque to both sides of the wire.
const subjectHeaderName = "X-Axon-Subject"

// httpDoer is the subset of *http.Client that doRequest needs, so tests
// can stub a transport without standing up a real listener.
type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type directRequestKey struct{}

// isDirectRequest reports whether req was marked as sent without an
// asserted subject.
func isDirectRequest(ctx context.Context) bool {
	return ctx.Value(directRequestKey{}) != nil
}

// withDirectRequest marks ctx so the subject header is omitted even if
// one was set upstream; used when the caller gave no subject.
func withDirectRequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, directRequestKey{}, true)
}

type apiError struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Mesg   string `json:"mesg"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Mesg)
}

// doRequest issues an HTTP request against the server and returns the
// raw response, decoding an error envelope into an error if the status
// indicates failure. When subject is empty the request is marked as
// direct (no identity asserted) rather than silently sending an empty
// header; the store's AllowAll permitter accepts both, but a Permitter
// backed by real authorization would reasonably treat the two
// differently.
func doRequest(httpClient httpDoer, method, url, subject string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		req = req.WithContext(withDirectRequest(req.Context()))
	} else {
		req.Header.Set(subjectHeaderName, subject)
	}
	if isDirectRequest(req.Context()) {
		req.Header.Del(subjectHeaderName)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close() //nolint:errcheck // error path, body already consumed below
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil {
			var apiErr apiError
			if json.Unmarshal(data, &apiErr) == nil && apiErr.Mesg != "" {
				return nil, xhttp.MakeResponseError(resp, apiErr)
			}
		}
		return nil, xhttp.MakeResponseError(resp, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return resp, nil
}

// newHTTPClient returns a client with the given timeout. When debug is
// set, every request/response is dumped to stderr, which is handy when
// chasing down why a get/put against a remote store behaved oddly.
func newHTTPClient(timeout time.Duration, debug bool) *http.Client {
	transport := http.DefaultTransport
	if debug {
		dump := xhttp.NewDumpTransport(transport)
		dump.Out = os.Stderr
		transport = dump
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
