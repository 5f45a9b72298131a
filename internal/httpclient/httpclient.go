// Package httpclient provides uniform creation of the HTTP clients used to
// talk to the remote data service.
package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

type clientOpts struct {
	timeout   time.Duration
	noFollow  bool
	userAgent string
	transport http.RoundTripper
}

// ClientOpt is the type for the client-specific options.
type ClientOpt func(o *clientOpts)

// WithTimeout sets the whole-request timeout of the client. Zero means no
// timeout.
func WithTimeout(t time.Duration) ClientOpt {
	return func(o *clientOpts) {
		o.timeout = t
	}
}

// WithFollowRedir configures the client to follow redirections or not.
func WithFollowRedir(follow bool) ClientOpt {
	return func(o *clientOpts) {
		o.noFollow = !follow
	}
}

// WithUserAgent sets the User-Agent header on requests that carry none.
func WithUserAgent(ua string) ClientOpt {
	return func(o *clientOpts) {
		o.userAgent = ua
	}
}

// WithTransport replaces the pooled transport, mostly for tests.
func WithTransport(rt http.RoundTripper) ClientOpt {
	return func(o *clientOpts) {
		o.transport = rt
	}
}

// NewClient returns an HTTP client configured according to the provided
// options. It starts from a pooled transport that does not share state
// with http.DefaultTransport.
func NewClient(opts ...ClientOpt) *http.Client {
	var co clientOpts
	for _, opt := range opts {
		opt(&co)
	}

	var rt http.RoundTripper = cleanhttp.DefaultPooledTransport()
	if co.transport != nil {
		rt = co.transport
	}
	if co.userAgent != "" {
		rt = &userAgentTransport{next: rt, userAgent: co.userAgent}
	}

	cli := &http.Client{
		Timeout:   co.timeout,
		Transport: rt,
	}
	if co.noFollow {
		cli.CheckRedirect = noFollowRedirect
	}
	return cli
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(req)
}

func noFollowRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}
