package gitsync

import (
	"net/http"
	"net/http/httputil"

	"github.com/go-git/go-git/v5/plumbing/transport/client"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/enmesarru/glone/internal/logging"
)

// LoggingTransport is an http.RoundTripper that logs requests and responses.
// Pack data is not logged and credentials are redacted.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *logging.Logger
}

// NewLoggingTransport creates a new LoggingTransport. If transport is nil,
// http.DefaultTransport is used.
func NewLoggingTransport(transport http.RoundTripper, logger *logging.Logger) *LoggingTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &LoggingTransport{
		Transport: transport,
		Logger:    logger,
	}
}

// RoundTrip executes a single HTTP transaction, logging the request and response.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	logged := req
	if req.Header.Get("Authorization") != "" {
		logged = req.Clone(req.Context())
		logged.Header.Set("Authorization", "REDACTED")
	}

	reqDump, err := httputil.DumpRequestOut(logged, false)
	if err != nil {
		t.Logger.Debugf("Error dumping request: %v", err)
	} else {
		t.Logger.Debugf("Request:\n%s", string(reqDump))
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.Logger.Debugf("Error making request: %v", err)
		return resp, err
	}

	respDump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		t.Logger.Debugf("Error dumping response: %v", err)
	} else {
		t.Logger.Debugf("Response:\n%s", string(respDump))
	}

	return resp, nil
}

// InstallDebugTransport routes the http and https git transports through a
// LoggingTransport. It affects every synchronizer of the process.
func InstallDebugTransport(logger *logging.Logger) {
	transport := githttp.NewClient(&http.Client{Transport: NewLoggingTransport(nil, logger)})
	client.InstallProtocol("http", transport)
	client.InstallProtocol("https", transport)
}
