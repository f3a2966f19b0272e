package flawless

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"

	"github.com/samsarahq/flawless/cache"
	"github.com/samsarahq/flawless/clireporter"
	"github.com/samsarahq/flawless/config"
	"github.com/samsarahq/go/oops"
	"go.uber.org/multierr"
)

// DefaultClient is used by Wrap and RecordError. It reads the backend from
// the process-wide hostport set with SetHostport.
var DefaultClient = NewClient(config.Default())

// Client delivers failure records to a flawless backend. It is safe for
// concurrent use.
type Client struct {
	config    *config.Config
	http      *http.Client
	extractor *Extractor
	hostname  func() (string, error)
	warnings  io.Writer
}

type ClientOption func(c *Client)

// WithTransport sets the round tripper used for deliveries (default: http.DefaultTransport).
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) { c.http.Transport = transport }
}

// WithLineSource sets where source lines are read from (default: a cache.LineCache).
func WithLineSource(lines LineSource) ClientOption {
	return func(c *Client) { c.extractor.Lines = lines }
}

// WithHostname sets how the reporting host's name is resolved (default: os.Hostname).
func WithHostname(hostname func() (string, error)) ClientOption {
	return func(c *Client) { c.hostname = hostname }
}

// WithWarnings sets where configuration warnings are written (default: stderr).
func WithWarnings(w io.Writer) ClientOption {
	return func(c *Client) { c.warnings = w }
}

func NewClient(cfg *config.Config, opts ...ClientOption) *Client {
	if cfg == nil {
		cfg = config.Default()
	}
	timeout := cfg.ClientTimeout
	if timeout <= 0 {
		timeout = config.DefaultClientTimeout
	}

	c := &Client{
		config:    cfg,
		http:      &http.Client{Timeout: timeout},
		extractor: NewExtractor(cache.New(), cfg.ExcludeFiles),
		hostname:  os.Hostname,
		warnings:  clireporter.Stderr(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hostport returns the backend address this client reports to, or "" if none is configured.
func (c *Client) Hostport() string {
	return c.config.BackendHostport()
}

func (c *Client) warnf(format string, a ...interface{}) {
	fmt.Fprintf(c.warnings, format+"\n", a...)
}

type recordOptions struct {
	preceding      []PreludeFrame
	errorThreshold *int
	additionalInfo interface{}
}

type RecordOption func(o *recordOptions)

// WithPreceding prepends frames that ran before the failing chain.
func WithPreceding(preceding []PreludeFrame) RecordOption {
	return func(o *recordOptions) { o.preceding = preceding }
}

// WithThreshold passes an error threshold hint to the backend.
func WithThreshold(threshold int) RecordOption {
	return func(o *recordOptions) { o.errorThreshold = &threshold }
}

// WithAdditionalInfo attaches a free-form, json-serializable payload to the record.
func WithAdditionalInfo(info interface{}) RecordOption {
	return func(o *recordOptions) { o.additionalInfo = info }
}

// RecordError reports a failure through DefaultClient.
func RecordError(ctx context.Context, hostname string, chain []Frame, message string, opts ...RecordOption) error {
	return DefaultClient.RecordError(ctx, hostname, chain, message, opts...)
}

// RecordError extracts the traceback of chain and delivers it to the backend.
// Delivery is attempted once; extraction, serialization and transport errors
// are returned to the caller.
func (c *Client) RecordError(ctx context.Context, hostname string, chain []Frame, message string, opts ...RecordOption) error {
	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}

	traceback, err := c.extractor.Extract(chain, o.preceding)
	if err != nil {
		return oops.Wrapf(err, "failed to extract traceback")
	}

	return c.send(ctx, &RecordErrorRequest{
		Traceback:        traceback,
		ExceptionMessage: message,
		Hostname:         hostname,
		ErrorThreshold:   o.errorThreshold,
		AdditionalInfo:   o.additionalInfo,
	})
}

// send POSTs req to the backend. Any completed HTTP exchange counts as
// delivered; the response is drained and closed on every path.
func (c *Client) send(ctx context.Context, req *RecordErrorRequest) (err error) {
	body, err := req.Dumps()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/record_error", c.Hostport())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return oops.Wrapf(err, "unable to build request for %s", url)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return oops.Wrapf(err, "failed to send record to %s", url)
	}
	defer func() {
		_, copyErr := io.Copy(ioutil.Discard, resp.Body)
		err = multierr.Append(err, multierr.Append(copyErr, resp.Body.Close()))
	}()

	return nil
}
