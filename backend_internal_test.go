package flawless

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/samsarahq/flawless/config"
	"github.com/stretchr/testify/assert"
)

// backend is a fake flawless server that records every request it receives.
type backend struct {
	*httptest.Server

	mu       sync.Mutex
	paths    []string
	requests []*RecordErrorRequest
}

func newBackend(t *testing.T) *backend {
	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := ioutil.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, http.MethodPost, r.Method)

		req, err := LoadsRecordErrorRequest(body)
		assert.NoError(t, err)

		b.mu.Lock()
		defer b.mu.Unlock()
		b.paths = append(b.paths, r.URL.Path)
		b.requests = append(b.requests, req)
	}))
	return b
}

func (b *backend) Requests() []*RecordErrorRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*RecordErrorRequest{}, b.requests...)
}

func (b *backend) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.paths...)
}

func (b *backend) Hostport() string {
	return strings.TrimPrefix(b.URL, "http://")
}

// client returns a client reporting to b as "test-host".
func (b *backend) client(opts ...ClientOption) *Client {
	cfg := config.Default()
	cfg.Hostport = b.Hostport()
	return NewClient(cfg, append([]ClientOption{
		WithWarnings(ioutil.Discard),
		WithHostname(func() (string, error) { return "test-host", nil }),
	}, opts...)...)
}
