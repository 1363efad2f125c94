package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

const defaultMaxBytes int64 = 32 << 20

// Opener fetches http(s) resources. Bodies larger than maxBytes are cut off
// with an error instead of being silently truncated.
type Opener struct {
	httpClient *http.Client
	maxBytes   int64
	userAgent  string
}

func NewOpener(timeout time.Duration, maxBytes int64) *Opener {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Opener{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		userAgent:  "proposal-rag/1.0",
	}
}

func (o *Opener) Open(ctx context.Context, res domain.SourceResource) (io.ReadCloser, error) {
	if res.Kind != domain.ResourceRemote {
		return nil, fmt.Errorf("open resource %s: unsupported kind %q", res.Location, res.Kind)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.Location, nil)
	if err != nil {
		return nil, fmt.Errorf("build remote request: %w", err)
	}
	req.Header.Set("User-Agent", o.userAgent)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "fetch remote resource", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		err := fmt.Errorf("fetch %s: status %d", res.Location, resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, domain.WrapError(domain.ErrTemporary, "fetch remote resource", err)
		}
		return nil, err
	}
	return &limitedBody{r: io.LimitReader(resp.Body, o.maxBytes+1), c: resp.Body, max: o.maxBytes}, nil
}

type limitedBody struct {
	r    io.Reader
	c    io.Closer
	max  int64
	read int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.read > b.max {
		return n, fmt.Errorf("remote resource exceeds %d bytes", b.max)
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.c.Close()
}
