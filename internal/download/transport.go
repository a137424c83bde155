package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Observer receives progress of one transfer. Calls are serialized.
type Observer interface {
	OnProgress(fraction float64)
	OnSpeed(bytesPerSec int64)
}

// Transport fetches sourceURL into dst and returns the bytes written by this call.
// It must stop promptly once ctx is cancelled.
type Transport interface {
	Fetch(ctx context.Context, sourceURL, dst string, obs Observer) (int64, error)
}

// HTTPTransport downloads over HTTP, resuming a partial dst with a Range request.
type HTTPTransport struct {
	httpClient     *http.Client
	sampleInterval time.Duration
	logger         *slog.Logger
}

// NewHTTPTransport creates a transport that reports speed every sampleInterval.
func NewHTTPTransport(sampleInterval time.Duration, logger *slog.Logger) *HTTPTransport {
	if sampleInterval <= 0 {
		sampleInterval = time.Second
	}
	return &HTTPTransport{
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
		sampleInterval: sampleInterval,
		logger:         logger,
	}
}

func (t *HTTPTransport) Fetch(ctx context.Context, sourceURL, dst string, obs Observer) (int64, error) {
	var existingSize int64
	if info, err := os.Stat(dst); err == nil {
		existingSize = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if existingSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && existingSize > 0 {
		// partial file no longer matches the remote; start over next attempt
		os.Remove(dst)
		return 0, fmt.Errorf("bad status: %s", resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("bad status: %s", resp.Status)
	}
	if existingSize > 0 && resp.StatusCode != http.StatusPartialContent {
		existingSize = 0
	}

	var file *os.File
	if existingSize > 0 {
		file, err = os.OpenFile(dst, os.O_WRONLY|os.O_APPEND, 0644)
	} else {
		file, err = os.Create(dst)
	}
	if err != nil {
		return 0, fmt.Errorf("open destination: %w", err)
	}
	defer file.Close()

	total := int64(-1)
	if resp.ContentLength > 0 {
		total = existingSize + resp.ContentLength
	}

	var written atomic.Int64
	stop := t.sample(&written, existingSize, total, obs)
	n, err := copyWithContext(ctx, file, resp.Body, &written)
	stop()

	if err != nil {
		t.logger.Debug("transfer interrupted",
			"url", sourceURL,
			"bytes", n,
			"error", err,
		)
		return n, fmt.Errorf("copy data: %w", err)
	}
	if obs != nil {
		obs.OnProgress(1)
	}
	return n, nil
}

// sample reports speed and fraction on a ticker until the returned func is called.
func (t *HTTPTransport) sample(written *atomic.Int64, base, total int64, obs Observer) func() {
	if obs == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(t.sampleInterval)
		defer ticker.Stop()

		var prev int64
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				cur := written.Load()
				obs.OnSpeed(int64(float64(cur-prev) / t.sampleInterval.Seconds()))
				prev = cur
				if total > 0 {
					obs.OnProgress(float64(base+cur) / float64(total))
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, written *atomic.Int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
			nr, err := src.Read(buf)
			if nr > 0 {
				nw, werr := dst.Write(buf[0:nr])
				if nw > 0 {
					total += int64(nw)
					written.Add(int64(nw))
				}
				if werr != nil {
					return total, werr
				}
				if nr != nw {
					return total, io.ErrShortWrite
				}
			}
			if err != nil {
				if err == io.EOF {
					return total, nil
				}
				return total, err
			}
		}
	}
}
