// Package fetch streams song media from the remote server.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"prefetchd/internal/model"
)

const (
	chunkSize          = 32 * 1024
	defaultHTTPTimeout = 0 // Streams are bounded by the transfer context, not a client timeout
)

// HTTPFetcher downloads songs from <BaseURL>/stream/<songID>.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPFetcher creates a fetcher. A positive bytesPerSecond caps the aggregate transfer rate.
func NewHTTPFetcher(baseURL string, bytesPerSecond int, logger *zap.Logger) *HTTPFetcher {
	f := &HTTPFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:  logger,
	}

	if bytesPerSecond > 0 {
		burst := bytesPerSecond
		if burst < chunkSize {
			burst = chunkSize
		}
		f.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}

	return f
}

// StreamURL returns the URL the song is fetched from.
func (f *HTTPFetcher) StreamURL(song model.Song) (string, error) {
	u, err := url.JoinPath(f.baseURL, "stream", song.ID)
	if err != nil {
		return "", fmt.Errorf("invalid stream URL: %w", err)
	}
	return u, nil
}

// Fetch implements download.Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, song model.Song, w io.Writer) error {
	streamURL, err := f.StreamURL(song)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for song %s", resp.StatusCode, song.ID)
	}

	written, err := f.copy(ctx, w, resp.Body)
	if err != nil {
		return err
	}

	f.logger.Debug("Fetched song",
		zap.String("songID", song.ID),
		zap.Int64("bytes", written),
		zap.Duration("elapsed", time.Since(start)))

	return nil
}

func (f *HTTPFetcher) copy(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	if f.limiter == nil {
		n, err := io.Copy(w, r)
		if err != nil {
			return n, fmt.Errorf("failed to copy stream: %w", err)
		}
		return n, nil
	}

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if err := f.limiter.WaitN(ctx, n); err != nil {
				return total, err
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("failed to write stream: %w", err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("failed to read stream: %w", readErr)
		}
	}
}
