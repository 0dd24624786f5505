// Package download fetches URLs into a content-addressed file cache.
//
// A URL is stored under <cache>/<shard>/<sha256(url)><ext>, where shard is the
// first three hex digits of the hash. An empty file marks a URL the server
// refused with 403, so it is not requested again.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/chunkflow/pkg/observability"
	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
)

// Forbidden is returned instead of a path for URLs answered with 403.
const Forbidden = "#forbidden"

// shardLen is the number of hash characters used as the subdirectory name.
const shardLen = 3

const dirPerm = 0o750

// ErrStatus is returned for non-2xx responses other than 403.
var ErrStatus = errors.New("unexpected HTTP status")

// Downloader fetches URLs into CacheDir.
type Downloader struct {
	CacheDir string
	Client   *http.Client
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// New creates a downloader whose requests time out after timeout. A zero
// timeout means no client timeout.
func New(cacheDir string, timeout time.Duration, logger *slog.Logger) *Downloader {
	return &Downloader{
		CacheDir: cacheDir,
		Client:   &http.Client{Timeout: timeout},
		Logger:   observability.LoggerOrDiscard(logger),
		Tracer:   otel.Tracer(observability.InstrumentationName),
	}
}

// Path returns the cache file for rawURL.
func (d *Downloader) Path(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	base := hex.EncodeToString(sum[:]) + extension(rawURL)

	return filepath.Join(d.CacheDir, base[:shardLen], base)
}

func extension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Ext(rawURL)
	}

	return path.Ext(u.Path)
}

// Do returns the cached file for rawURL, downloading it first when needed.
// It returns "" for an empty URL and Forbidden for refused URLs.
func (d *Downloader) Do(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", nil
	}

	target := d.Path(rawURL)

	info, err := os.Stat(target)
	if err == nil {
		if info.Size() == 0 {
			return Forbidden, nil
		}

		d.logger().DebugContext(ctx, "download: cache hit", "path", target)

		return target, nil
	}

	ctx, span := d.tracer().Start(ctx, "chunkflow.download")
	defer span.End()

	result, err := d.fetch(ctx, rawURL, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return "", err
	}

	span.SetAttributes(attribute.Bool("download.forbidden", result == Forbidden))

	return result, nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusForbidden {
		err = d.writeMarker(target)
		if err != nil {
			return "", err
		}

		d.logger().InfoContext(ctx, "download: forbidden", "path", target)

		return Forbidden, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s: %d", ErrStatus, rawURL, resp.StatusCode)
	}

	err = persist.WriteAtomic(target, func(w io.Writer) error {
		_, copyErr := io.Copy(w, resp.Body)
		if copyErr != nil {
			return fmt.Errorf("read body: %w", copyErr)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store %s: %w", rawURL, err)
	}

	d.logger().DebugContext(ctx, "download: stored", "path", target)

	return target, nil
}

func (d *Downloader) writeMarker(target string) error {
	err := os.MkdirAll(filepath.Dir(target), dirPerm)
	if err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("write forbidden marker: %w", err)
	}

	return f.Close()
}

func (d *Downloader) logger() *slog.Logger {
	return observability.LoggerOrDiscard(d.Logger)
}

func (d *Downloader) tracer() trace.Tracer {
	if d.Tracer == nil {
		return otel.Tracer(observability.InstrumentationName)
	}

	return d.Tracer
}
