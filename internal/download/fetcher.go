// Package download fetches job input artifacts into a job-scoped directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aescanero/dago-serverless-worker/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency bounds parallel downloads when unset.
const DefaultMaxConcurrency = 8

// ErrInvalidJobID is returned for job ids that cannot name a directory
// below the base directory.
var ErrInvalidJobID = errors.New("invalid job id")

// Result is the outcome of one download. Path is set on success, Err on
// failure.
type Result struct {
	URL  string
	Path string
	Err  error
}

// Fetcher downloads URLs concurrently with a bounded pool.
type Fetcher struct {
	client         *http.Client
	baseDir        string
	maxConcurrency int
	logger         *zap.Logger
}

// NewFetcher creates a new fetcher writing below baseDir
func NewFetcher(client *http.Client, baseDir string, maxConcurrency int, logger *zap.Logger) *Fetcher {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	return &Fetcher{
		client:         client,
		baseDir:        baseDir,
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

// JobDir returns the directory that holds jobID's downloads. Job ids come
// from the control plane and must be a single path element.
func (f *Fetcher) JobDir(jobID string) (string, error) {
	if jobID == "" || jobID == "." || jobID == ".." ||
		strings.ContainsAny(jobID, `/\`) || jobID != filepath.Base(jobID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return filepath.Join(f.baseDir, jobID), nil
}

// FetchAll downloads every URL and returns one Result per URL, in input
// order. A failed download never aborts the others.
func (f *Fetcher) FetchAll(ctx context.Context, jobID string, urls []string) []Result {
	results := make([]Result, len(urls))
	if len(urls) == 0 {
		return results
	}

	dir, err := f.JobDir(jobID)
	if err == nil {
		err = os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		for i, u := range urls {
			results[i] = Result{URL: u, Err: fmt.Errorf("failed to create job directory: %w", err)}
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(f.maxConcurrency)

	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			p, err := f.fetch(ctx, dir, u)
			results[i] = Result{URL: u, Path: p, Err: err}
			metrics.Downloads.WithLabelValues(metrics.StatusLabel(err)).Inc()
			if err != nil {
				f.logger.Warn("download failed",
					zap.String("job_id", jobID),
					zap.String("url", u),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// fetch downloads one URL into dir
func (f *Fetcher) fetch(ctx context.Context, dir, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	dest := filepath.Join(dir, uuid.NewString()+extension(resp.Header.Get("Content-Disposition"), rawURL))

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return dest, nil
}

// Cleanup removes everything downloaded for jobID.
func (f *Fetcher) Cleanup(jobID string) error {
	dir, err := f.JobDir(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove job files: %w", err)
	}
	return nil
}

// extension guesses a file extension, preferring the Content-Disposition
// filename over the URL path. Best effort: an empty string is fine.
func extension(contentDisposition, rawURL string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if ext := cleanExt(path.Ext(params["filename"])); ext != "" {
				return ext
			}
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return cleanExt(path.Ext(u.Path))
}

// cleanExt rejects anything that could escape the job directory or is
// implausibly long
func cleanExt(ext string) string {
	if len(ext) < 2 || len(ext) > 16 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}
