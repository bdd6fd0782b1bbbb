package provider

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/egostrategy/datahub/pkg/errors"
	"github.com/egostrategy/datahub/pkg/logger"
)

// remoteDataPath is the repository path of the published dataset file on
// every mirror.
const remoteDataPath = "EgoStrategy/DataHub/main/docs/data/stock.arrow"

// MirrorURL builds the download URL of the published dataset on one
// mirror host.
func MirrorURL(host string) string {
	return "https://" + host + "/" + remoteDataPath
}

// MirrorSyncer refreshes the local dataset file from a published remote
// copy. Mirrors are tried in priority order; the first one that answers
// decides whether a download happens.
type MirrorSyncer struct {
	client *http.Client
	logger *zap.Logger
}

// NewMirrorSyncer creates a syncer with the given per-request timeout.
func NewMirrorSyncer(timeout time.Duration) *MirrorSyncer {
	return &MirrorSyncer{
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "mirror_syncer")),
	}
}

// Sync checks each mirror URL in order and downloads the remote file
// over localPath when the remote copy differs in size or is newer. It
// returns the error of the last mirror when every mirror fails. Use
// MirrorURL to map configured mirror hosts to URLs.
func (m *MirrorSyncer) Sync(ctx context.Context, localPath string, urls []string) error {
	var lastErr error
	for _, url := range urls {
		if err := m.checkAndDownload(ctx, url, localPath); err != nil {
			m.logger.Warn("mirror check failed",
				zap.String("mirror", url),
				zap.Error(err))
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New(errors.ErrorTypeConfig, "no mirror sites configured")
	}
	return errors.Wrap(lastErr, errors.ErrorTypeConnection, "all mirror sites failed")
}

// checkAndDownload compares the remote file against the local one with a
// HEAD request and downloads it when the local copy is missing, differs
// in size, or is older than the remote Last-Modified stamp.
func (m *MirrorSyncer) checkAndDownload(ctx context.Context, url, localPath string) error {
	local, err := os.Stat(localPath)
	if err != nil {
		// no local file, download unconditionally
		return m.download(ctx, url, localPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build HEAD request")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "remote file check failed").
			WithDetail("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.ErrorTypeConnection, "remote file check failed: HTTP status %d", resp.StatusCode).
			WithDetail("url", url)
	}

	remoteSize, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if remoteSize > 0 && remoteSize != local.Size() {
		m.logger.Info("remote dataset size differs, downloading",
			zap.Int64("local_size", local.Size()),
			zap.Int64("remote_size", remoteSize))
		return m.download(ctx, url, localPath)
	}

	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		if remoteTime, err := http.ParseTime(lastModified); err == nil {
			if remoteTime.After(local.ModTime()) {
				m.logger.Info("remote dataset is newer, downloading",
					zap.Time("local_mtime", local.ModTime()),
					zap.Time("remote_mtime", remoteTime))
				return m.download(ctx, url, localPath)
			}
		}
	}

	m.logger.Debug("local dataset is up to date", zap.String("url", url))
	return nil
}

// download fetches the remote file and replaces localPath atomically.
func (m *MirrorSyncer) download(ctx context.Context, url, localPath string) error {
	m.logger.Info("downloading dataset", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build GET request")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to download dataset").
			WithDetail("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.ErrorTypeConnection, "failed to download dataset: HTTP status %d", resp.StatusCode).
			WithDetail("url", url)
	}

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create data directory").
			WithDetail("dir", dir)
	}

	tmp, err := os.CreateTemp(dir, ".stock-*.arrow")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read download body").
			WithDetail("url", url)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close temp file")
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to replace dataset file").
			WithDetail("path", localPath)
	}

	m.logger.Info("dataset downloaded", zap.String("path", localPath))
	return nil
}
