package fabricate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mcncl/jsonflat/internal/compression"
	"github.com/mcncl/jsonflat/internal/errors"
)

// Download fetches rawURL into path. Parent directories are created and the
// file only appears at path once fully written. Compressed payloads are
// stored decompressed.
func (c *Client) Download(ctx context.Context, rawURL, path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewOutputError(fmt.Sprintf("failed to create directory %s", dir), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.NewRemoteError("failed to download file", err)
	}
	c.logger.Debug("download request", zap.String("url", rawURL))

	resp, err := c.download.Do(req)
	if err != nil {
		return errors.NewRemoteError("failed to download file", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewRemoteError(
			fmt.Sprintf("failed to download file: %s", resp.Status),
			fmt.Errorf("%w: %d", errors.ErrUnexpectedStatus, resp.StatusCode),
		)
	}

	tmpFile, err := os.CreateTemp(dir, fmt.Sprintf(".%s*", filepath.Base(path)))
	if err != nil {
		return errors.NewOutputError("failed to create temporary file", err)
	}
	defer func() {
		if err != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpFile.Name())
		}
	}()

	body, closer, format, err := compression.NewReader(resp.Body)
	if err != nil {
		return errors.NewRemoteError("failed to read downloaded data", err)
	}
	if format != compression.None {
		c.logger.Debug("decompressing download", zap.String("format", string(format)))
	}

	n, err := io.Copy(tmpFile, body)
	err = multierr.Append(err, closer.Close())
	if err != nil {
		return errors.NewRemoteError("failed to download file", err)
	}
	if err := tmpFile.Close(); err != nil {
		return errors.NewOutputError(fmt.Sprintf("failed to write %s", path), err)
	}
	if err := os.Rename(tmpFile.Name(), path); err != nil {
		return errors.NewOutputError(fmt.Sprintf("failed to move download to %s", path), err)
	}
	c.logger.Debug("download complete", zap.String("path", path), zap.Int64("bytes", n))
	return nil
}

// DownloadJSONL runs the whole remote flow for job: submit a generate task,
// wait for it and store its data at outputPath. It returns outputPath.
func (c *Client) DownloadJSONL(ctx context.Context, job Job, outputPath string) (string, error) {
	c.logger.Info(fmt.Sprintf("Generating data for table %s of database %s in JSONL format using %s...",
		job.Entity, job.Database, c.apiURL))

	id, err := c.CreateTask(ctx, job)
	if err != nil {
		return "", err
	}
	c.logger.Info(fmt.Sprintf("Started generating data for database %s... task id: %s", job.Database, id))

	task, err := c.WaitForTask(ctx, id)
	if err != nil {
		return "", err
	}
	if msg := task.ErrorText(); msg != "" {
		return "", errors.NewRemoteError("API returned an error: "+msg, errors.ErrTaskFailed)
	}
	if task.DataURL == nil || *task.DataURL == "" {
		return "", errors.NewRemoteError("task completed without data", errors.ErrNoDataURL)
	}

	c.logger.Info(fmt.Sprintf("Downloading data from %s...", *task.DataURL))
	if err := c.Download(ctx, *task.DataURL, outputPath); err != nil {
		return "", err
	}
	c.logger.Info(fmt.Sprintf("Data has been downloaded to %s.", outputPath))
	return outputPath, nil
}
