// Package notify sends finished clips to the analysis agent.
package notify

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"recorder/internal/logger"
	"recorder/internal/model"
)

// UploadTimeout bounds a single upload.
const UploadTimeout = 30 * time.Second

// AgentUploader posts clips to the agent as multipart forms. Each upload runs
// on its own goroutine so exports are never held up by the network.
type AgentUploader struct {
	url       string
	latitude  string
	longitude string
	client    *http.Client
	logger    *logger.Logger

	wg       sync.WaitGroup
	uploaded atomic.Uint64
	failed   atomic.Uint64
}

// NewAgentUploader creates an uploader for the agent endpoint.
func NewAgentUploader(agentURL, latitude, longitude string, logger *logger.Logger) *AgentUploader {
	return &AgentUploader{
		url:       agentURL,
		latitude:  latitude,
		longitude: longitude,
		client:    &http.Client{Timeout: UploadTimeout},
		logger:    logger,
	}
}

// Submit uploads the clip in the background.
func (u *AgentUploader) Submit(clip model.Clip) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), UploadTimeout)
		defer cancel()

		if err := u.Upload(ctx, clip); err != nil {
			u.failed.Add(1)
			u.logger.Warning("Failed to upload %s to agent: %v", clip.Filename, err)
			return
		}
		u.uploaded.Add(1)
		u.logger.Info("Uploaded %s to agent", clip.Filename)
	}()
}

// Upload sends one clip with its camera id and location.
func (u *AgentUploader) Upload(ctx context.Context, clip model.Clip) error {
	file, err := os.Open(clip.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open clip: %w", err)
	}
	defer file.Close()

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)

	go func() {
		writer.CloseWithError(writeForm(form, file, clip, u.latitude, u.longitude))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, body)
	if err != nil {
		body.Close()
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		body.Close()
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent returned %s: %s", resp.Status, msg)
	}
	return nil
}

// Wait blocks until running uploads finish or ctx is done.
func (u *AgentUploader) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of successful and failed uploads.
func (u *AgentUploader) Stats() (uploaded, failed uint64) {
	return u.uploaded.Load(), u.failed.Load()
}

func writeForm(form *multipart.Writer, file io.Reader, clip model.Clip, latitude, longitude string) error {
	part, err := form.CreateFormFile("file", filepath.Base(clip.FilePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}

	fields := [][2]string{
		{"camera_id", clip.Camera},
		{"latitude", latitude},
		{"longitude", longitude},
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	return form.Close()
}
