package llmclient

import (
	"context"
	"fmt"
	"time"
)

// fileState mirrors the provider's upload lifecycle states.
type fileState string

const (
	fileStateProcessing fileState = "PROCESSING"
	fileStateActive     fileState = "ACTIVE"
	fileStateFailed     fileState = "FAILED"
)

// UploadedFile identifies a file that has been uploaded and activated
// under this Client's credential. It is only ever valid for the
// credential that produced it -- never pass a handle from one Client to
// another.
type UploadedFile struct {
	Name  string
	State string
}

type uploadResponse struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// pollInterval and pollTimeout bound how long Upload waits for a file to
// move out of PROCESSING before giving up.
const (
	pollInterval = 2 * time.Second
	pollTimeout  = 2 * time.Minute
)

// Upload sends raw bytes to the provider under this credential and blocks
// until the file becomes ACTIVE (ready to be referenced in a generate
// call) or FAILED, whichever comes first.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, mimeType string) (*UploadedFile, error) {
	var resp uploadResponse
	body := map[string]interface{}{
		"file": map[string]string{
			"display_name": filename,
			"mime_type":    mimeType,
		},
	}
	if err := c.transport.Do(ctx, "POST", c.uploadPath, body, &resp); err != nil {
		return nil, fmt.Errorf("upload failed for %s: %w", filename, err)
	}

	file := &UploadedFile{Name: resp.Name, State: resp.State}
	return c.waitUntilActive(ctx, file)
}

func (c *Client) waitUntilActive(ctx context.Context, file *UploadedFile) (*UploadedFile, error) {
	if file.State == string(fileStateActive) {
		return file, nil
	}

	deadline := time.Now().Add(pollTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			var resp uploadResponse
			if err := c.transport.Do(ctx, "GET", c.uploadPath+"/"+file.Name, nil, &resp); err != nil {
				return nil, fmt.Errorf("polling upload state for %s: %w", file.Name, err)
			}
			switch fileState(resp.State) {
			case fileStateActive:
				return &UploadedFile{Name: resp.Name, State: resp.State}, nil
			case fileStateFailed:
				return nil, fmt.Errorf("uploaded file %s entered FAILED state", file.Name)
			}
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timed out waiting for %s to become ACTIVE", file.Name)
			}
		}
	}
}

type listFilesResponse struct {
	Files []uploadResponse `json:"files"`
}

// ListFiles returns every file currently uploaded under this Client's
// credential. Used by the read-only credential-diagnostics endpoint to
// surface what a key is holding without needing a chunk run in flight.
func (c *Client) ListFiles(ctx context.Context) ([]UploadedFile, error) {
	var resp listFilesResponse
	if err := c.transport.Do(ctx, "GET", c.uploadPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("list files failed: %w", err)
	}
	files := make([]UploadedFile, 0, len(resp.Files))
	for _, f := range resp.Files {
		files = append(files, UploadedFile{Name: f.Name, State: f.State})
	}
	return files, nil
}

// Delete removes an uploaded file from the credential's storage. Callers
// should delete promptly after the analysis that used it completes, since
// providers typically cap per-credential storage and these files count
// against that cap.
func (c *Client) Delete(ctx context.Context, file *UploadedFile) error {
	if file == nil {
		return nil
	}
	if err := c.transport.Do(ctx, "DELETE", c.uploadPath+"/"+file.Name, nil, nil); err != nil {
		return fmt.Errorf("delete failed for %s: %w", file.Name, err)
	}
	return nil
}
