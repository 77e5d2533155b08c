package evidence

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Uploader stores evidence blobs and returns reference strings.
type Uploader interface {
	Upload(ctx context.Context, kind string, data []byte) (string, error)
}

type HTTPUploader struct {
	Endpoint string
	client   *http.Client
}

func NewHTTPUploader(endpoint string, timeout time.Duration) *HTTPUploader {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPUploader{
		Endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, kind string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint+"/evidence?kind="+kind, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("evidence store http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Ref string `json:"ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Ref == "" {
		return "", fmt.Errorf("evidence store returned empty ref")
	}
	return out.Ref, nil
}

// Store wraps an Uploader with the inline fallback: when the upstream
// store is down the raw evidence is kept inline in the reference itself,
// so a report-payment call never fails on storage.
type Store struct {
	Uploader Uploader
}

func (s *Store) Ref(ctx context.Context, kind string, data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if s.Uploader != nil {
		ref, err := s.Uploader.Upload(ctx, kind, data)
		if err == nil {
			return ref
		}
		log.WithFields(log.Fields{"kind": kind, "error": err}).
			Warn("evidence store failed, keeping evidence inline")
	}
	return InlineRef(data)
}

func InlineRef(data []byte) string {
	return "inline:" + base64.StdEncoding.EncodeToString(data)
}
