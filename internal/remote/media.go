package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fieldsnap/fieldsnap/internal/common"
	"github.com/fieldsnap/fieldsnap/internal/models"
)

// TokenSource supplies the current session token.
type TokenSource interface {
	Token() (string, error)
}

// MediaClient talks to the media API over HTTP.
type MediaClient struct {
	base   string
	tokens TokenSource
	client *http.Client
}

// NewMediaClient builds a client for the API at base, e.g.
// "http://127.0.0.1:8080".
func NewMediaClient(base string, tokens TokenSource) *MediaClient {
	return &MediaClient{
		base:   strings.TrimRight(base, "/"),
		tokens: tokens,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateMedia registers metadata for a payload already committed to blob
// storage.
func (c *MediaClient) CreateMedia(ctx context.Context, rec *models.MediaRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode media record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/media", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create media record: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return common.ErrNotAuthenticated
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("media api returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// Ping probes the API health endpoint.
func (c *MediaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
