package remote

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fieldsnap/fieldsnap/internal/auth"
	"github.com/fieldsnap/fieldsnap/internal/common"
)

// FileIdentity resolves the uploader identity from a session token stored
// on disk by the login flow.
type FileIdentity struct {
	path string
	now  func() time.Time
}

func NewFileIdentity(path string) *FileIdentity {
	return &FileIdentity{path: path, now: time.Now}
}

// Token returns the raw session token, or common.ErrNotAuthenticated when
// no usable token is stored.
func (f *FileIdentity) Token() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("%w: no session token", common.ErrNotAuthenticated)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: empty session token", common.ErrNotAuthenticated)
	}
	return token, nil
}

// Identity returns the user and tenant baked into the session token. The
// signature is not checked here; the server verifies on every request.
func (f *FileIdentity) Identity(ctx context.Context) (string, string, error) {
	token, err := f.Token()
	if err != nil {
		return "", "", err
	}

	claims, err := auth.ParseUnverified(token)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", common.ErrNotAuthenticated, err)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(f.now()) {
		return "", "", fmt.Errorf("%w: session expired", common.ErrNotAuthenticated)
	}
	if claims.UserID == "" || claims.TenantID == "" {
		return "", "", fmt.Errorf("%w: incomplete claims", common.ErrNotAuthenticated)
	}
	return claims.UserID, claims.TenantID, nil
}
