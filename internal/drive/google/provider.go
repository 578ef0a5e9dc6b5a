package google

import (
	"context"
	"fmt"

	"github.com/contentworks/drivebridge/internal/auth"
	"github.com/contentworks/drivebridge/internal/drive"
)

// Provider builds per-user Drive clients from the credential gateway.
type Provider struct {
	authService *auth.Service
}

// NewProvider creates a new Google Drive provider.
func NewProvider(authService *auth.Service) *Provider {
	return &Provider{authService: authService}
}

// ClientFor returns a Drive client acting as the given repository user.
func (p *Provider) ClientFor(ctx context.Context, userID string) (drive.Client, error) {
	httpClient, err := p.authService.GetClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	client, err := NewClient(ctx, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}
	return client, nil
}
