// Package auth is the credential gateway in front of every remote call. It
// holds per-user OAuth2 tokens in DynamoDB (refresh tokens encrypted at
// rest), validates the stored access token with a live probe, and performs at
// most one refresh-and-retry before declaring the user unauthenticated.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/oauth2"

	"github.com/contentworks/drivebridge/internal/crypto"
	"github.com/contentworks/drivebridge/internal/model"
)

var (
	// ErrNotAuthenticated is returned when no usable credential exists for
	// the user and a new authorization flow is required.
	ErrNotAuthenticated = errors.New("user is not authenticated")

	// ErrNoRefreshToken is returned when the stored credential cannot be
	// refreshed because no refresh token survives.
	ErrNoRefreshToken = errors.New("no refresh token stored")
)

// ProbeFunc checks that the client actually reaches the remote service. The
// gateway treats probe failure as a stale credential, not as a remote error.
type ProbeFunc func(ctx context.Context, client *http.Client) error

// Service manages per-user OAuth2 credentials.
type Service struct {
	oauthConfig  *oauth2.Config
	dynamoClient *dynamodb.Client
	tableName    string
	encryptor    crypto.Encryptor
	probe        ProbeFunc

	// In-memory fallback
	tokens map[string]model.UserToken
	mu     sync.RWMutex
}

// NewService creates a Service. dynamoClient may be nil for the in-memory
// fallback; probe may be nil to skip live validation (tests).
func NewService(oauthConfig *oauth2.Config, dynamoClient *dynamodb.Client, tableName string, encryptor crypto.Encryptor, probe ProbeFunc) *Service {
	return &Service{
		oauthConfig:  oauthConfig,
		dynamoClient: dynamoClient,
		tableName:    tableName,
		encryptor:    encryptor,
		probe:        probe,
		tokens:       make(map[string]model.UserToken),
	}
}

// Config returns the OAuth2 config.
func (s *Service) Config() *oauth2.Config {
	return s.oauthConfig
}

// AuthURL returns the URL to send the user to for consent. The user's id is
// passed as a login hint so the account chooser preselects it.
func (s *Service) AuthURL(state, loginHint string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	}
	return s.oauthConfig.AuthCodeURL(state, opts...)
}

// CompleteAuthentication exchanges the authorization code and persists the
// credential. Re-consent responses often omit the refresh token; the one
// already on file is preserved in that case.
func (s *Service) CompleteAuthentication(ctx context.Context, userID, code string) error {
	tok, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	encryptedRefresh := ""
	if tok.RefreshToken != "" {
		encryptedRefresh, err = s.encryptor.Encrypt(ctx, tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	} else if existing, err := s.load(ctx, userID); err == nil {
		encryptedRefresh = existing.EncryptedRefreshToken
	}
	if encryptedRefresh == "" {
		return ErrNoRefreshToken
	}

	return s.store(ctx, model.UserToken{
		UserID:                userID,
		AccessToken:           tok.AccessToken,
		EncryptedRefreshToken: encryptedRefresh,
		Expiry:                tok.Expiry,
		UpdatedAt:             time.Now(),
	})
}

// Token retrieves the stored credential record for the user.
func (s *Service) Token(ctx context.Context, userID string) (*model.UserToken, error) {
	return s.load(ctx, userID)
}

// SaveToken stores a credential record as-is. The refresh token must already
// be encrypted.
func (s *Service) SaveToken(ctx context.Context, userToken model.UserToken) error {
	return s.store(ctx, userToken)
}

// GetClient returns an authenticated http.Client for the user. A stored
// access token is probed first; on failure the refresh token buys exactly one
// retry. Anything beyond that is ErrNotAuthenticated.
func (s *Service) GetClient(ctx context.Context, userID string) (*http.Client, error) {
	userToken, err := s.load(ctx, userID)
	if err != nil {
		return nil, ErrNotAuthenticated
	}

	if userToken.AccessToken != "" && userToken.Expiry.After(time.Now()) {
		client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: userToken.AccessToken,
			Expiry:      userToken.Expiry,
		}))
		if s.probeOK(ctx, client) {
			return client, nil
		}
	}

	client, err := s.refresh(ctx, userToken)
	if err != nil {
		return nil, err
	}
	if !s.probeOK(ctx, client) {
		return nil, ErrNotAuthenticated
	}
	return client, nil
}

// IsAuthenticated reports whether the user currently holds a usable
// credential.
func (s *Service) IsAuthenticated(ctx context.Context, userID string) bool {
	_, err := s.GetClient(ctx, userID)
	return err == nil
}

// refresh redeems the stored refresh token for a fresh access token and
// persists it. The expiry recorded is the one the token endpoint answered
// with, computed at response time.
func (s *Service) refresh(ctx context.Context, userToken *model.UserToken) (*http.Client, error) {
	if userToken.EncryptedRefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	refreshToken, err := s.encryptor.Decrypt(ctx, userToken.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	// Expiry in the past forces the token source to hit the token endpoint.
	source := s.oauthConfig.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-1 * time.Hour),
	})
	tok, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrNotAuthenticated, err)
	}

	encryptedRefresh := userToken.EncryptedRefreshToken
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		encryptedRefresh, err = s.encryptor.Encrypt(ctx, tok.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}
	err = s.store(ctx, model.UserToken{
		UserID:                userToken.UserID,
		AccessToken:           tok.AccessToken,
		EncryptedRefreshToken: encryptedRefresh,
		Expiry:                tok.Expiry,
		UpdatedAt:             time.Now(),
	})
	if err != nil {
		return nil, err
	}

	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok)), nil
}

func (s *Service) probeOK(ctx context.Context, client *http.Client) bool {
	if s.probe == nil {
		return true
	}
	return s.probe(ctx, client) == nil
}

func (s *Service) load(ctx context.Context, userID string) (*model.UserToken, error) {
	if s.dynamoClient == nil {
		s.mu.RLock()
		t, ok := s.tokens[userID]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("user not found")
		}
		return &t, nil
	}

	out, err := s.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user not found")
	}

	var userToken model.UserToken
	if err := attributevalue.UnmarshalMap(out.Item, &userToken); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user token: %w", err)
	}
	return &userToken, nil
}

func (s *Service) store(ctx context.Context, userToken model.UserToken) error {
	if s.dynamoClient == nil {
		s.mu.Lock()
		s.tokens[userToken.UserID] = userToken
		s.mu.Unlock()
		return nil
	}

	item, err := attributevalue.MarshalMap(userToken)
	if err != nil {
		return fmt.Errorf("failed to marshal user token: %w", err)
	}
	_, err = s.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save token to DynamoDB: %w", err)
	}
	return nil
}
