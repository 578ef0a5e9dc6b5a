package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/contentworks/drivebridge/internal/auth"
	"github.com/golang-jwt/jwt/v5"
)

// AuthHandler handles the Google OAuth2 consent flow for remote editing.
type AuthHandler struct {
	authService *auth.Service
	jwtSecret   string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *auth.Service, jwtSecret string) *AuthHandler {
	return &AuthHandler{authService: s, jwtSecret: jwtSecret}
}

// Login initiates the OAuth2 flow. The acting repository user is carried
// through the round trip inside the signed state parameter, so the callback
// knows whose credential to store without trusting the redirect.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id, err := GetIdentity(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	state, err := h.signState(id.UserID)
	if err != nil {
		return textResponse(http.StatusInternalServerError, "Failed to sign state"), nil
	}
	url := h.authService.AuthURL(state, id.Email)

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": url,
		},
	}, nil
}

// Callback handles the OAuth2 redirect from Google.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	code := req.QueryStringParameters["code"]
	if code == "" {
		return textResponse(http.StatusBadRequest, "Missing code"), nil
	}
	userID, err := h.verifyState(req.QueryStringParameters["state"])
	if err != nil {
		fmt.Printf("Callback state error: %v\n", err)
		return textResponse(http.StatusBadRequest, "Invalid state"), nil
	}

	err = h.authService.CompleteAuthentication(ctx, userID, code)
	if errors.Is(err, auth.ErrNoRefreshToken) {
		// Consent was granted before without offline access. The frontend
		// sends the user back through the consent screen with prompt=consent.
		return redirectToFrontend("/?authError=no-refresh-token"), nil
	}
	if err != nil {
		fmt.Printf("CompleteAuthentication error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to complete authentication"), nil
	}

	return redirectToFrontend("/?success=true"), nil
}

// Status reports whether the user holds a usable remote credential.
func (h *AuthHandler) Status(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id, err := GetIdentity(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}
	authenticated := h.authService.IsAuthenticated(ctx, id.UserID)
	return jsonResponse(http.StatusOK, map[string]bool{"authenticated": authenticated}), nil
}

// signState wraps the user ID in a short-lived signed token.
func (h *AuthHandler) signState(userID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(10 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.jwtSecret))
}

func (h *AuthHandler) verifyState(state string) (string, error) {
	if state == "" {
		return "", fmt.Errorf("missing state")
	}
	claims, err := parseClaims(state, h.jwtSecret)
	if err != nil {
		return "", err
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("state carries no user")
	}
	return sub, nil
}

func redirectToFrontend(path string) events.APIGatewayProxyResponse {
	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": frontendURL + path,
		},
	}
}
