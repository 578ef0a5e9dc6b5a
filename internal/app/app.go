package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/contentworks/drivebridge/internal/activity"
	"github.com/contentworks/drivebridge/internal/auth"
	"github.com/contentworks/drivebridge/internal/crypto"
	gdrive "github.com/contentworks/drivebridge/internal/drive/google"
	"github.com/contentworks/drivebridge/internal/format"
	"github.com/contentworks/drivebridge/internal/handler"
	"github.com/contentworks/drivebridge/internal/repo/memory"
	"github.com/contentworks/drivebridge/internal/secret"
)

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler      *handler.AuthHandler
	sessionHandler   *handler.SessionHandler
	formatHandler    *handler.FormatHandler
	apiGatewaySecret string
	disabled         bool
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context) *App {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}

	devMode := os.Getenv("DEV_MODE") == "true"

	// DynamoDB Client
	var dynamoClient *dynamodb.Client
	if devMode {
		fmt.Println("Using in-memory persistence (DEV_MODE=true)")
	} else {
		dynamoClient = dynamodb.NewFromConfig(cfg)
	}

	// KMS Client
	var encryptor crypto.Encryptor
	if devMode {
		encryptor = crypto.NewMockEncryptor()
		fmt.Println("Using MockEncryptor (DEV_MODE=true)")
	} else {
		kmsClient := kms.NewFromConfig(cfg)
		kmsKeyID := os.Getenv("KMS_KEY_ID")
		if kmsKeyID == "" {
			kmsKeyID = "alias/drivebridge-credential-key"
		}
		encryptor = crypto.NewKMSEncryptor(kmsClient, kmsKeyID)
	}

	// Credential gateway (UserTokens Table)
	userTokensTable := os.Getenv("USER_TOKENS_TABLE")
	if userTokensTable == "" {
		userTokensTable = "UserTokens"
	}

	// ---------- Secret Resolver ----------
	var resolver secret.Resolver
	if devMode {
		resolver = secret.NewEnvResolver()
		fmt.Println("Using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(cfg))
		fmt.Println("Using SSMResolver (SSM Parameter Store)")
	}

	oauthClientSecretParam := os.Getenv("OAUTH_CLIENT_SECRET_PARAM")
	if oauthClientSecretParam == "" {
		oauthClientSecretParam = "/drivebridge/oauth-client-secret"
	}
	oauthClientSecret, err := resolver.GetSecret(ctx, oauthClientSecretParam)
	if err != nil {
		log.Printf("WARNING: failed to resolve OAUTH_CLIENT_SECRET: %v", err)
	}

	jwtSecretParam := os.Getenv("JWT_SECRET_PARAM")
	if jwtSecretParam == "" {
		jwtSecretParam = "/drivebridge/jwt-secret"
	}
	jwtSecret, err := resolver.GetSecret(ctx, jwtSecretParam)
	if err != nil {
		log.Printf("WARNING: failed to resolve JWT_SECRET: %v", err)
		jwtSecret = "default-dev-secret"
	}

	apiGatewaySecretParam := os.Getenv("API_GATEWAY_SECRET_PARAM")
	if apiGatewaySecretParam == "" {
		apiGatewaySecretParam = "/drivebridge/api-gateway-secret"
	}
	apiGatewaySecret, err := resolver.GetSecret(ctx, apiGatewaySecretParam)
	if err != nil {
		log.Printf("WARNING: failed to resolve API_GATEWAY_SECRET: %v", err)
	}

	// OAuth2 Config
	redirectURL := os.Getenv("OAUTH_REDIRECT_URL")
	if redirectURL == "" {
		if devMode {
			redirectURL = "http://localhost:8080/auth/callback"
		} else {
			frontendURL := os.Getenv("FRONTEND_URL")
			if frontendURL == "" {
				frontendURL = "http://localhost:3000"
			}
			redirectURL = frontendURL + "/api/auth/callback"
		}
	}

	oauthConfig := &oauth2.Config{
		ClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		ClientSecret: oauthClientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/drive.file",
			"https://www.googleapis.com/auth/userinfo.email",
		},
		Endpoint: google.Endpoint,
	}

	// Stored access tokens are probed against the identity endpoint before
	// being trusted; a dead token triggers exactly one refresh.
	probe := func(ctx context.Context, client *http.Client) error {
		c, err := gdrive.NewClient(ctx, client)
		if err != nil {
			return err
		}
		_, err = c.CurrentUser(ctx)
		return err
	}

	authService := auth.NewService(oauthConfig, dynamoClient, userTokensTable, encryptor, probe)

	// Node store (NodeStore Table, in-memory write-through)
	store := memory.NewStore(dynamoClient)

	// Concurrent-edit window. Zero means any foreign revision counts.
	idleThreshold := time.Duration(0)
	if v := os.Getenv("EDIT_IDLE_THRESHOLD_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("WARNING: bad EDIT_IDLE_THRESHOLD_SECONDS %q: %v", v, err)
		} else {
			idleThreshold = time.Duration(secs) * time.Second
		}
	}

	authHandler := handler.NewAuthHandler(authService, jwtSecret)
	sessionHandler := handler.NewSessionHandler(
		store,
		gdrive.NewProvider(authService),
		format.DefaultPolicy(),
		activity.NewLogNotifier(),
		jwtSecret,
		idleThreshold,
	)
	formatHandler := handler.NewFormatHandler(format.DefaultPolicy())

	return &App{
		authHandler:      authHandler,
		sessionHandler:   sessionHandler,
		formatHandler:    formatHandler,
		apiGatewaySecret: apiGatewaySecret,
		disabled:         os.Getenv("EDITING_DISABLED") == "true",
	}
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	fmt.Printf("Request: %s %s\n", method, path)

	// CORS Preflight
	if method == "OPTIONS" {
		return corsResponse(events.APIGatewayProxyResponse{StatusCode: 204}), nil
	}

	// Security: Verify Request Origin (CloudFront only)
	// Skip check for OPTIONS (preflight) and if DEV_MODE is true
	if os.Getenv("DEV_MODE") != "true" {
		if req.Headers["X-Origin-Verify"] != app.apiGatewaySecret && req.Headers["x-origin-verify"] != app.apiGatewaySecret {
			fmt.Printf("Security Block: Missing or invalid X-Origin-Verify header\n")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusForbidden,
				Body:       "Forbidden: Access denied",
			}, nil
		}
	}

	// Kill switch while keeping auth endpoints reachable.
	if app.disabled && !strings.HasPrefix(path, "/auth") && !strings.HasPrefix(path, "/api/auth") {
		return corsResponse(events.APIGatewayProxyResponse{
			StatusCode: http.StatusServiceUnavailable,
			Body:       "Remote editing is disabled",
		}), nil
	}

	// Router logic
	// Strip /api prefix if present (for CloudFront proxying)
	if strings.HasPrefix(path, "/api") {
		path = strings.TrimPrefix(path, "/api")
	}

	// /auth
	if strings.HasPrefix(path, "/auth") {
		if path == "/auth/login" && method == "GET" {
			return corsResponse(must(app.authHandler.Login(ctx, req))), nil
		}
		if path == "/auth/callback" && method == "GET" {
			return corsResponse(must(app.authHandler.Callback(ctx, req))), nil
		}
		if path == "/auth/status" && method == "GET" {
			return corsResponse(must(app.authHandler.Status(ctx, req))), nil
		}
	}

	// /sessions
	if strings.HasPrefix(path, "/sessions") {
		if path == "/sessions/create" && method == "POST" {
			return corsResponse(must(app.sessionHandler.Create(ctx, req))), nil
		}
		if path == "/sessions/upload" && method == "POST" {
			return corsResponse(must(app.sessionHandler.Upload(ctx, req))), nil
		}
		if path == "/sessions/save" && method == "POST" {
			return corsResponse(must(app.sessionHandler.Save(ctx, req))), nil
		}
		if path == "/sessions/discard" && method == "POST" {
			return corsResponse(must(app.sessionHandler.Discard(ctx, req))), nil
		}
		if path == "/sessions/latest" && method == "GET" {
			return corsResponse(must(app.sessionHandler.IsLatestRevision(ctx, req))), nil
		}
		if path == "/sessions/concurrent-editors" && method == "GET" {
			return corsResponse(must(app.sessionHandler.HasConcurrentEditors(ctx, req))), nil
		}
	}

	// /formats
	if path == "/formats/exportable" && method == "GET" {
		return corsResponse(must(app.formatHandler.Exportable(ctx, req))), nil
	}

	return corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}), nil
}

// corsResponse adds CORS headers to an API Gateway response.
func corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = os.Getenv("FRONTEND_URL")
	if resp.Headers["Access-Control-Allow-Origin"] == "" {
		resp.Headers["Access-Control-Allow-Origin"] = "http://localhost:3000"
	}
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, ignoring the error.
func must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		fmt.Printf("Handler error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
