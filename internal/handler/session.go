package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/contentworks/drivebridge/internal/activity"
	"github.com/contentworks/drivebridge/internal/drive"
	"github.com/contentworks/drivebridge/internal/format"
	"github.com/contentworks/drivebridge/internal/model"
	"github.com/contentworks/drivebridge/internal/repo"
	"github.com/contentworks/drivebridge/internal/session"
)

// SessionHandler exposes the edit-session operations.
type SessionHandler struct {
	store         repo.Store
	drives        drive.Provider
	policy        *format.Policy
	notifier      activity.Notifier
	jwtSecret     string
	idleThreshold time.Duration
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(store repo.Store, drives drive.Provider, policy *format.Policy, notifier activity.Notifier, jwtSecret string, idleThreshold time.Duration) *SessionHandler {
	return &SessionHandler{
		store:         store,
		drives:        drives,
		policy:        policy,
		notifier:      notifier,
		jwtSecret:     jwtSecret,
		idleThreshold: idleThreshold,
	}
}

// reconcilerFor builds a Reconciler acting as the authenticated user.
func (h *SessionHandler) reconcilerFor(ctx context.Context, req events.APIGatewayProxyRequest) (*session.Reconciler, error) {
	id, err := GetIdentity(req, h.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("unauthorized: %w", err)
	}
	client, err := h.drives.ClientFor(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	return session.New(h.store, client, h.policy, h.notifier, session.Options{
		User:          id.UserID,
		Admin:         id.Admin,
		IdleThreshold: h.idleThreshold,
	}), nil
}

// Create provisions a new editor document.
func (h *SessionHandler) Create(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	rec, err := h.reconcilerFor(ctx, req)
	if err != nil {
		return authFailure(err), nil
	}

	var input struct {
		Kind   string `json:"kind"`
		Parent string `json:"parent"`
	}
	if err := json.Unmarshal([]byte(req.Body), &input); err != nil {
		return textResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	kind, ok := format.KindFromString(input.Kind)
	if !ok {
		return textResponse(http.StatusBadRequest, "Unknown document kind"), nil
	}
	if input.Parent == "" {
		return textResponse(http.StatusBadRequest, "Missing parent node"), nil
	}

	res, err := rec.Create(ctx, kind, model.NodeRef(input.Parent))
	if err != nil {
		fmt.Printf("Create error: %v\n", err)
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusCreated, map[string]string{
		"nodeRef":   string(res.Node.Ref),
		"editorUrl": res.EditorURL,
	}), nil
}

// Upload pushes an existing node into a remote working copy.
func (h *SessionHandler) Upload(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	rec, err := h.reconcilerFor(ctx, req)
	if err != nil {
		return authFailure(err), nil
	}

	var input struct {
		NodeRef     string   `json:"nodeRef"`
		Permissions []string `json:"permissions"`
	}
	if err := json.Unmarshal([]byte(req.Body), &input); err != nil {
		return textResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if input.NodeRef == "" {
		return textResponse(http.StatusBadRequest, "Missing node reference"), nil
	}
	perms, err := parsePermissionInput(input.Permissions)
	if err != nil {
		return textResponse(http.StatusBadRequest, "Invalid permissions: "+err.Error()), nil
	}

	res, err := rec.Upload(ctx, model.NodeRef(input.NodeRef), perms)
	if err != nil {
		fmt.Printf("Upload error: %v\n", err)
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]string{
		"nodeRef":   string(res.Node.Ref),
		"editorUrl": res.EditorURL,
	}), nil
}

// parsePermissionInput validates caller-supplied permission strings. Unlike
// stored properties, where a malformed entry is skipped, caller input is
// rejected outright so a typo does not silently drop a grant.
func parsePermissionInput(vals []string) ([]model.GooglePermission, error) {
	perms := make([]model.GooglePermission, 0, len(vals))
	for _, v := range vals {
		p, err := model.ParsePermission(v)
		if err != nil {
			return nil, err
		}
		if !model.ValidAuthorityType(p.AuthorityType) {
			return nil, fmt.Errorf("unknown authority type %q in permission %q", p.AuthorityType, v)
		}
		if !model.ValidRole(p.Role) {
			return nil, fmt.Errorf("unknown role %q in permission %q", p.Role, v)
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// Save pulls remote content back and snapshots a version.
func (h *SessionHandler) Save(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	rec, err := h.reconcilerFor(ctx, req)
	if err != nil {
		return authFailure(err), nil
	}

	var input struct {
		NodeRef         string `json:"nodeRef"`
		MajorVersion    bool   `json:"majorVersion"`
		Description     string `json:"description"`
		Override        bool   `json:"override"`
		RemoveFromDrive bool   `json:"removeFromDrive"`
	}
	if err := json.Unmarshal([]byte(req.Body), &input); err != nil {
		return textResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if input.NodeRef == "" {
		return textResponse(http.StatusBadRequest, "Missing node reference"), nil
	}

	version := model.VersionMinor
	if input.MajorVersion {
		version = model.VersionMajor
	}

	txn := session.NewTxn()
	err = rec.Save(ctx, model.NodeRef(input.NodeRef), session.SaveOptions{
		MajorVersion:    input.MajorVersion,
		Description:     input.Description,
		Override:        input.Override,
		RemoveFromDrive: input.RemoveFromDrive,
	}, txn)
	if err != nil {
		txn.Rollback(ctx)
		fmt.Printf("Save error: %v\n", err)
		return errorResponse(err), nil
	}
	txn.Commit(ctx)

	return jsonResponse(http.StatusOK, map[string]any{
		"success": true,
		"version": string(version),
	}), nil
}

// Discard abandons the session without saving.
func (h *SessionHandler) Discard(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	rec, err := h.reconcilerFor(ctx, req)
	if err != nil {
		return authFailure(err), nil
	}

	var input struct {
		NodeRef  string `json:"nodeRef"`
		Override bool   `json:"override"`
	}
	if err := json.Unmarshal([]byte(req.Body), &input); err != nil {
		return textResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if input.NodeRef == "" {
		return textResponse(http.StatusBadRequest, "Missing node reference"), nil
	}

	txn := session.NewTxn()
	err = rec.Discard(ctx, model.NodeRef(input.NodeRef), input.Override, txn)
	if err != nil {
		txn.Rollback(ctx)
		fmt.Printf("Discard error: %v\n", err)
		return errorResponse(err), nil
	}
	txn.Commit(ctx)

	return jsonResponse(http.StatusOK, map[string]any{"success": true}), nil
}

// IsLatestRevision reports whether the node still holds the remote head
// revision.
func (h *SessionHandler) IsLatestRevision(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	rec, err := h.reconcilerFor(ctx, req)
	if err != nil {
		return authFailure(err), nil
	}

	nodeRef := req.QueryStringParameters["nodeRef"]
	if nodeRef == "" {
		return textResponse(http.StatusBadRequest, "Missing node reference"), nil
	}

	latest, err := rec.IsLatestRevision(ctx, model.NodeRef(nodeRef))
	if errors.Is(err, session.ErrNoSession) {
		// The stored revision is a precondition of the comparison.
		return textResponse(http.StatusPreconditionFailed, err.Error()), nil
	}
	if err != nil {
		fmt.Printf("IsLatestRevision error: %v\n", err)
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]bool{"latest": latest}), nil
}

// HasConcurrentEditors reports foreign edits on the remote working copy.
func (h *SessionHandler) HasConcurrentEditors(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	rec, err := h.reconcilerFor(ctx, req)
	if err != nil {
		return authFailure(err), nil
	}

	nodeRef := req.QueryStringParameters["nodeRef"]
	if nodeRef == "" {
		return textResponse(http.StatusBadRequest, "Missing node reference"), nil
	}

	concurrent, err := rec.HasConcurrentEditors(ctx, model.NodeRef(nodeRef))
	if err != nil {
		fmt.Printf("HasConcurrentEditors error: %v\n", err)
		return errorResponse(err), nil
	}

	return jsonResponse(http.StatusOK, map[string]bool{"concurrentEditors": concurrent}), nil
}

// authFailure distinguishes a bad session token from a missing remote
// credential: the former is 401, the latter tells the frontend to run the
// OAuth flow again.
func authFailure(err error) events.APIGatewayProxyResponse {
	if status := statusFor(err); status != http.StatusInternalServerError {
		return textResponse(status, err.Error())
	}
	return textResponse(http.StatusUnauthorized, "Unauthorized")
}
