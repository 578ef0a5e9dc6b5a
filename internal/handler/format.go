package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/contentworks/drivebridge/internal/format"
)

// FormatHandler answers format policy queries.
type FormatHandler struct {
	policy *format.Policy
}

// NewFormatHandler creates a new FormatHandler.
func NewFormatHandler(policy *format.Policy) *FormatHandler {
	return &FormatHandler{policy: policy}
}

// Exportable reports how a mimetype comes back after a remote editing round
// trip: unchanged, upgraded to its modern format, or downgraded.
func (h *FormatHandler) Exportable(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	mimetype := req.QueryStringParameters["mimetype"]
	if mimetype == "" {
		return textResponse(http.StatusBadRequest, "Missing mimetype"), nil
	}

	action := "default"
	ok, err := h.policy.IsExportable(mimetype)
	switch {
	case errors.Is(err, format.ErrMustUpgrade):
		action = "upgrade"
	case errors.Is(err, format.ErrMustDowngrade):
		action = "downgrade"
	case err != nil:
		return errorResponse(err), nil
	case !ok:
		return textResponse(http.StatusUnsupportedMediaType, "Mimetype cannot be edited remotely"), nil
	}

	return jsonResponse(http.StatusOK, map[string]string{"action": action}), nil
}
