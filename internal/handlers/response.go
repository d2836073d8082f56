package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"eventix/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func errorResponse(err error) (int, errorBody) {
	var se *status.Error
	if !errors.As(err, &se) || se.Kind == status.KindInternal {
		return http.StatusInternalServerError, errorBody{
			Error: "Internal server error",
			Code:  status.KindInternal.String(),
		}
	}
	return se.Kind.HTTPStatus(), errorBody{Error: se.Message, Code: se.Kind.String(), Details: se.Details}
}

// renderError writes a pipeline error as {error, code, details}.
func renderError(e *core.RequestEvent, op string, err error) error {
	code, body := errorResponse(err)
	if code >= http.StatusInternalServerError {
		slog.Error(op, "path", e.Request.URL.Path, "error", err)
	} else {
		slog.Info(op, "path", e.Request.URL.Path, "code", body.Code, "error", err)
	}
	return e.JSON(code, body)
}

func requireAuth(e *core.RequestEvent) (*core.Record, error) {
	if e.Auth == nil {
		return nil, apis.NewUnauthorizedError("Unauthorized", nil)
	}
	return e.Auth, nil
}

func queryInt(e *core.RequestEvent, key string, fallback int) int {
	raw := e.Request.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
