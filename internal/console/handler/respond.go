package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/infra/auth"
)

var kindStatus = map[domain.Kind]int{
	domain.KindValidation: http.StatusBadRequest,
	domain.KindNotFound:   http.StatusNotFound,
	domain.KindForbidden:  http.StatusForbidden,
	domain.KindPolicy:     http.StatusUnprocessableEntity,
	domain.KindConflict:   http.StatusConflict,
	domain.KindDependency: http.StatusBadGateway,
	domain.KindUnknown:    http.StatusInternalServerError,
}

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Error  domain.Kind `json:"error"`
	Reason string      `json:"reason"`
}

// StatusFor maps an error to its HTTP status by kind.
func StatusFor(err error) int {
	if s, ok := kindStatus[domain.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	reason := err.Error()
	if kind == domain.KindUnknown {
		reason = "internal error"
	}
	writeJSON(w, StatusFor(err), ErrorBody{Error: kind, Reason: reason})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewValidationError("body", fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// decodeOptional tolerates an empty body.
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domain.NewValidationError("body", fmt.Sprintf("invalid request body: %v", err))
}

func actor(r *http.Request) domain.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}
