package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/notify"
	"github.com/MrSnakeDoc/mcwatch/internal/settings"
)

const maxBodyBytes = 1 << 16

var errBadBody = errors.New("invalid request body")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadBody),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrUnknownProtocol),
		errors.Is(err, domain.ErrInvalidSubscription),
		errors.Is(err, settings.ErrUnknownPath),
		errors.Is(err, settings.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, settings.ErrReadOnlyPath),
		errors.Is(err, notify.ErrNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, settings.ErrSubscriptionNotFound):
		return http.StatusNotFound
	case errors.Is(err, settings.ErrDuplicateName):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadBody, err)
	}
	return nil
}

// subscriber reads the {bot} and {group} route parameters.
func subscriber(r *http.Request) domain.SubscriberRef {
	return domain.SubscriberRef{
		AccountID: chi.URLParam(r, "bot"),
		GroupID:   chi.URLParam(r, "group"),
	}
}

type enableRequest struct {
	Enable *bool `json:"enable"`
}

func (e enableRequest) value() (bool, error) {
	if e.Enable == nil {
		return false, errors.Join(errBadBody, errors.New(`"enable" is required`))
	}
	return *e.Enable, nil
}
