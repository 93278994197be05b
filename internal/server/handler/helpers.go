package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// RequesterHeader carries the front-end user identity checked against the
// admin allow-list.
const RequesterHeader = "X-Requester-ID"

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps engine errors onto HTTP status codes.
func errorStatus(err error) int {
	for _, m := range []struct {
		target error
		status int
	}{
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrUnknownCandidate, http.StatusNotFound},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrEngineHalted, http.StatusConflict},
		{domain.ErrShuttingDown, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	} {
		if errors.Is(err, m.target) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

func requesterID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(RequesterHeader))
}

// parseListOpts reads limit, offset, since and until from the query string.
// limit defaults to 50 and is capped at 500; malformed numbers fall back to
// the defaults. since and until are RFC 3339 and rejected when malformed.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{
		Limit:  min(intParam(q, "limit", defaultPageSize, 1), maxPageSize),
		Offset: intParam(q, "offset", 0, 0),
	}
	var err error
	if opts.Since, err = timeParam(q, "since"); err != nil {
		return opts, err
	}
	if opts.Until, err = timeParam(q, "until"); err != nil {
		return opts, err
	}
	return opts, nil
}

func intParam(q url.Values, name string, def, lowest int) int {
	n, err := strconv.Atoi(q.Get(name))
	if err != nil || n < lowest {
		return def
	}
	return n
}

func timeParam(q url.Values, name string) (*time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	t = t.UTC()
	return &t, nil
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
