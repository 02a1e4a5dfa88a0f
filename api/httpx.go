package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"arbitra/protocol"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxBodyBytes     = 1 << 20
)

func newRequestID() string { return "req_" + uuid.NewString() }

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return newRequestID()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData wraps v under key together with the request id.
func writeData(w http.ResponseWriter, r *http.Request, status int, key string, v any) {
	writeJSON(w, status, map[string]any{"request_id": requestID(r), key: v})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"request_id": requestID(r),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	})
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return err
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func parseRound(r *http.Request) (uint32, error) {
	raw := chi.URLParam(r, "round")
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("round must be a positive integer")
	}
	return uint32(n), nil
}

// parseRole accepts a role in any letter case, e.g. "juror" or "Juror".
func parseRole(raw string) protocol.Role {
	for _, role := range []protocol.Role{protocol.RoleDefender, protocol.RoleChallenger, protocol.RoleJuror} {
		if strings.EqualFold(strings.TrimSpace(raw), string(role)) {
			return role
		}
	}
	return protocol.Role(raw)
}
