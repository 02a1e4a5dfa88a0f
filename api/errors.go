package api

import (
	"errors"
	"net/http"

	"arbitra/auth"
	"arbitra/dispute"
	"arbitra/escrow"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/subject"
)

var classStatus = map[protocol.Class]int{
	protocol.ClassAuthorization: http.StatusForbidden,
	protocol.ClassUniqueness:    http.StatusConflict,
	protocol.ClassState:         http.StatusConflict,
	protocol.ClassFunds:         http.StatusBadRequest,
	protocol.ClassClaim:         http.StatusConflict,
	protocol.ClassLookup:        http.StatusNotFound,
	protocol.ClassInput:         http.StatusBadRequest,
}

// writeServiceError maps a service error onto the JSON error envelope.
// Unknown errors are logged and reported as INTERNAL without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if code, ok := protocol.CodeOf(err); ok {
		status, known := classStatus[code.Class()]
		if !known {
			status = http.StatusBadRequest
		}
		var details map[string]string
		var rej *protocol.Rejection
		if errors.As(err, &rej) {
			details = map[string]string{"account": rej.Account, "field": rej.Field}
		}
		writeError(w, r, status, string(code), err.Error(), details)
		return
	}

	switch {
	case errors.Is(err, namespace.ErrNotFound),
		errors.Is(err, subject.ErrNotFound),
		errors.Is(err, pool.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, escrow.ErrRecordNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, auth.ErrIdentityNotFound):
		writeError(w, r, http.StatusNotFound, string(protocol.ErrNotFound), err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "Unauthenticated", err.Error(), nil)
	case errors.Is(err, auth.ErrDuplicateName):
		writeError(w, r, http.StatusConflict, "DuplicateIdentity", err.Error(), nil)
	case errors.Is(err, auth.ErrWeakSecret), errors.Is(err, auth.ErrInvalidName):
		writeError(w, r, http.StatusBadRequest, string(protocol.ErrInvalidParameter), err.Error(), nil)
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", requestID(r)).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
