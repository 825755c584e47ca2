package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bubbleboard/internal/ingest"
	"bubbleboard/internal/metrics"
	"bubbleboard/internal/model"
	"bubbleboard/internal/persist"
)

// maxAdminBodyBytes limits admin request bodies
const maxAdminBodyBytes = 4 << 10

// adminSecret holds the shared admin password as a bcrypt hash only.
type adminSecret struct {
	hash []byte
}

func newAdminSecret(password, hash string) (*adminSecret, error) {
	switch {
	case hash != "":
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid ADMIN_PASSWORD_HASH: %w", err)
		}
		return &adminSecret{hash: []byte(hash)}, nil
	case password != "":
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		return &adminSecret{hash: h}, nil
	default:
		return &adminSecret{}, nil
	}
}

func (s *adminSecret) configured() bool {
	return s != nil && len(s.hash) > 0
}

func (s *adminSecret) matches(password string) bool {
	if !s.configured() || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.hash, []byte(password)) == nil
}

type adminRequest struct {
	Password *string `json:"password"`
}

// readPassword returns the password from the JSON body. ok is false when
// the body is missing, malformed or has no password.
func readPassword(r *http.Request) (string, bool) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", false
	}
	if req.Password == nil || *req.Password == "" {
		return "", false
	}
	return *req.Password, true
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// audit records an admin attempt in the public log and metrics.
func (h *Handler) audit(action, result, ip string) {
	label := strings.ToLower(strings.ReplaceAll(action, " ", "_"))
	metrics.AdminAttempts.WithLabelValues(label, result).Inc()
	h.Audit.AppendPublic(fmt.Sprintf("[%s] ADMIN %s %s | IP: %s", model.FormatTime(time.Now()), action, result, ip))
	h.Logger.Info().Str("action", action).Str("result", result).Str("ip", ip).Msg("admin attempt")
}

// AdminAuth handles POST /api/admin-auth
func (h *Handler) AdminAuth(w http.ResponseWriter, r *http.Request) {
	ip := ingest.ClientIP(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodyBytes)

	password, ok := readPassword(r)
	if !ok {
		h.audit("AUTH", "missing", ip)
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false})
		return
	}

	if !h.admin.matches(password) {
		h.audit("AUTH", "failure", ip)
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"ok": false})
		return
	}

	h.audit("AUTH", "success", ip)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// AdminEmails handles POST /api/admin/emails
func (h *Handler) AdminEmails(w http.ResponseWriter, r *http.Request) {
	ip := ingest.ClientIP(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodyBytes)

	password, ok := readPassword(r)
	if !ok {
		password = bearerToken(r)
	}

	if !h.admin.matches(password) {
		h.audit("EMAIL EXPORT", "failure", ip)
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"ok": false, "error": "unauthorized"})
		return
	}

	content, err := persist.ReadTail(h.Audit.EmailPath(), h.Config.EmailExportMaxBytes)
	if err != nil {
		h.audit("EMAIL EXPORT", "error", ip)
		h.Logger.Error().Err(err).Msg("failed to read email log")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "read failed"})
		return
	}

	h.audit("EMAIL EXPORT", "success", ip)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
