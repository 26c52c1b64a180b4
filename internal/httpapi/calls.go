package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/auth"
	"github.com/antoniostano/callvoice/internal/directory"
	"github.com/antoniostano/callvoice/internal/protocol"
	"github.com/antoniostano/callvoice/internal/session"
	"github.com/antoniostano/callvoice/internal/turnlog"
)

func (s *Server) handleCallRinging(w http.ResponseWriter, r *http.Request) {
	var req protocol.CallRingingRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	claims := auth.ClaimsFromContext(r.Context())
	if strings.TrimSpace(req.TenantID) == "" && claims != nil {
		req.TenantID = claims.TenantID
	}
	if req.TenantID != "" && !claims.CanAccessTenant(req.TenantID) {
		respondError(w, http.StatusForbidden, "forbidden", "token is not scoped to this tenant")
		return
	}

	call, err := s.controller.OnCallRinging(r.Context(), req)
	switch {
	case errors.Is(err, protocol.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, directory.ErrCallExists):
		respondError(w, http.StatusConflict, "call_exists", err.Error())
		return
	case err != nil:
		s.internalError(w, "register call", err)
		return
	}
	resp := callResponse(call)
	resp.StreamURL = "/ws/call/" + call.ID
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCallEnded(w http.ResponseWriter, r *http.Request) {
	call, ok := s.authorizedCall(w, r)
	if !ok {
		return
	}
	var req protocol.CallEndedRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	status, valid := directory.ParseEndStatus(req.Status)
	if !valid {
		respondError(w, http.StatusBadRequest, "invalid_status", "status must be completed, failed or no_answer")
		return
	}
	if err := s.controller.OnCallEnded(r.Context(), call.ID, status); err != nil {
		s.internalError(w, "end call", err)
		return
	}
	ended, err := s.controller.Directory().LookupCall(r.Context(), call.ID)
	if err != nil {
		s.internalError(w, "lookup call", err)
		return
	}
	respondJSON(w, http.StatusOK, callResponse(ended))
}

func (s *Server) handleDTMF(w http.ResponseWriter, r *http.Request) {
	call, ok := s.authorizedCall(w, r)
	if !ok {
		return
	}
	var req protocol.DTMFRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.Normalize(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_digit", err.Error())
		return
	}
	err := s.controller.OnDtmfReceived(r.Context(), call.ID, req.Digit)
	switch {
	case errors.Is(err, directory.ErrInvalidDigit):
		respondError(w, http.StatusBadRequest, "invalid_digit", err.Error())
		return
	case err != nil:
		s.internalError(w, "record dtmf", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	all := s.controller.Registry().Snapshot()
	out := make([]session.Info, 0, len(all))
	for _, info := range all {
		if claims.CanAccessTenant(info.TenantID) {
			out = append(out, info)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"active": len(out),
		"calls":  out,
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	claims := auth.ClaimsFromContext(r.Context())
	if tenantID == "" && claims != nil && claims.Role != auth.RoleAdmin {
		tenantID = claims.TenantID
	}
	if !claims.CanAccessTenant(tenantID) {
		respondError(w, http.StatusForbidden, "forbidden", "token is not scoped to this tenant")
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	if limit == 0 {
		limit = directory.DefaultListLimit
	}
	limit = min(limit, directory.MaxListLimit)

	active, err := strconv.ParseBool(r.URL.Query().Get("active"))
	if err != nil && r.URL.Query().Has("active") {
		respondError(w, http.StatusBadRequest, "invalid_active", "active must be a boolean")
		return
	}

	q := directory.ListQuery{TenantID: tenantID, Active: active, Limit: limit, Offset: offset}
	calls, total, err := s.controller.Directory().ListCalls(r.Context(), q)
	if err != nil {
		s.internalError(w, "list calls", err)
		return
	}
	resp := protocol.CallListResponse{
		Calls:  make([]protocol.CallResponse, 0, len(calls)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, c := range calls {
		resp.Calls = append(resp.Calls, s.liveCallResponse(c))
	}
	respondJSON(w, http.StatusOK, resp)
}

type callDetailResponse struct {
	protocol.CallResponse
	Messages []turnlog.Message `json:"messages"`
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, ok := s.authorizedCall(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	msgs, err := s.turnLog.Messages(r.Context(), call.ID, limit)
	if err != nil {
		s.internalError(w, "load messages", err)
		return
	}
	if msgs == nil {
		msgs = []turnlog.Message{}
	}
	respondJSON(w, http.StatusOK, callDetailResponse{
		CallResponse: s.liveCallResponse(call),
		Messages:     msgs,
	})
}

func (s *Server) handleCallMessages(w http.ResponseWriter, r *http.Request) {
	call, ok := s.authorizedCall(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	msgs, err := s.turnLog.Messages(r.Context(), call.ID, limit)
	if err != nil {
		s.internalError(w, "load messages", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call_id":  call.ID,
		"messages": msgs,
	})
}

func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !auth.ClaimsFromContext(r.Context()).CanAccessTenant(tenantID) {
		respondError(w, http.StatusForbidden, "forbidden", "token is not scoped to this tenant")
		return
	}
	greeting, err := s.controller.Directory().TenantGreeting(r.Context(), tenantID)
	if err != nil {
		s.logger.Warn("tenant greeting lookup failed, using default", zap.String("tenant_id", tenantID), zap.Error(err))
		greeting = directory.DefaultGreeting
	}
	respondJSON(w, http.StatusOK, protocol.GreetingResponse{TenantID: tenantID, GreetingMessage: greeting})
}

// authorizedCall resolves {id} and enforces tenant scoping. It writes the
// error response itself when it returns false.
func (s *Server) authorizedCall(w http.ResponseWriter, r *http.Request) (directory.Call, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return directory.Call{}, false
	}
	call, err := s.controller.Directory().LookupCall(r.Context(), id)
	if errors.Is(err, directory.ErrCallNotFound) {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return directory.Call{}, false
	}
	if err != nil {
		s.internalError(w, "lookup call", err)
		return directory.Call{}, false
	}
	if !auth.ClaimsFromContext(r.Context()).CanAccessTenant(call.TenantID) {
		// Do not reveal that another tenant's call exists.
		respondError(w, http.StatusNotFound, "call_not_found", "call not found: "+id)
		return directory.Call{}, false
	}
	return call, true
}

// queryInt reads an optional non-negative integer query parameter. Absent
// means zero.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (s *Server) liveCallResponse(c directory.Call) protocol.CallResponse {
	resp := callResponse(c)
	_, resp.IsConnected = s.controller.Registry().Lookup(c.ID)
	return resp
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal", op+" failed")
}

func callResponse(c directory.Call) protocol.CallResponse {
	return protocol.CallResponse{
		CallID:      c.ID,
		TenantID:    c.TenantID,
		Status:      string(c.Status),
		StartedAt:   c.StartedAt,
		ConnectedAt: c.ConnectedAt,
		EndedAt:     c.EndedAt,
		From:        c.From,
		To:          c.To,
	}
}
