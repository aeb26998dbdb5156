package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/grantline/grantline/pkg/stores"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// respondStoreError maps store errors onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stores.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, stores.ErrSettingsMissing):
		respondError(w, http.StatusNotFound, "aws settings not configured")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createDeploymentRequest struct {
	TargetAccount string `json:"target_account" validate:"required,len=12,numeric"`
	ResourceType  string `json:"resource_type" validate:"required,oneof=role permission_set"`
	ResourceID    string `json:"resource_id" validate:"required"`
	Action        string `json:"action" validate:"required,oneof=create update delete"`
	RequestedBy   string `json:"requested_by" validate:"required"`
}

// handleCreateDeployment records a deployment and enqueues it. The 201
// response carries status "pending": acceptance and execution are distinct,
// and execution outcome is observed by polling the deployment.
func (s *Server) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The referenced definition must exist before the deployment is accepted.
	var lookupErr error
	switch stores.ResourceType(req.ResourceType) {
	case stores.ResourceTypeRole:
		_, lookupErr = s.store.GetRole(r.Context(), req.ResourceID)
	case stores.ResourceTypePermissionSet:
		_, lookupErr = s.store.GetPermissionSet(r.Context(), req.ResourceID)
	}
	if lookupErr != nil {
		if errors.Is(lookupErr, stores.ErrNotFound) {
			respondError(w, http.StatusUnprocessableEntity, "referenced resource does not exist")
			return
		}
		respondStoreError(w, lookupErr)
		return
	}

	dep := &stores.Deployment{
		ID:            uuid.NewString(),
		TargetAccount: req.TargetAccount,
		ResourceType:  stores.ResourceType(req.ResourceType),
		ResourceID:    req.ResourceID,
		Action:        stores.DeploymentAction(req.Action),
		Status:        stores.DeploymentStatusPending,
		RequestedBy:   req.RequestedBy,
	}

	if err := s.store.CreateDeployment(r.Context(), dep); err != nil {
		respondStoreError(w, err)
		return
	}

	s.queue.Enqueue(dep.ID)

	respondJSON(w, http.StatusCreated, dep)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	deployments, err := s.store.ListDeployments(r.Context(), limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, deployments)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := s.store.GetDeployment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dep)
}

func (s *Server) handleGetDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetDeployment(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	logs, err := s.store.GetDeploymentLogs(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

type createRoleRequest struct {
	Name               string   `json:"name" validate:"required,max=64"`
	Description        string   `json:"description"`
	TrustPolicy        string   `json:"trust_policy" validate:"required"`
	MaxSessionDuration int32    `json:"max_session_duration" validate:"omitempty,min=3600,max=43200"`
	PolicyArns         []string `json:"policy_arns"`
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !json.Valid([]byte(req.TrustPolicy)) {
		respondError(w, http.StatusBadRequest, "trust_policy must be a JSON document")
		return
	}

	role := &stores.Role{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		Description:        req.Description,
		TrustPolicy:        req.TrustPolicy,
		MaxSessionDuration: req.MaxSessionDuration,
		PolicyArns:         req.PolicyArns,
	}
	if role.MaxSessionDuration == 0 {
		role.MaxSessionDuration = 3600
	}

	if err := s.store.CreateRole(r.Context(), role); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, role)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	roles, err := s.store.ListRoles(r.Context(), limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, roles)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.store.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, role)
}

type createPermissionSetRequest struct {
	Name              string   `json:"name" validate:"required,max=32"`
	Description       string   `json:"description"`
	SessionDuration   string   `json:"session_duration"`
	ManagedPolicyArns []string `json:"managed_policy_arns"`
	InlinePolicy      *string  `json:"inline_policy"`
}

func (s *Server) handleCreatePermissionSet(w http.ResponseWriter, r *http.Request) {
	var req createPermissionSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.InlinePolicy != nil && *req.InlinePolicy != "" && !json.Valid([]byte(*req.InlinePolicy)) {
		respondError(w, http.StatusBadRequest, "inline_policy must be a JSON document")
		return
	}

	ps := &stores.PermissionSet{
		ID:                uuid.NewString(),
		Name:              req.Name,
		Description:       req.Description,
		SessionDuration:   req.SessionDuration,
		ManagedPolicyArns: req.ManagedPolicyArns,
		InlinePolicy:      req.InlinePolicy,
	}
	if ps.SessionDuration == "" {
		ps.SessionDuration = "PT1H"
	}

	if err := s.store.CreatePermissionSet(r.Context(), ps); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ps)
}

func (s *Server) handleListPermissionSets(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	sets, err := s.store.ListPermissionSets(r.Context(), limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sets)
}

func (s *Server) handleGetPermissionSet(w http.ResponseWriter, r *http.Request) {
	ps, err := s.store.GetPermissionSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ps)
}

// handleGetSettings returns the settings row. The secret access key is never
// serialized.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetAwsSettings(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

type putSettingsRequest struct {
	Region           string `json:"region" validate:"required"`
	AccessKeyID      string `json:"access_key_id" validate:"required"`
	SecretAccessKey  string `json:"secret_access_key" validate:"required"`
	CrossAccountRole string `json:"cross_account_role" validate:"required"`
	SSOInstanceArn   string `json:"sso_instance_arn"`
	SNSTopicArn      string `json:"sns_topic_arn"`
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req putSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	settings := &stores.AwsSettings{
		Region:           req.Region,
		AccessKeyID:      req.AccessKeyID,
		SecretAccessKey:  req.SecretAccessKey,
		CrossAccountRole: req.CrossAccountRole,
		SSOInstanceArn:   req.SSOInstanceArn,
		SNSTopicArn:      req.SNSTopicArn,
	}

	if err := s.store.PutAwsSettings(r.Context(), settings); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}
