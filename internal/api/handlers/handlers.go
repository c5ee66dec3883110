// Package handlers implements the HTTP endpoints: statement uploads, job
// inspection and manual rule management.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bankfeed/internal/api/middleware"
	"bankfeed/internal/domain"
	"bankfeed/internal/ingest"
	"bankfeed/internal/jobs"
	"bankfeed/internal/normalize"
	"bankfeed/internal/store"
)

// maxUploadBytes caps one statement upload at 32 MiB.
const maxUploadBytes = 32 << 20

// UploadsHandler handles statement upload endpoints.
type UploadsHandler struct {
	service *ingest.Service
	files   store.FileRepository
	log     zerolog.Logger
}

func NewUploadsHandler(service *ingest.Service, files store.FileRepository, log zerolog.Logger) *UploadsHandler {
	return &UploadsHandler{service: service, files: files, log: log}
}

// Upload handles POST /api/uploads. The statement arrives as a multipart
// form with a single "file" field; the whole synchronous phase runs before
// the response, so the summary in the body is already durable.
func (h *UploadsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "A 'file' form field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	if len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Uploaded file is empty")
		return
	}

	summary, err := h.service.ProcessUpload(r.Context(), header.Filename, data)
	if err != nil {
		h.log.Error().Err(err).Str("filename", header.Filename).Msg("Upload processing failed")
		middleware.WriteError(w, http.StatusUnprocessableEntity, "Failed to process statement")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, summaryResponse(summary))
}

// GetFile handles GET /api/uploads/{id}.
func (h *UploadsHandler) GetFile(w http.ResponseWriter, r *http.Request, fileID string) {
	f, err := h.files.Get(r.Context(), fileID)
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("file_id", fileID).Msg("Failed to get file")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get file")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, fileResponse(f))
}

func summaryResponse(s *domain.UploadSummary) map[string]interface{} {
	resp := map[string]interface{}{
		"file_id":         s.FileID,
		"processed":       s.Processed,
		"rule_matched":    s.RuleMatched,
		"unmatched":       s.Unmatched,
		"duplicates":      s.Duplicates,
		"dropped_rows":    s.DroppedRows,
		"reused_analysis": s.ReusedAnalysis,
		"elapsed_ms":      s.Elapsed.Milliseconds(),
	}
	if s.CategorizationJobID != "" {
		resp["categorization_job_id"] = s.CategorizationJobID
	}
	if s.CounterpartyJobID != "" {
		resp["counterparty_job_id"] = s.CounterpartyJobID
	}
	return resp
}

func fileResponse(f *domain.UploadedFile) map[string]interface{} {
	return map[string]interface{}{
		"file_id":      f.ID,
		"filename":     f.Filename,
		"content_hash": f.ContentHash,
		"size_bytes":   f.SizeBytes,
		"storage_uri":  f.StorageURI,
		"analysis":     f.Analysis,
		"uploaded_at":  f.UploadedAt.Format(time.RFC3339),
	}
}

// JobsHandler exposes background job state.
type JobsHandler struct {
	jobs         store.JobRepository
	staleTimeout time.Duration
	log          zerolog.Logger
}

func NewJobsHandler(jobRepo store.JobRepository, staleTimeout time.Duration, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{jobs: jobRepo, staleTimeout: staleTimeout, log: log}
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobs.Get(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, jobResponse(job))
}

// ListJobs handles GET /api/jobs.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.JobFilter{
		Status: domain.JobStatus(query.Get("status")),
		Type:   domain.JobType(query.Get("type")),
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	list, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	out := make([]map[string]interface{}, 0, len(list))
	for _, job := range list {
		out = append(out, jobResponse(job))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  out,
		"count": len(out),
	})
}

// SweepStale handles POST /api/jobs/sweep-stale, the operator path that
// returns abandoned claims to the backlog.
func (h *JobsHandler) SweepStale(w http.ResponseWriter, r *http.Request) {
	n, err := jobs.SweepStale(r.Context(), h.jobs, h.staleTimeout, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("Stale sweep failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to sweep stale jobs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func jobResponse(job *domain.BackgroundJob) map[string]interface{} {
	resp := map[string]interface{}{
		"job_id":       job.ID,
		"type":         job.Type,
		"status":       job.Status,
		"transactions": len(job.TransactionIDs),
		"result":       job.Result,
		"created_at":   job.CreatedAt.Format(time.RFC3339),
	}
	if job.WorkerID != "" {
		resp["worker_id"] = job.WorkerID
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.StartedAt != nil {
		resp["started_at"] = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		resp["completed_at"] = job.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// RulesHandler manages manually curated enhancement rules.
type RulesHandler struct {
	rules store.RuleRepository
	log   zerolog.Logger
}

func NewRulesHandler(rules store.RuleRepository, log zerolog.Logger) *RulesHandler {
	return &RulesHandler{rules: rules, log: log}
}

// ListRules handles GET /api/rules.
func (h *RulesHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.rules.ListAll(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list rules")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list rules")
		return
	}

	out := make([]map[string]interface{}, 0, len(list))
	for _, rule := range list {
		out = append(out, ruleResponse(rule))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules": out,
		"count": len(out),
	})
}

type createRuleRequest struct {
	Pattern               string  `json:"pattern"`
	MatchType             string  `json:"match_type"`
	CategoryID            string  `json:"category_id"`
	CounterpartyAccountID string  `json:"counterparty_account_id"`
	MinAmount             *string `json:"min_amount"`
	MaxAmount             *string `json:"max_amount"`
	ValidFrom             *string `json:"valid_from"`
	ValidTo               *string `json:"valid_to"`
}

// CreateRule handles POST /api/rules. Manual rules carry no confidence; a
// pattern collision is a conflict, not an overwrite. The submitted pattern is
// canonicalized the same way descriptions are, since matching runs against
// normalized text.
func (h *RulesHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	pattern := normalize.Description(req.Pattern)
	if pattern == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Pattern is empty after normalization")
		return
	}

	now := time.Now()
	rule := &domain.EnhancementRule{
		ID:                    uuid.NewString(),
		Pattern:               pattern,
		MatchType:             domain.MatchType(req.MatchType),
		CategoryID:            req.CategoryID,
		CounterpartyAccountID: req.CounterpartyAccountID,
		Provenance:            domain.ProvenanceManual,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if rule.MatchType == "" {
		rule.MatchType = domain.MatchExact
	}

	var err error
	if rule.MinAmount, err = parseAmount(req.MinAmount); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid min_amount")
		return
	}
	if rule.MaxAmount, err = parseAmount(req.MaxAmount); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid max_amount")
		return
	}
	if rule.ValidFrom, err = parseDate(req.ValidFrom); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid valid_from")
		return
	}
	if rule.ValidTo, err = parseDate(req.ValidTo); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid valid_to")
		return
	}

	if err := rule.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.rules.Create(r.Context(), rule)
	if errors.Is(err, store.ErrRuleExists) {
		middleware.WriteError(w, http.StatusConflict, "A rule for this pattern already exists")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("pattern", rule.Pattern).Msg("Failed to create rule")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create rule")
		return
	}

	h.log.Info().Str("rule_id", rule.ID).Str("pattern", rule.Pattern).Msg("Manual rule created")
	middleware.WriteJSON(w, http.StatusCreated, ruleResponse(rule))
}

// DeleteRule handles DELETE /api/rules/{id}.
func (h *RulesHandler) DeleteRule(w http.ResponseWriter, r *http.Request, ruleID string) {
	err := h.rules.Delete(r.Context(), ruleID)
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Rule not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("rule_id", ruleID).Msg("Failed to delete rule")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to delete rule")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"deleted": ruleID})
}

func ruleResponse(rule *domain.EnhancementRule) map[string]interface{} {
	resp := map[string]interface{}{
		"rule_id":     rule.ID,
		"pattern":     rule.Pattern,
		"match_type":  rule.MatchType,
		"provenance":  rule.Provenance,
		"match_count": rule.MatchCount,
		"created_at":  rule.CreatedAt.Format(time.RFC3339),
	}
	if rule.CategoryID != "" {
		resp["category_id"] = rule.CategoryID
	}
	if rule.CounterpartyAccountID != "" {
		resp["counterparty_account_id"] = rule.CounterpartyAccountID
	}
	if rule.MinAmount != nil {
		resp["min_amount"] = rule.MinAmount.String()
	}
	if rule.MaxAmount != nil {
		resp["max_amount"] = rule.MaxAmount.String()
	}
	if rule.ValidFrom != nil {
		resp["valid_from"] = rule.ValidFrom.Format("2006-01-02")
	}
	if rule.ValidTo != nil {
		resp["valid_to"] = rule.ValidTo.Format("2006-01-02")
	}
	if rule.Confidence != nil {
		resp["confidence"] = *rule.Confidence
	}
	if rule.LastMatchedAt != nil {
		resp["last_matched_at"] = rule.LastMatchedAt.Format(time.RFC3339)
	}
	return resp
}

func parseAmount(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
