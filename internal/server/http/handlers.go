package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/research-pipeline-service/internal/dispatch"
	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/repository"
	"github.com/helixir/research-pipeline-service/internal/temporal"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// createJobRequest is the JSON request body for job intake.
type createJobRequest struct {
	ProblemStatement string `json:"problem_statement" validate:"required,min=3,max=10000"`
	SessionID        string `json:"session_id,omitempty" validate:"omitempty,max=128,printascii"`
}

// createJob handles POST /jobs. It creates the job and enqueues its work
// item; the pipeline runs asynchronously.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req createJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	req.ProblemStatement = strings.TrimSpace(req.ProblemStatement)
	req.SessionID = strings.TrimSpace(req.SessionID)

	if err := s.validate.Struct(req); err != nil {
		writeDomainError(w, validationFromValidator(err))
		return
	}

	job := domain.NewJob(req.SessionID, req.ProblemStatement, s.now())
	if err := s.jobs.Create(ctx, job); err != nil {
		writeDomainError(w, err)
		return
	}
	s.metrics.RecordJobCreated()

	logger := s.logger.With().
		Str("session_id", job.SessionID).
		Str("job_id", job.ID.String()).
		Logger()

	if err := s.publisher.Publish(ctx, dispatch.WorkItem{SessionID: job.SessionID, JobID: job.ID}); err != nil {
		logger.Error().Err(err).Msg("failed to enqueue job")
		s.failUndispatched(r, job, err)
		writeError(w, http.StatusServiceUnavailable, "job could not be scheduled")
		return
	}

	logger.Info().Msg("job accepted")
	writeJSON(w, http.StatusAccepted, createJobResponse{
		JobID:     job.ID.String(),
		SessionID: job.SessionID,
		Status:    string(domain.JobStatusCreated),
	})
}

// failUndispatched moves a job that never reached the queue to FAILED, so it
// does not sit in CREATED forever. A lost race means a delivery got through.
func (s *Server) failUndispatched(r *http.Request, job *domain.Job, cause error) {
	msg := fmt.Sprintf("dispatch failed: %v", cause)
	upd := domain.Transition(domain.JobStatusCreated, domain.JobStatusFailed)
	upd.ErrorMessage = &msg
	if _, err := s.jobs.Update(r.Context(), job.SessionID, job.ID, upd); err != nil && !errors.Is(err, domain.ErrStaleState) {
		s.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark undispatched job")
		return
	}
	s.metrics.RecordJobFailed("", 0)
}

// getJob handles GET /sessions/{sessionID}/jobs/{jobID}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}
	s.writeJobStatus(w, r, sessionIDFromContext(r.Context()), jobID)
}

// getJobBySessionParam handles GET /jobs/{jobID}?session_id=.
func (s *Server) getJobBySessionParam(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id query parameter is required", Field: "session_id"})
		return
	}
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}
	s.writeJobStatus(w, r, sessionID, jobID)
}

// writeJobStatus writes the status view. Running jobs also carry the live
// workflow progress when it can be queried.
func (s *Server) writeJobStatus(w http.ResponseWriter, r *http.Request, sessionID string, jobID uuid.UUID) {
	ctx := r.Context()

	job, err := s.jobs.Get(ctx, sessionID, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := domainJobToStatusResponse(job)
	if s.progress != nil && !job.IsFinal() && job.Status != domain.JobStatusCreated {
		progress, err := s.progress.QueryProgress(ctx, jobID)
		if err != nil {
			s.logger.Debug().Err(err).Str("job_id", jobID.String()).Msg("live progress unavailable")
		} else {
			resp.Progress = pipelineProgressToResponse(progress)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// listJobs handles GET /sessions/{sessionID}/jobs.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.JobFilter{
		SessionID: sessionIDFromContext(r.Context()),
		Limit:     limit,
		Offset:    offset,
	}
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		for _, st := range strings.Split(statusParam, ",") {
			filter.Status = append(filter.Status, domain.JobStatus(strings.TrimSpace(st)))
		}
	}
	if err := filter.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	jobs, totalCount, err := s.jobs.ListBySession(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]jobSummaryResponse, len(jobs))
	for i, j := range jobs {
		summaries[i] = domainJobToSummary(j)
	}

	writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:          summaries,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// validationFromValidator converts the first validator failure into a
// domain validation error.
func validationFromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("body", err.Error())
	}
	fe := verrs[0]
	field := jsonFieldName(fe.Field())
	switch fe.Tag() {
	case "required":
		return domain.NewValidationError(field, "is required")
	case "min":
		return domain.NewValidationError(field, fmt.Sprintf("must be at least %s characters", fe.Param()))
	case "max":
		return domain.NewValidationError(field, fmt.Sprintf("must be at most %s characters", fe.Param()))
	case "printascii":
		return domain.NewValidationError(field, "must contain printable ASCII characters only")
	default:
		return domain.NewValidationError(field, "is invalid")
	}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "ProblemStatement":
		return "problem_statement"
	case "SessionID":
		return "session_id"
	default:
		return strings.ToLower(structField)
	}
}

// writeDomainError maps domain and temporal errors to HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to
// clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Error(), Field: ve.Field})
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, temporal.ErrWorkflowNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrJobAlreadyTerminal):
		writeError(w, http.StatusConflict, "job already terminal")
	case errors.Is(err, domain.ErrStaleState):
		writeError(w, http.StatusConflict, "job status changed concurrently")
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, temporal.ErrWorkflowAlreadyStarted):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, domain.ErrStore):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if
// invalid. The parse error is not echoed back.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("%s must be a valid UUID", fieldName), Field: fieldName})
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
