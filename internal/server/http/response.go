package httpserver

import (
	"time"

	"github.com/helixir/research-pipeline-service/internal/domain"
	litemporal "github.com/helixir/research-pipeline-service/internal/temporal"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type createJobResponse struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type jobStatusResponse struct {
	JobID           string             `json:"job_id"`
	SessionID       string             `json:"session_id"`
	Type            string             `json:"type"`
	Instructions    string             `json:"instructions"`
	Status          string             `json:"status"`
	IsFinal         bool               `json:"is_final"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	PartialFindings domain.FindingsSet `json:"partial_findings"`
	Result          *domain.Report     `json:"result,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	Progress        *progressResponse  `json:"progress,omitempty"`
}

// progressResponse is the live view of a running pipeline.
type progressResponse struct {
	CurrentStage    string   `json:"current_stage,omitempty"`
	CompletedStages []string `json:"completed_stages"`
	RetryAttempt    int      `json:"retry_attempt,omitempty"`
	LastRetryError  string   `json:"last_retry_error,omitempty"`
}

type jobSummaryResponse struct {
	JobID       string     `json:"job_id"`
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	IsFinal     bool       `json:"is_final"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
}

type listJobsResponse struct {
	Jobs          []jobSummaryResponse `json:"jobs"`
	NextPageToken string               `json:"next_page_token,omitempty"`
	TotalCount    int                  `json:"total_count"`
}

func domainJobToStatusResponse(j *domain.Job) jobStatusResponse {
	findings := j.Findings
	if findings == nil {
		findings = domain.FindingsSet{}
	}
	return jobStatusResponse{
		JobID:           j.ID.String(),
		SessionID:       j.SessionID,
		Type:            string(j.Type),
		Instructions:    j.Instructions,
		Status:          string(j.Status),
		IsFinal:         j.IsFinal(),
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		PartialFindings: findings,
		Result:          j.Result,
		ErrorMessage:    j.ErrorMessage,
	}
}

func pipelineProgressToResponse(p *litemporal.PipelineProgress) *progressResponse {
	completed := make([]string, len(p.CompletedStages))
	for i, s := range p.CompletedStages {
		completed[i] = string(s)
	}
	return &progressResponse{
		CurrentStage:    string(p.CurrentStage),
		CompletedStages: completed,
		RetryAttempt:    p.Retry.RetryAttempt,
		LastRetryError:  p.Retry.LastRetryError,
	}
}

func domainJobToSummary(j *domain.Job) jobSummaryResponse {
	resp := jobSummaryResponse{
		JobID:       j.ID.String(),
		SessionID:   j.SessionID,
		Status:      string(j.Status),
		IsFinal:     j.IsFinal(),
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.StartedAt != nil && j.CompletedAt != nil {
		resp.Duration = j.CompletedAt.Sub(*j.StartedAt).String()
	}
	return resp
}

type chatResponse struct {
	SessionID          string    `json:"session_id"`
	Message            string    `json:"message"`
	ConversationLength int       `json:"conversation_length"`
	Timestamp          time.Time `json:"timestamp"`
}

type chatMessageResponse struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type chatHistoryResponse struct {
	SessionID string                `json:"session_id"`
	Messages  []chatMessageResponse `json:"messages"`
}
