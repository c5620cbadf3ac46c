package dto

// SubmissionResponse resultado del envío de un documento firmado a la autoridad.
type SubmissionResponse struct {
	SubmissionID      string                `json:"submissionId"`
	Signature         string                `json:"signature"`
	AcceptedDocuments []AcceptedDocumentDTO `json:"acceptedDocuments"`
	RejectedDocuments []RejectedDocumentDTO `json:"rejectedDocuments"`
}

type AcceptedDocumentDTO struct {
	UUID       string `json:"uuid"`
	LongID     string `json:"longId"`
	InternalID string `json:"internalId"`
}

type RejectedDocumentDTO struct {
	InternalID string   `json:"internalId"`
	Code       string   `json:"code,omitempty"`
	Message    string   `json:"message,omitempty"`
	Details    []string `json:"details,omitempty"`
}

// HealthResponse cuerpo de GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
