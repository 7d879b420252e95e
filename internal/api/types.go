package api

import "github.com/satriahrh/speechgate/domain/entities"

// ErrorResponse is the error body shared by every proxy endpoint
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Proxy    string `json:"proxy,omitempty"`
	Sessions int    `json:"sessions"`
	Clients  int    `json:"clients"`
}

// GroqTranscribeRequest is the JSON form of a Groq transcription request
type GroqTranscribeRequest struct {
	APIKey   string `json:"apiKey"`
	Content  string `json:"content" validate:"required,base64"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	Model    string `json:"model"`
	Language string `json:"language"`
	Prompt   string `json:"prompt"`
}

// AzureTranscribeRequest is the JSON form of an Azure short-audio request
type AzureTranscribeRequest struct {
	APIKey      string `json:"apiKey"`
	Region      string `json:"region"`
	Language    string `json:"language"`
	Format      string `json:"format" validate:"omitempty,oneof=simple detailed"`
	ContentType string `json:"contentType"`
	Content     string `json:"content" validate:"required,base64"`
}

// TranscriptListResponse wraps archived transcripts
type TranscriptListResponse struct {
	Transcripts []entities.TranscriptRecord `json:"transcripts"`
	Count       int                         `json:"count"`
}
