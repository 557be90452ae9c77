// Package server provides the HTTP server for the subtitle removal API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/maauso/subclean-api/internal/region"
	"github.com/maauso/subclean-api/internal/task"
)

// UploadResponse is the HTTP response after uploading a video.
type UploadResponse struct {
	// TaskID is the identifier of the created task.
	TaskID string `json:"task_id"`
	// Status is the initial task status.
	Status string `json:"status"`
	// Filename is the name the video was uploaded with.
	Filename string `json:"filename"`
	// FileSize is the stored size in bytes.
	FileSize int64 `json:"file_size"`
	// Duration is the video length in seconds, omitted when unknown.
	Duration float64 `json:"duration,omitempty"`
	// Algorithm is the inpainting algorithm selected for the task.
	Algorithm string `json:"algorithm"`
}

// ProcessRequest is the HTTP request body for starting processing.
type ProcessRequest struct {
	// AutoDetect runs subtitle detection before inpainting.
	AutoDetect bool `json:"auto_detect"`
	// SubtitleRegions are static [x1,y1,x2,y2] regions. Malformed entries
	// are skipped one by one when the task is processed.
	SubtitleRegions FlatRegions `json:"subtitle_regions" validate:"omitempty,max=32"`
	// Algorithm overrides the algorithm chosen at upload.
	Algorithm string `json:"algorithm" validate:"omitempty,oneof=sttn lama propainter"`
	// Config holds per-task algorithm settings.
	Config map[string]any `json:"config"`
	// PushToS3 indicates whether to upload the final video to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// FlatRegions is a list of [x1,y1,x2,y2] entries. Decoding is lenient per
// entry: anything that is not an array of numbers becomes an empty entry,
// which region normalization rejects without affecting its neighbours.
type FlatRegions [][]float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlatRegions) UnmarshalJSON(data []byte) error {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if entries == nil {
		*f = nil
		return nil
	}
	out := make(FlatRegions, 0, len(entries))
	for _, e := range entries {
		out = append(out, decodeFlatEntry(e))
	}
	*f = out
	return nil
}

func decodeFlatEntry(raw json.RawMessage) []float64 {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []float64{}
	}
	vals := make([]float64, 0, len(items))
	for _, it := range items {
		var v float64
		if bytes.Equal(bytes.TrimSpace(it), []byte("null")) || json.Unmarshal(it, &v) != nil {
			return []float64{}
		}
		vals = append(vals, v)
	}
	return vals
}

// ListQuery holds the query parameters of GET /tasks.
type ListQuery struct {
	Status   string `validate:"omitempty,oneof=PENDING DETECTING PROCESSING COMPLETED FAILED"`
	OrderBy  string `validate:"omitempty,oneof=created_at progress status"`
	Desc     bool
	Page     int `validate:"omitempty,min=1"`
	PageSize int `validate:"omitempty,min=1,max=100"`
}

// TaskResponse is the HTTP representation of a task.
type TaskResponse struct {
	ID               string      `json:"id"`
	Status           string      `json:"status"`
	Progress         float64     `json:"progress"`
	Algorithm        string      `json:"algorithm"`
	OriginalFilename string      `json:"original_filename"`
	FileSize         int64       `json:"file_size"`
	Duration         float64     `json:"duration,omitempty"`
	AutoDetect       bool        `json:"auto_detect"`
	SubtitleRegions  [][]float64 `json:"subtitle_regions,omitempty"`
	TimedRegions     int         `json:"timed_regions"`
	OutputURL        string      `json:"output_url,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// TaskListResponse is one page of tasks.
type TaskListResponse struct {
	Tasks    []TaskResponse `json:"tasks"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// StatsResponse counts tasks by status and algorithm.
type StatsResponse struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	ByAlgorithm map[string]int `json:"by_algorithm"`
}

// CleanupResponse reports how many expired tasks were removed.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

// AnalysisResponse is a detection result for a task.
type AnalysisResponse struct {
	TaskID       string               `json:"task_id"`
	HasSubtitles bool                 `json:"has_subtitles"`
	SubtitleType string               `json:"subtitle_type"`
	Regions      []region.TimedRegion `json:"regions"`
	// SubtitleRegions is the flat form accepted by the process endpoint.
	SubtitleRegions [][]float64 `json:"subtitle_regions"`
	TotalFrames     int         `json:"total_frames"`
	FPS             float64     `json:"fps"`
}

// FormatsResponse lists what uploads and processing accept.
type FormatsResponse struct {
	VideoFormats  []string `json:"video_formats"`
	MaxFileSize   int64    `json:"max_file_size"`
	MaxFileSizeMB int64    `json:"max_file_size_mb"`
	Algorithms    []string `json:"algorithms"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func newTaskResponse(t *task.Task) TaskResponse {
	resp := TaskResponse{
		ID:               t.ID,
		Status:           string(t.Status),
		Progress:         t.Progress,
		Algorithm:        string(t.Algorithm),
		OriginalFilename: t.OriginalFilename,
		FileSize:         t.FileSize,
		Duration:         t.Duration,
		AutoDetect:       t.AutoDetect,
		SubtitleRegions:  t.SubtitleRegions,
		TimedRegions:     len(t.TimedRegions),
		OutputURL:        t.OutputURL,
		ErrorMessage:     t.ErrorMessage,
		CreatedAt:        t.CreatedAt,
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		resp.StartedAt = &started
	}
	if !t.CompletedAt.IsZero() {
		completed := t.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

func newAnalysisResponse(taskID string, a *region.Analysis) AnalysisResponse {
	regions := a.Regions
	if regions == nil {
		regions = []region.TimedRegion{}
	}
	return AnalysisResponse{
		TaskID:          taskID,
		HasSubtitles:    a.HasSubtitles,
		SubtitleType:    a.SubtitleType,
		Regions:         regions,
		SubtitleRegions: region.ToFlat(regions),
		TotalFrames:     a.TotalFrames,
		FPS:             a.FPS,
	}
}
