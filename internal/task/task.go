// Package task provides the Task entity for subtitle removal jobs, its state
// machine, the in-memory task store and the lifecycle service that runs
// detection and inpainting for each task.
package task

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/maauso/subclean-api/internal/region"
	"github.com/maauso/subclean-api/internal/task/id"
)

// Status represents the current state of a Task.
type Status string

const (
	// StatusPending indicates the task was submitted and awaits processing.
	StatusPending Status = "PENDING"
	// StatusDetecting indicates subtitle regions are being detected.
	StatusDetecting Status = "DETECTING"
	// StatusProcessing indicates the inpainting worker is running.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted indicates the output video was produced.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates processing failed or was cancelled.
	StatusFailed Status = "FAILED"
)

// ParseStatus converts a caller supplied status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Algorithm selects the inpainting strategy used by the worker.
type Algorithm string

const (
	// AlgorithmSTTN is the spatial-temporal transformer, fast and tuned for subtitles.
	AlgorithmSTTN Algorithm = "sttn"
	// AlgorithmLAMA is the per-frame large mask inpainter.
	AlgorithmLAMA Algorithm = "lama"
	// AlgorithmProPainter is flow-guided propagation, slowest and best on motion.
	AlgorithmProPainter Algorithm = "propainter"
)

// DefaultAlgorithm is used when none is requested.
const DefaultAlgorithm = AlgorithmSTTN

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{AlgorithmSTTN, AlgorithmLAMA, AlgorithmProPainter}

// ParseAlgorithm converts a caller supplied algorithm name. Empty selects the default.
func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return DefaultAlgorithm, nil
	}
	a := Algorithm(s)
	if !slices.Contains(Algorithms, a) {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
	return a, nil
}

// CancelledMessage is recorded on tasks cancelled by the user.
const CancelledMessage = "task cancelled by user"

var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("task: invalid state transition")
	// ErrUnknownStatus is returned for unrecognized status names.
	ErrUnknownStatus = errors.New("task: unknown status")
	// ErrUnknownAlgorithm is returned for unrecognized algorithm names.
	ErrUnknownAlgorithm = errors.New("task: unknown algorithm")
)

// validTransitions defines which state transitions are allowed.
// PROCESSING to PROCESSING is accepted as a no-op.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusDetecting, StatusProcessing},
	StatusDetecting:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Task is one subtitle removal job.
type Task struct {
	// ID is the unique identifier for this task.
	ID string
	// Status is the current task state.
	Status Status
	// Progress is the percentage of completion (0-100).
	Progress float64
	// Algorithm selects the inpainting strategy.
	Algorithm Algorithm
	// OriginalFilename is the name the video was uploaded with.
	OriginalFilename string
	// FilePath is the location of the uploaded video.
	FilePath string
	// FileSize is the uploaded size in bytes.
	FileSize int64
	// Duration is the video length in seconds, zero when unknown.
	Duration float64
	// OutputPath is the location of the processed video.
	OutputPath string
	// OutputURL is the S3 URL of the processed video when pushed.
	OutputURL string
	// PushToS3 requests an upload of the output once completed.
	PushToS3 bool
	// AutoDetect requests subtitle detection before inpainting.
	AutoDetect bool
	// SubtitleRegions are static regions in flat [x1,y1,x2,y2] form.
	SubtitleRegions [][]float64
	// TimedRegions are time-bounded regions produced by detection.
	TimedRegions []region.TimedRegion
	// Analysis is the most recent detection result.
	Analysis *region.Analysis
	// ConfigOverride holds per-task algorithm settings.
	ConfigOverride map[string]any
	// ErrorMessage describes why the task failed.
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

// New creates a PENDING task with a generated ID.
func New() *Task {
	return NewWithID(id.Generate())
}

// NewWithID creates a PENDING task with the given ID.
func NewWithID(taskID string) *Task {
	now := time.Now()
	return &Task{
		ID:        taskID,
		Status:    StatusPending,
		Algorithm: DefaultAlgorithm,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo changes the status. StartedAt is stamped only on the first
// entry to PROCESSING and CompletedAt only on the first terminal entry.
// Returns ErrInvalidTransition and leaves the task unchanged otherwise.
func (t *Task) TransitionTo(status Status) error {
	if !canTransition(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, status)
	}

	now := time.Now()
	t.Status = status
	t.UpdatedAt = now

	switch status {
	case StatusProcessing:
		if t.StartedAt.IsZero() {
			t.StartedAt = now
		}
	case StatusCompleted, StatusFailed:
		if t.CompletedAt.IsZero() {
			t.CompletedAt = now
		}
	}
	return nil
}

// Complete transitions the task to COMPLETED with the given output.
func (t *Task) Complete(outputPath, outputURL string) error {
	if err := t.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	t.Progress = 100
	t.OutputPath = outputPath
	t.OutputURL = outputURL
	return nil
}

// Fail transitions the task to FAILED with an error message.
func (t *Task) Fail(msg string) error {
	if err := t.TransitionTo(StatusFailed); err != nil {
		return err
	}
	t.ErrorMessage = msg
	return nil
}

// UpdateProgress sets the progress percentage, clamped to [0,100].
func (t *Task) UpdateProgress(p float64) {
	t.Progress = min(max(p, 0), 100)
	t.UpdatedAt = time.Now()
}

// IsTerminal returns true if the task is COMPLETED or FAILED.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// IsBusy returns true while detection or processing is underway.
func (t *Task) IsBusy() bool {
	return t.Status == StatusDetecting || t.Status == StatusProcessing
}

// Clone creates a deep copy of the task for safe reads.
func (t *Task) Clone() *Task {
	c := *t
	if t.SubtitleRegions != nil {
		c.SubtitleRegions = make([][]float64, len(t.SubtitleRegions))
		for i, r := range t.SubtitleRegions {
			c.SubtitleRegions[i] = slices.Clone(r)
		}
	}
	c.TimedRegions = slices.Clone(t.TimedRegions)
	if t.Analysis != nil {
		a := *t.Analysis
		a.Regions = slices.Clone(t.Analysis.Regions)
		c.Analysis = &a
	}
	c.ConfigOverride = maps.Clone(t.ConfigOverride)
	return &c
}
