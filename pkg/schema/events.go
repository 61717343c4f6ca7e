// Package schema defines the wire-level event payloads published on the bus.
package schema

// Subjects for lifecycle events. The final-ready event is what the
// social-scheduling consumer listens for.
const (
	SubjectJobLifecycle     = "reelpipe.jobs.lifecycle"
	SubjectSegmentLifecycle = "reelpipe.segments.lifecycle"
	SubjectFinalReady       = "reelpipe.jobs.final.ready"
)

// JobLifecycleEvent reports a job status transition.
type JobLifecycleEvent struct {
	JobID               string `json:"job_id"`
	Status              string `json:"status"`
	CurrentSegmentIndex int    `json:"current_segment_index"`
	SegmentCount        int    `json:"segment_count"`
	Error               string `json:"error,omitempty"`
	HappenedAt          int64  `json:"happened_at"`
}

// SegmentLifecycleEvent reports one segment reaching a terminal status.
type SegmentLifecycleEvent struct {
	JobID              string  `json:"job_id"`
	SegmentID          string  `json:"segment_id"`
	Order              int     `json:"order"`
	Type               string  `json:"type"`
	Status             string  `json:"status"`
	DurationSeconds    float64 `json:"duration_seconds,omitempty"`
	CombinedArtifactID string  `json:"combined_artifact_id,omitempty"`
	Error              string  `json:"error,omitempty"`
	ProcessingTimeMs   int64   `json:"processing_time_ms"`
	HappenedAt         int64   `json:"happened_at"`
}

// FinalReadyEvent announces an assembled final artifact.
type FinalReadyEvent struct {
	JobID            string  `json:"job_id"`
	FinalArtifactID  string  `json:"final_artifact_id"`
	PosterArtifactID string  `json:"poster_artifact_id,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds,omitempty"`
	SegmentCount     int     `json:"segment_count"`
	HappenedAt       int64   `json:"happened_at"`
}
