// Package model holds the shared Job/Segment domain types.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SegmentType selects the rendering capability for a segment. Values are the
// wire names the generation backends dispatch on.
type SegmentType string

const (
	TypeAnimation  SegmentType = "animation"  // prompt-to-video synthesis
	TypeManim      SegmentType = "manim"      // math animation
	TypePysim      SegmentType = "pysim"      // scientific simulation
	TypeTransition SegmentType = "transition" // soundwave bridge between segments
	TypeMesa       SegmentType = "mesa"       // agent-based model
	TypePymunk     SegmentType = "pymunk"     // 2D physics
	TypeSimpy      SegmentType = "simpy"      // discrete-event simulation
	TypePlotly     SegmentType = "plotly"     // 3D plot
	TypeNetworkx   SegmentType = "networkx"   // graph algorithm visualization
	TypeAudio      SegmentType = "audio"      // audio/signal visualization
	TypeStats      SegmentType = "stats"      // statistical chart
	TypeFractal    SegmentType = "fractal"    // fractal / cellular automaton
	TypeGeo        SegmentType = "geo"        // geographic map
	TypeChem       SegmentType = "chem"       // molecular structure
	TypeAstro      SegmentType = "astro"      // astronomy visualization
)

// SegmentTypes lists every valid segment type.
var SegmentTypes = []SegmentType{
	TypeAnimation, TypeManim, TypePysim, TypeTransition, TypeMesa,
	TypePymunk, TypeSimpy, TypePlotly, TypeNetworkx, TypeAudio,
	TypeStats, TypeFractal, TypeGeo, TypeChem, TypeAstro,
}

// Valid reports whether t is a known segment type.
func (t SegmentType) Valid() bool {
	for _, known := range SegmentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ProducesScript reports whether this type's backend emits an inspectable
// generated script before rendering. Video synthesis and transitions do not.
func (t SegmentType) ProducesScript() bool {
	switch t {
	case TypeAnimation, TypeTransition:
		return false
	default:
		return true
	}
}

// SegmentStatus is the lifecycle state of one segment.
type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentProcessing SegmentStatus = "processing"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
)

// JobStatus is the lifecycle state of a job's sequential run.
type JobStatus string

const (
	JobIdle      JobStatus = "idle"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Voiceover configures narration synthesis for one segment.
type Voiceover struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// Segment is one atomic unit of generated content.
type Segment struct {
	ID          string      `json:"id"`
	Order       int         `json:"order"`
	Type        SegmentType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Voiceover   *Voiceover  `json:"voiceover,omitempty"`
	// Metadata is an opaque side-channel passed through to backends, never
	// interpreted here.
	Metadata map[string]any `json:"metadata,omitempty"`

	Status             SegmentStatus `json:"status"`
	VisualArtifactID   string        `json:"visual_artifact_id,omitempty"`
	AudioArtifactID    string        `json:"audio_artifact_id,omitempty"`
	CombinedArtifactID string        `json:"combined_artifact_id,omitempty"`
	DurationSeconds    float64       `json:"duration_seconds,omitempty"`
	Logs               []string      `json:"logs"`
	Error              string        `json:"error,omitempty"`
	GeneratedScript    string        `json:"generated_script,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppendLog appends one timestamped line to the segment's log sequence.
// Logs are append-only; callers never truncate or reorder them.
func (s *Segment) AppendLog(message string) {
	now := time.Now().UTC()
	s.Logs = append(s.Logs, fmt.Sprintf("[%s] %s", now.Format(time.RFC3339), message))
	s.UpdatedAt = now
}

// Clone returns a deep copy safe to hand outside the store.
func (s *Segment) Clone() Segment {
	out := *s
	out.Logs = append([]string(nil), s.Logs...)
	if s.Voiceover != nil {
		vo := *s.Voiceover
		out.Voiceover = &vo
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Job is an ordered collection of segments plus run state.
type Job struct {
	ID                  string    `json:"id"`
	Segments            []Segment `json:"segments"`
	CurrentSegmentIndex int       `json:"current_segment_index"`
	Status              JobStatus `json:"status"`
	Context             string    `json:"context,omitempty"`
	FinalArtifactID     string    `json:"final_artifact_id,omitempty"`
	PosterArtifactID    string    `json:"poster_artifact_id,omitempty"`
	// RetentionDays is stored for a retention collaborator; nothing here
	// enforces it.
	RetentionDays int       `json:"retention_days,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the store.
func (j *Job) Clone() Job {
	out := *j
	out.Segments = make([]Segment, len(j.Segments))
	for i := range j.Segments {
		out.Segments[i] = j.Segments[i].Clone()
	}
	return out
}

// SegmentByID returns a pointer into j.Segments, or nil.
func (j *Job) SegmentByID(segmentID string) *Segment {
	for i := range j.Segments {
		if j.Segments[i].ID == segmentID {
			return &j.Segments[i]
		}
	}
	return nil
}

// NewSegmentID returns a fresh segment identifier.
func NewSegmentID() string { return uuid.NewString() }

// NewJobID returns a fresh job identifier.
func NewJobID() string { return uuid.NewString() }
