package internal_entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BatchClip processing states. The lifecycle is monotonic:
// pending → processing → transcribed|failed. Terminal states never
// transition again.
const (
	ClipStatusPending     = "pending"
	ClipStatusProcessing  = "processing"
	ClipStatusTranscribed = "transcribed"
	ClipStatusFailed      = "failed"
)

// BatchClip is one fixed-duration audio clip uploaded by a node for
// asynchronous transcription. The (NodeId, Filename, RecordedAt) unique
// index is the upload idempotency key: a node retrying after a crash
// between server ack and local marker write resolves to the same row.
type BatchClip struct {
	Id     string `json:"id" gorm:"type:string;primaryKey"`
	NodeId string `json:"node_id" gorm:"type:string;not null;uniqueIndex:idx_clip_upload_key"`

	// File info
	Filename        string  `json:"filename" gorm:"type:string;not null;uniqueIndex:idx_clip_upload_key"`
	FilePath        string  `json:"file_path" gorm:"type:string;not null"`
	FileSize        int64   `json:"file_size" gorm:"default:0"`
	DurationSeconds float64 `json:"duration_seconds" gorm:"default:0"`

	// Timestamps
	RecordedAt  time.Time  `json:"recorded_at" gorm:"not null;uniqueIndex:idx_clip_upload_key"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	ProcessedAt *time.Time `json:"processed_at"`

	Status               string `json:"status" gorm:"type:string;default:pending"`
	ErrorMessage         string `json:"error_message" gorm:"type:text"`
	ProcessingDurationMs int64  `json:"processing_duration_ms"`

	// Transcription result
	TranscriptText string `json:"transcript_text" gorm:"type:text"`
	WordCount      int    `json:"word_count" gorm:"default:0"`

	// User-customizable metadata
	DisplayName string `json:"display_name" gorm:"type:string"`
	Notes       string `json:"notes" gorm:"type:text"`

	Segments []*TranscriptSegment `json:"segments" gorm:"foreignKey:ClipId;constraint:OnDelete:CASCADE"`
}

func (c *BatchClip) BeforeCreate(tx *gorm.DB) error {
	if c.Id == "" {
		c.Id = uuid.New().String()
	}
	if c.UploadedAt.IsZero() {
		c.UploadedAt = time.Now().UTC()
	}
	return nil
}

// TranscriptSegment is a phrase-level timestamped span within a clip.
// Segments of a clip are non-overlapping and ascending in StartTime.
type TranscriptSegment struct {
	Id     string `json:"id" gorm:"type:string;primaryKey"`
	ClipId string `json:"clip_id" gorm:"type:string;not null;index"`

	// Timing within the clip, seconds from clip start.
	StartTime float64 `json:"start_time" gorm:"not null"`
	EndTime   float64 `json:"end_time" gorm:"not null"`

	Text       string  `json:"text" gorm:"type:text;not null"`
	Confidence float64 `json:"confidence" gorm:"default:0"`

	// Optional speaker attribution, filled when an embedder is wired.
	SpeakerId *string `json:"speaker_id" gorm:"type:string"`
}

func (s *TranscriptSegment) BeforeCreate(tx *gorm.DB) error {
	if s.Id == "" {
		s.Id = uuid.New().String()
	}
	return nil
}
