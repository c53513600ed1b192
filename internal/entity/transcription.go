package internal_entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Transcription is a single transcribed utterance from the legacy
// streaming path. The dashboard's initial-state burst reads the most
// recent rows.
type Transcription struct {
	Id            string    `json:"id" gorm:"type:string;primaryKey"`
	NodeId        *string   `json:"node_id" gorm:"type:string;index"`
	SpeakerId     *string   `json:"speaker_id" gorm:"type:string"`
	Text          string    `json:"text" gorm:"type:text;not null"`
	Confidence    float64   `json:"confidence" gorm:"default:0"`
	Timestamp     time.Time `json:"timestamp" gorm:"index"`
	AudioDuration float64   `json:"audio_duration" gorm:"default:0"`
}

func (t *Transcription) BeforeCreate(tx *gorm.DB) error {
	if t.Id == "" {
		t.Id = uuid.New().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	return nil
}

// Speaker is an enrolled voice. Enrollment and identification run outside
// the coordination core; segments and transcriptions only reference it.
type Speaker struct {
	Id             string    `json:"id" gorm:"type:string;primaryKey"`
	Name           string    `json:"name" gorm:"type:string;not null"`
	Color          string    `json:"color" gorm:"type:string;default:bg-blue-500"`
	VoiceEmbedding []byte    `json:"-" gorm:"type:blob"`
	EnrolledAt     time.Time `json:"enrolled_at"`
}

func (s *Speaker) BeforeCreate(tx *gorm.DB) error {
	if s.Id == "" {
		s.Id = uuid.New().String()
	}
	return nil
}

// All returns every entity for migration at server start.
func All() []interface{} {
	return []interface{}{
		&Node{},
		&BatchClip{},
		&TranscriptSegment{},
		&PrivacyZone{},
		&Transcription{},
		&Speaker{},
	}
}
