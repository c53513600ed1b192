package internal_entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PrivacyZone is a mute directive scoped to one node, optionally
// auto-expiring. At most one zone per node is active at a time; expiry is
// evaluated lazily at read time, never by a background sweep.
type PrivacyZone struct {
	Id        string     `json:"id" gorm:"type:string;primaryKey"`
	NodeId    string     `json:"node_id" gorm:"type:string;not null;index"`
	Reason    string     `json:"reason" gorm:"type:string"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Active    bool       `json:"active" gorm:"default:true;index"`
}

func (z *PrivacyZone) BeforeCreate(tx *gorm.DB) error {
	if z.Id == "" {
		z.Id = uuid.New().String()
	}
	if z.StartTime.IsZero() {
		z.StartTime = time.Now().UTC()
	}
	return nil
}

// Muting reports whether the zone mutes its node at the given instant.
// A zone past its EndTime no longer mutes even if the row still says
// active; the caller is expected to persist the deactivation it observes.
func (z *PrivacyZone) Muting(now time.Time) bool {
	if !z.Active {
		return false
	}
	return z.EndTime == nil || z.EndTime.After(now)
}
