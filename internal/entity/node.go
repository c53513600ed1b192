package internal_entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Node status values. Status is presentation state only: the source of
// truth for online/offline is always derived from LastSeen against the
// liveness threshold.
const (
	NodeStatusOnline  = "online"
	NodeStatusOffline = "offline"
	NodeStatusWarning = "warning"
)

// LivenessThreshold classifies a node online when now-LastSeen is below it.
const LivenessThreshold = 120 * time.Second

// Node is a microphone endpoint (e.g. a Raspberry Pi in a room).
type Node struct {
	Id             string    `json:"id" gorm:"type:string;primaryKey"`
	Name           string    `json:"name" gorm:"type:string;not null"`
	Location       string    `json:"location" gorm:"type:string;not null"`
	IpAddress      string    `json:"ip_address" gorm:"type:string"`
	Status         string    `json:"status" gorm:"type:string;default:offline"`
	AudioFiltering bool      `json:"audio_filtering" gorm:"default:true"`
	Latency        float64   `json:"latency" gorm:"default:0"`
	LastSeen       time.Time `json:"last_seen"`
	CreatedAt      time.Time `json:"created_at"`
}

func (n *Node) BeforeCreate(tx *gorm.DB) error {
	if n.Id == "" {
		n.Id = uuid.New().String()
	}
	return nil
}

// Online reports whether the node is live at the given instant.
func (n *Node) Online(now time.Time) bool {
	return now.Sub(n.LastSeen) < LivenessThreshold
}
