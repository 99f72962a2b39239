package domain

import "time"

type SampleStatus string

const (
	SampleStatusCollected SampleStatus = "collected"
	SampleStatusInTesting SampleStatus = "in_testing"
	SampleStatusCompleted SampleStatus = "completed"
	SampleStatusRejected  SampleStatus = "rejected"
)

// Sample is a water sample taken at a collection site. It is captured
// offline on desktop or mobile and reconciled with the server through sync.
type Sample struct {
	SyncMeta

	LabID        string       `json:"lab_id"`
	SampleCode   string       `json:"sample_code"`
	SiteName     string       `json:"site_name"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	SourceType   string       `json:"source_type"`
	CollectedAt  time.Time    `json:"collected_at"`
	CollectedBy  string       `json:"collected_by"`
	Status       SampleStatus `json:"status"`
	TemperatureC float64      `json:"temperature_c"`
	Notes        string       `json:"notes,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (s *Sample) RecordType() EntityType { return EntityTypeSample }
