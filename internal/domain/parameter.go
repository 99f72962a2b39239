package domain

import "time"

// Parameter is a measurable water-quality parameter (pH, turbidity,
// dissolved oxygen, ...) with its acceptable range.
type Parameter struct {
	SyncMeta

	LabID     string    `json:"lab_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	MinLimit  float64   `json:"min_limit"`
	MaxLimit  float64   `json:"max_limit"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *Parameter) RecordType() EntityType { return EntityTypeParameter }
