package domain

import "time"

// TestResult is a single measured value for one parameter of one sample.
type TestResult struct {
	SyncMeta

	LabID       string    `json:"lab_id"`
	SampleID    string    `json:"sample_id"`
	ParameterID string    `json:"parameter_id"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	Method      string    `json:"method,omitempty"`
	TestedAt    time.Time `json:"tested_at"`
	AnalystID   string    `json:"analyst_id"`
	WithinLimit bool      `json:"within_limit"`
	Remarks     string    `json:"remarks,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (t *TestResult) RecordType() EntityType { return EntityTypeTestResult }
