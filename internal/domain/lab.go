package domain

import (
	"errors"
	"time"
)

var ErrLabNotFound = errors.New("lab not found")

// Lab is the tenant scope. Conflict queues and records are partitioned by
// lab. Labs are server-managed and do not travel through push/pull.
type Lab struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	AccreditationNo string    `json:"accreditation_no,omitempty"`
	Address         string    `json:"address,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type CreateLabRequest struct {
	Name            string `json:"name" validate:"required,min=2,max=120"`
	AccreditationNo string `json:"accreditation_no"`
	Address         string `json:"address"`
}
