package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"aquasync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *domain.Device) error
	List(ctx context.Context, userID string) ([]*domain.Device, error)
	FindByID(ctx context.Context, deviceID string) (*domain.Device, error)
	Revoke(ctx context.Context, deviceID string) error
	UpdateLastActive(ctx context.Context, deviceID string, at time.Time) error
}

type deviceRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &deviceRepository{
		client: client,
		dbName: dbName,
	}
}

func deviceDocID(id string) string {
	return fmt.Sprintf("device:%s", id)
}

func (r *deviceRepository) Create(ctx context.Context, device *domain.Device) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, deviceDocID(device.ID), device)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

func (r *deviceRepository) List(ctx context.Context, userID string) ([]*domain.Device, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"user_id": userID,
			"type":    map[string]interface{}{"$in": []string{"desktop", "mobile"}},
			"os":      map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var device domain.Device
		if err := rows.ScanDoc(&device); err != nil {
			continue // skip malformed docs
		}
		devices = append(devices, &device)
	}

	return devices, nil
}

func (r *deviceRepository) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, deviceDocID(deviceID))

	var device domain.Device
	if err := row.ScanDoc(&device); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}

	return &device, nil
}

func (r *deviceRepository) Revoke(ctx context.Context, deviceID string) error {
	return r.patch(ctx, deviceID, func(doc map[string]interface{}) {
		doc["is_revoked"] = true
	})
}

func (r *deviceRepository) UpdateLastActive(ctx context.Context, deviceID string, at time.Time) error {
	return r.patch(ctx, deviceID, func(doc map[string]interface{}) {
		doc["last_active"] = at
	})
}

func (r *deviceRepository) patch(ctx context.Context, deviceID string, apply func(map[string]interface{})) error {
	db := r.client.DB(r.dbName)
	docID := deviceDocID(deviceID)

	var existing map[string]interface{}
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.ErrDeviceNotFound
		}
		return fmt.Errorf("failed to fetch device for update: %w", err)
	}

	apply(existing)

	if _, err := db.Put(ctx, docID, existing); err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}

	return nil
}
