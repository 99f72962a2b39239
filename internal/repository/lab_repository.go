package repository

import (
	"context"
	"fmt"
	"net/http"

	"aquasync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type LabRepository interface {
	Create(ctx context.Context, lab *domain.Lab) error
	FindByID(ctx context.Context, id string) (*domain.Lab, error)
	List(ctx context.Context) ([]*domain.Lab, error)
}

type labRepository struct {
	client *kivik.Client
	dbName string
}

func NewLabRepository(client *kivik.Client, dbName string) LabRepository {
	return &labRepository{
		client: client,
		dbName: dbName,
	}
}

func labDocID(id string) string {
	return fmt.Sprintf("lab:%s", id)
}

func (r *labRepository) Create(ctx context.Context, lab *domain.Lab) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, labDocID(lab.ID), lab)
	if err != nil {
		return fmt.Errorf("failed to create lab: %w", err)
	}

	return nil
}

func (r *labRepository) FindByID(ctx context.Context, id string) (*domain.Lab, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, labDocID(id))

	var lab domain.Lab
	if err := row.ScanDoc(&lab); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrLabNotFound
		}
		return nil, fmt.Errorf("failed to find lab: %w", err)
	}

	return &lab, nil
}

func (r *labRepository) List(ctx context.Context) ([]*domain.Lab, error) {
	db := r.client.DB(r.dbName)

	// Labs share the "lab:" doc-id prefix; range over it instead of relying
	// on field shape.
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"_id": map[string]interface{}{"$gt": "lab:", "$lt": "lab:\ufff0"},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}
	defer rows.Close()

	var labs []*domain.Lab
	for rows.Next() {
		var lab domain.Lab
		if err := rows.ScanDoc(&lab); err != nil {
			continue
		}
		labs = append(labs, &lab)
	}

	return labs, nil
}
