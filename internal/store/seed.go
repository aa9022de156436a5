package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"qms/dispatch-service/internal/models"
)

// Seeder writes the directory records the dispatch engine reads.
type Seeder interface {
	SaveDepartment(ctx context.Context, department models.Department) error
	SaveQueue(ctx context.Context, queue models.Queue) error
	SaveCitizen(ctx context.Context, citizen models.Citizen) error
}

type Seed struct {
	Departments []models.Department `json:"departments"`
	Queues      []models.Queue      `json:"queues"`
	Citizens    []models.Citizen    `json:"citizens"`
}

func ReadSeed(path string) (Seed, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	var seed Seed
	if err := json.Unmarshal(content, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}

// Apply writes departments before queues so foreign keys resolve.
func (s Seed) Apply(ctx context.Context, seeder Seeder) error {
	for _, department := range s.Departments {
		if err := seeder.SaveDepartment(ctx, department); err != nil {
			return fmt.Errorf("seed department %s: %w", department.DepartmentID, err)
		}
	}
	for _, queue := range s.Queues {
		if queue.Status == "" {
			queue.Status = models.QueueActive
		}
		if err := seeder.SaveQueue(ctx, queue); err != nil {
			return fmt.Errorf("seed queue %s: %w", queue.QueueID, err)
		}
	}
	for _, citizen := range s.Citizens {
		if err := seeder.SaveCitizen(ctx, citizen); err != nil {
			return fmt.Errorf("seed citizen %s: %w", citizen.CitizenID, err)
		}
	}
	return nil
}
