package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"qms/dispatch-service/internal/models"
)

type recordingSeeder struct {
	order   []string
	queues  []models.Queue
	failing string
}

func (s *recordingSeeder) SaveDepartment(ctx context.Context, department models.Department) error {
	s.order = append(s.order, "department:"+department.DepartmentID)
	return nil
}

func (s *recordingSeeder) SaveQueue(ctx context.Context, queue models.Queue) error {
	if queue.QueueID == s.failing {
		return errors.New("constraint violation")
	}
	s.order = append(s.order, "queue:"+queue.QueueID)
	s.queues = append(s.queues, queue)
	return nil
}

func (s *recordingSeeder) SaveCitizen(ctx context.Context, citizen models.Citizen) error {
	s.order = append(s.order, "citizen:"+citizen.CitizenID)
	return nil
}

func TestReadSeedAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	content := `{
		"departments": [{"department_id": "d1", "name": "Civil Registry", "code": "CR"}],
		"queues": [
			{"queue_id": "q1", "department_id": "d1", "name": "Passports", "code": "P", "max_queue_size": 50},
			{"queue_id": "q2", "department_id": "d1", "name": "Archive", "code": "A", "max_queue_size": 5, "status": "suspended"}
		],
		"citizens": [{"citizen_id": "c1", "name": "Ada"}]
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seed, err := ReadSeed(path)
	if err != nil {
		t.Fatalf("read seed: %v", err)
	}
	seeder := &recordingSeeder{}
	if err := seed.Apply(context.Background(), seeder); err != nil {
		t.Fatalf("apply: %v", err)
	}

	want := []string{"department:d1", "queue:q1", "queue:q2", "citizen:c1"}
	if len(seeder.order) != len(want) {
		t.Fatalf("unexpected order %v", seeder.order)
	}
	for i := range want {
		if seeder.order[i] != want[i] {
			t.Fatalf("unexpected order %v", seeder.order)
		}
	}
	if seeder.queues[0].Status != models.QueueActive {
		t.Fatalf("expected missing status to default to active, got %q", seeder.queues[0].Status)
	}
	if seeder.queues[1].Status != models.QueueSuspended {
		t.Fatalf("explicit status must be kept, got %q", seeder.queues[1].Status)
	}
}

func TestSeedApplyStopsAtFirstError(t *testing.T) {
	seed := Seed{
		Queues:   []models.Queue{{QueueID: "q1"}, {QueueID: "q2"}},
		Citizens: []models.Citizen{{CitizenID: "c1"}},
	}
	seeder := &recordingSeeder{failing: "q1"}
	if err := seed.Apply(context.Background(), seeder); err == nil {
		t.Fatalf("expected error")
	}
	if len(seeder.order) != 0 {
		t.Fatalf("nothing after the failing queue should be written, got %v", seeder.order)
	}
}

func TestReadSeedRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := ReadSeed(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
