package sqlite

import (
	"testing"
	"time"

	"recorder/internal/model"
)

func TestEventRepository_InsertAndRecent(t *testing.T) {
	repo := NewEventRepository(newTestDB(t))
	base := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

	events := []model.PresenceEvent{
		{Camera: "cam1", Seq: 5, At: base, PresentSince: base.Add(-time.Second), Outcome: "buffer not full"},
		{Camera: "cam1", Seq: 120, At: base.Add(time.Minute), PresentSince: base.Add(50 * time.Second), Outcome: model.OutcomeExported, Filename: "clip_no_person_20250615_143100_0.mp4"},
		{Camera: "cam2", Seq: 40, At: base.Add(2 * time.Minute), PresentSince: base.Add(time.Minute), Outcome: model.OutcomeExported, Filename: "clip_no_person_20250615_143200_1.mp4"},
	}
	for i := range events {
		id, err := repo.Insert(&events[i])
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if id <= 0 {
			t.Errorf("Expected positive ID, got %d", id)
		}
	}

	recent, err := repo.GetRecent("", 0)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(recent) != 3 || recent[0].Camera != "cam2" {
		t.Fatalf("unexpected events %+v", recent)
	}

	cam1, err := repo.GetRecent("cam1", 1)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(cam1) != 1 || cam1[0].Seq != 120 || cam1[0].Filename == "" {
		t.Errorf("unexpected cam1 events %+v", cam1)
	}
	if !cam1[0].PresentSince.Equal(base.Add(50 * time.Second)) {
		t.Errorf("PresentSince = %v", cam1[0].PresentSince)
	}

	counts, err := repo.CountByOutcome()
	if err != nil {
		t.Fatalf("CountByOutcome failed: %v", err)
	}
	if counts[model.OutcomeExported] != 2 || counts["buffer not full"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
