package memory

import (
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) (*SQLiteMemoryDB, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := NewSQLiteMemoryDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test DB: %v", err)
	}

	return db, func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestCreateEntitiesDuplicate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	inputs := []EntityInput{
		{Name: "A", EntityType: "t", Observations: []string{"x"}},
		{Name: "A", EntityType: "t", Observations: []string{"y"}},
	}

	result, err := db.CreateEntities(inputs)
	if err != nil {
		t.Fatalf("CreateEntities failed: %v", err)
	}

	if len(result.Created) != 1 {
		t.Fatalf("expected 1 created entity, got %d", len(result.Created))
	}
	if result.Created[0].Tier != TierWorking {
		t.Errorf("expected tier working, got %s", result.Created[0].Tier)
	}
	if result.Created[0].Importance != 0.5 {
		t.Errorf("expected importance 0.5, got %f", result.Created[0].Importance)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(result.Errors))
	}
}

func TestImportanceBump(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	inputs := []EntityInput{
		{
			Name:         "Bug1",
			EntityType:   "issue",
			Observations: []string{"critical failure", "retry", "replay", "stack", "repro"},
		},
	}

	result, err := db.CreateEntities(inputs)
	if err != nil {
		t.Fatalf("CreateEntities failed: %v", err)
	}
	if len(result.Created) != 1 {
		t.Fatalf("expected 1 created entity, got %d", len(result.Created))
	}

	outcome := result.Created[0]
	if outcome.Importance != 0.8 {
		t.Errorf("expected importance 0.8, got %f", outcome.Importance)
	}
	if outcome.Tier != TierSemantic {
		t.Errorf("expected tier semantic, got %s", outcome.Tier)
	}
}

func TestWorkingToEpisodicPromotion(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	item, err := db.AddWorking("ctx", "remember this", 5, 60, nil)
	if err != nil {
		t.Fatalf("AddWorking failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := db.GetWorking("ctx", 10); err != nil {
			t.Fatalf("GetWorking failed: %v", err)
		}
	}

	result, err := db.Curate()
	if err != nil {
		t.Fatalf("Curate failed: %v", err)
	}
	if result.WorkingToEpisodic < 1 {
		t.Fatalf("expected at least 1 working->episodic promotion, got %d", result.WorkingToEpisodic)
	}

	episodes, err := db.GetEpisodes(EpisodicFilter{EventType: "promoted_from_working"})
	if err != nil {
		t.Fatalf("GetEpisodes failed: %v", err)
	}
	if len(episodes) == 0 {
		t.Fatal("expected a promoted episode")
	}

	want := 0.3 + 0.1*5
	if want > 0.7 {
		want = 0.7
	}
	if episodes[0].Significance != want {
		t.Errorf("expected significance %f, got %f", want, episodes[0].Significance)
	}
	_ = item
}

func TestRangeValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := db.AddWorking("ctx", "x", 0, 60, nil); err == nil {
		t.Error("expected priority 0 to be rejected")
	}
	if _, err := db.AddEpisode("evt", "{}", 1.5, nil, nil, nil); err == nil {
		t.Error("expected significance 1.5 to be rejected")
	}
	valence := -2.0
	if _, err := db.AddEpisode("evt", "{}", 0.5, &valence, nil, nil); err == nil {
		t.Error("expected emotional_valence -2 to be rejected")
	}
	if _, err := db.AddConcept("c", "t", "d", nil, 2); err == nil {
		t.Error("expected confidence 2 to be rejected")
	}
}

func TestDiffRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := db.CreateEntities([]EntityInput{{Name: "E", EntityType: "t", Observations: []string{"o1", "o2"}}})
	if err != nil {
		t.Fatalf("CreateEntities failed: %v", err)
	}

	diff, err := db.Diff("E", 1, 1)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(diff.AddedObservations) != 0 || len(diff.RemovedObservations) != 0 {
		t.Errorf("expected empty diff for v1 vs v1, got added=%v removed=%v", diff.AddedObservations, diff.RemovedObservations)
	}
}

func TestSearchIncrementsAccessCount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := db.CreateEntities([]EntityInput{{Name: "Findme", EntityType: "t", Observations: []string{"hello world"}}}); err != nil {
		t.Fatalf("CreateEntities failed: %v", err)
	}

	results, err := db.Search(SearchFilter{Query: "findme", Limit: 10})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].AccessCount != 1 {
		t.Errorf("expected access_count 1, got %d", results[0].AccessCount)
	}
}
