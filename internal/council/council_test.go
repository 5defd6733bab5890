package council

import (
	"reflect"
	"testing"
)

func TestParseRankingFromTextPrefersFinalRankingBlock(t *testing.T) {
	text := "Some discussion about the responses.\n\nFINAL RANKING:\n1. Response B\n2. Response A\n3. Response C\n"
	got := parseRankingFromText(text)
	want := []string{"Response B", "Response A", "Response C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseRankingFromTextFallsBackToFirstMention(t *testing.T) {
	text := "I think Response C is strong, but Response A edges it out. Response C had some gaps."
	got := parseRankingFromText(text)
	want := []string{"Response C", "Response A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseRankingFromTextNoMentionsReturnsEmpty(t *testing.T) {
	got := parseRankingFromText("no ranking information here")
	if len(got) != 0 {
		t.Fatalf("expected empty ranking, got %v", got)
	}
}

func TestCalculateAggregateRankings(t *testing.T) {
	labelToModel := map[string]string{"Response A": "claude", "Response B": "codex", "Response C": "gemini"}
	rankings := []Ranking{
		{Evaluator: "claude", ParsedRanking: []string{"Response B", "Response A", "Response C"}},
		{Evaluator: "codex", ParsedRanking: []string{"Response A", "Response B", "Response C"}},
	}

	got := calculateAggregateRankings(rankings, labelToModel)
	if len(got) != 3 {
		t.Fatalf("expected 3 aggregate entries, got %d", len(got))
	}

	// B: positions [1,2] -> avg 1.5; A: positions [2,1] -> avg 1.5; C: [3,3] -> avg 3.
	// Tie between A and B broken by first appearance across evaluators: the
	// first evaluator ranked B first.
	if got[0].Label != "Response B" || got[0].AverageRank != 1.5 {
		t.Errorf("expected Response B first with avg 1.5, got %+v", got[0])
	}
	if got[1].Label != "Response A" || got[1].AverageRank != 1.5 {
		t.Errorf("expected Response A second with avg 1.5, got %+v", got[1])
	}
	if got[2].Label != "Response C" || got[2].AverageRank != 3 {
		t.Errorf("expected Response C last with avg 3, got %+v", got[2])
	}
}

func TestCreateLabelMapping(t *testing.T) {
	got := createLabelMapping([]string{"claude", "codex", "gemini"})
	want := map[string]string{"Response A": "claude", "Response B": "codex", "Response C": "gemini"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestTransformGeminiPromptStripsPathLikeLines(t *testing.T) {
	input := "Please review this:\n/home/user/file.go\nWhat do you think?\n/etc/no-dot-here\n"
	got := transformGeminiPrompt(input)
	want := "Please review this:\nWhat do you think?\n/etc/no-dot-here\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestListPatternsHasNineEntries(t *testing.T) {
	patterns := ListPatterns()
	if len(patterns) != 9 {
		t.Fatalf("expected 9 patterns, got %d", len(patterns))
	}
	seen := map[string]bool{}
	for _, p := range patterns {
		if seen[p.ID] {
			t.Errorf("duplicate pattern id %s", p.ID)
		}
		seen[p.ID] = true
	}
	for _, id := range []string{"deliberation", "debate", "devils_advocate", "socratic", "red_team", "tree_of_thought", "self_consistency", "round_robin", "expert_panel"} {
		if !seen[id] {
			t.Errorf("missing pattern %s", id)
		}
	}
}

func TestStorePersistsAndIndexesConversation(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	record, err := store.Save("deliberation", "what is the meaning of life?", map[string]string{"stage3": "42"})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if record.ID == "" {
		t.Fatal("expected a non-empty conversation id")
	}

	listed, err := store.ListConversations("", 10)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 indexed conversation, got %d", len(listed))
	}
	if listed[0].ID != record.ID {
		t.Errorf("expected indexed id %s, got %s", record.ID, listed[0].ID)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CLI_COUNCIL_MODELS", "")
	t.Setenv("CLI_CHAIRMAN_MODEL", "")
	t.Setenv("MAX_RANKING_RETRIES", "")

	cfg := LoadConfig()
	if len(cfg.CouncilModels) != 3 {
		t.Fatalf("expected default 3 council models, got %v", cfg.CouncilModels)
	}
	if cfg.ChairmanModel != "codex" {
		t.Errorf("expected default chairman codex, got %s", cfg.ChairmanModel)
	}
	if cfg.MaxRankingRetries != 2 {
		t.Errorf("expected default max ranking retries 2, got %d", cfg.MaxRankingRetries)
	}
}
