package council

import (
	"context"
	"fmt"
	"strings"
)

// patternCatalog is the table of built-in deliberation patterns.
var patternCatalog = map[string]Pattern{
	"deliberation": {
		ID: "deliberation", Name: "Standard Deliberation",
		Description:    "3-stage process: respond, rank, synthesize",
		Stages:         []string{"collect_responses", "peer_ranking", "synthesis"},
		RecommendedFor: []string{"general questions", "balanced analysis", "consensus building"},
	},
	"debate": {
		ID: "debate", Name: "Adversarial Debate",
		Description:    "Models argue different positions, chairman judges",
		Stages:         []string{"opening_arguments", "rebuttals", "judgment"},
		RecommendedFor: []string{"controversial topics", "exploring tradeoffs", "decision making"},
	},
	"devils_advocate": {
		ID: "devils_advocate", Name: "Devil's Advocate",
		Description:    "One model challenges the consensus of others",
		Stages:         []string{"initial_consensus", "challenge", "defense"},
		RecommendedFor: []string{"testing assumptions", "finding flaws", "stress testing ideas"},
	},
	"socratic": {
		ID: "socratic", Name: "Socratic Dialogue",
		Description:    "Progressive questioning to deepen understanding",
		Stages:         []string{"initial", "questioning_rounds", "refinement_rounds"},
		RecommendedFor: []string{"complex topics", "educational content", "deep exploration"},
	},
	"red_team": {
		ID: "red_team", Name: "Red Team Analysis",
		Description:    "Focused on finding vulnerabilities and issues",
		Stages:         []string{"proposal", "attack", "recommendations"},
		RecommendedFor: []string{"security analysis", "risk assessment", "code review"},
	},
	"tree_of_thought": {
		ID: "tree_of_thought", Name: "Tree of Thought",
		Description:    "Explore multiple solution branches in parallel",
		Stages:         []string{"branch_generation", "evaluation"},
		RecommendedFor: []string{"problem solving", "creative tasks", "optimization"},
	},
	"self_consistency": {
		ID: "self_consistency", Name: "Self-Consistency",
		Description:    "Multiple independent attempts, aggregate results",
		Stages:         []string{"parallel_attempts", "consistency_check"},
		RecommendedFor: []string{"factual questions", "calculations", "verification"},
	},
	"round_robin": {
		ID: "round_robin", Name: "Round Robin",
		Description:    "Sequential refinement by each model",
		Stages:         []string{"initial", "refinement_rounds", "final"},
		RecommendedFor: []string{"iterative improvement", "collaborative writing", "code refinement"},
	},
	"expert_panel": {
		ID: "expert_panel", Name: "Expert Panel",
		Description:    "Models take domain-specific expert roles",
		Stages:         []string{"role_assignment", "expert_opinions", "integration"},
		RecommendedFor: []string{"multi-disciplinary topics", "comprehensive analysis", "technical decisions"},
	},
}

// ListPatterns returns metadata for all nine named deliberation patterns.
func ListPatterns() []Pattern {
	order := []string{"deliberation", "debate", "devils_advocate", "socratic", "red_team", "tree_of_thought", "self_consistency", "round_robin", "expert_panel"}
	out := make([]Pattern, 0, len(order))
	for _, id := range order {
		out = append(out, patternCatalog[id])
	}
	return out
}

// RunPattern dispatches to the named pattern's orchestration.
func (f *Factory) RunPattern(ctx context.Context, cfg *Config, patternID, question string, models []string, rounds, branches int) (*PatternResult, error) {
	if _, ok := patternCatalog[patternID]; !ok {
		return nil, fmt.Errorf("unknown pattern: %s", patternID)
	}
	if len(models) == 0 {
		models = cfg.CouncilModels
	}

	switch patternID {
	case "deliberation":
		return f.runDeliberationPattern(ctx, cfg, question, models)
	case "debate":
		return f.runDebate(ctx, cfg, question, models)
	case "devils_advocate":
		return f.runDevilsAdvocate(ctx, cfg, question, models)
	case "socratic":
		return f.runSocratic(ctx, cfg, question, models, rounds)
	case "red_team":
		return f.runRedTeam(ctx, cfg, question, models)
	case "tree_of_thought":
		return f.runTreeOfThought(ctx, cfg, question, models, branches)
	case "self_consistency":
		return f.runSelfConsistency(ctx, cfg, question, models, rounds)
	case "round_robin":
		return f.runRoundRobin(ctx, cfg, question, models, rounds)
	case "expert_panel":
		return f.runExpertPanel(ctx, cfg, question, models)
	default:
		return nil, fmt.Errorf("pattern %s not implemented", patternID)
	}
}

func joinResults(results []QueryResult, format string) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		content := r.Content
		if content == "" {
			content = "No response"
		}
		parts = append(parts, fmt.Sprintf(format, r.Provider, content))
	}
	return strings.Join(parts, "\n\n")
}

func (f *Factory) runDeliberationPattern(ctx context.Context, cfg *Config, question string, models []string) (*PatternResult, error) {
	result := f.RunFullCouncil(ctx, cfg, question, models, "")
	return &PatternResult{
		Pattern:  "deliberation",
		Question: question,
		Final:    result.Stage3,
		Extra: map[string]interface{}{
			"success": result.Success,
			"error":   result.Error,
			"stage1":  result.Stage1,
			"stage2":  result.Stage2,
		},
	}, nil
}

func (f *Factory) runDebate(ctx context.Context, cfg *Config, question string, models []string) (*PatternResult, error) {
	opening := f.QueryParallel(ctx, cfg, models, fmt.Sprintf("Topic: %s\n\nProvide an opening argument. Be persuasive and well-reasoned.", question), 0)
	openingsText := joinResults(opening, "[%s]: %s")

	rebuttal := f.QueryParallel(ctx, cfg, models, fmt.Sprintf("Topic: %s\n\nOpening arguments:\n%s\n\nProvide a rebuttal addressing the other arguments.", question, openingsText), 0)
	rebuttalsText := joinResults(rebuttal, "[%s]: %s")

	fullDebate := openingsText + "\n\nRebuttals:\n" + rebuttalsText
	chairman := cfg.ChairmanModel
	if chairman == "" && len(models) > 0 {
		chairman = models[0]
	}
	judgment := f.Query(ctx, cfg, chairman, fmt.Sprintf("As judge of this debate on %q:\n\n%s\n\nProvide your judgment: Which position is most convincing and why? What key points decided this?", question, fullDebate), 0)

	return &PatternResult{
		Pattern:  "debate",
		Question: question,
		Final:    judgment.Content,
		Stages: []map[string]interface{}{
			{"stage": "opening_arguments", "results": opening},
			{"stage": "rebuttals", "results": rebuttal},
			{"stage": "judgment", "result": judgment},
		},
	}, nil
}

func (f *Factory) runDevilsAdvocate(ctx context.Context, cfg *Config, question string, models []string) (*PatternResult, error) {
	consensusModels := models
	if len(models) > 1 {
		consensusModels = models[:len(models)-1]
	}
	consensus := f.QueryParallel(ctx, cfg, consensusModels, fmt.Sprintf("Question: %s\n\nProvide your best answer.", question), 0)
	consensusText := joinResults(consensus, "[%s]: %s")

	challenger := models[0]
	if len(models) > 1 {
		challenger = models[len(models)-1]
	}
	challenge := f.Query(ctx, cfg, challenger, fmt.Sprintf("The following answers have been given to %q:\n\n%s\n\nAs devil's advocate, challenge these answers. Find flaws, gaps, or alternative perspectives.", question, consensusText), 0)

	defense := f.QueryParallel(ctx, cfg, consensusModels, fmt.Sprintf("Your answer was challenged:\n\n%s\n\nDefend your position or update your answer based on valid criticisms.", challenge.Content), 0)

	return &PatternResult{
		Pattern:  "devils_advocate",
		Question: question,
		Stages: []map[string]interface{}{
			{"stage": "initial_consensus", "results": consensus},
			{"stage": "challenge", "result": challenge},
			{"stage": "defense", "results": defense},
		},
	}, nil
}

func (f *Factory) runSocratic(ctx context.Context, cfg *Config, question string, models []string, rounds int) (*PatternResult, error) {
	if rounds <= 0 {
		rounds = 2
	}
	stages := []map[string]interface{}{}

	initial := f.QueryParallel(ctx, cfg, models, fmt.Sprintf("Question: %s\n\nProvide an initial answer.", question), 0)
	stages = append(stages, map[string]interface{}{"stage": "initial", "results": initial})
	currentContext := joinResults(initial, "[%s]: %s")

	questioner := cfg.ChairmanModel
	if questioner == "" && len(models) > 0 {
		questioner = models[0]
	}

	for i := 0; i < rounds; i++ {
		questions := f.Query(ctx, cfg, questioner, fmt.Sprintf("Based on these responses about %q:\n\n%s\n\nGenerate probing questions to deepen understanding or expose gaps.", question, currentContext), 0)
		stages = append(stages, map[string]interface{}{"stage": fmt.Sprintf("questions_round_%d", i+1), "result": questions})

		refined := f.QueryParallel(ctx, cfg, models, fmt.Sprintf("Original question: %s\n\nPrevious responses:\n%s\n\nFollow-up questions:\n%s\n\nProvide a refined, deeper response.", question, currentContext, questions.Content), 0)
		stages = append(stages, map[string]interface{}{"stage": fmt.Sprintf("refinement_round_%d", i+1), "results": refined})
		currentContext = joinResults(refined, "[%s]: %s")
	}

	return &PatternResult{Pattern: "socratic", Question: question, Stages: stages, Extra: map[string]interface{}{"rounds": rounds}}, nil
}

func (f *Factory) runRedTeam(ctx context.Context, cfg *Config, question string, models []string) (*PatternResult, error) {
	lead := cfg.ChairmanModel
	if lead == "" && len(models) > 0 {
		lead = models[0]
	}
	proposal := f.Query(ctx, cfg, lead, fmt.Sprintf("Proposal to analyze: %s\n\nDescribe the proposal in detail.", question), 0)

	proposalText := proposal.Content
	if proposalText == "" {
		proposalText = question
	}
	attacks := f.QueryParallel(ctx, cfg, models, fmt.Sprintf("Red Team Analysis of:\n\n%s\n\nIdentify all potential vulnerabilities, risks, and failure modes. Be thorough and adversarial.", proposalText), 0)
	attacksText := joinResults(attacks, "[%s]: %s")

	recommendations := f.Query(ctx, cfg, lead, fmt.Sprintf("Based on red team analysis:\n\n%s\n\nProvide prioritized recommendations to address the identified issues.", attacksText), 0)

	return &PatternResult{
		Pattern:  "red_team",
		Question: question,
		Final:    recommendations.Content,
		Stages: []map[string]interface{}{
			{"stage": "proposal", "result": proposal},
			{"stage": "attack", "results": attacks},
			{"stage": "recommendations", "result": recommendations},
		},
	}, nil
}

func (f *Factory) runTreeOfThought(ctx context.Context, cfg *Config, question string, models []string, branches int) (*PatternResult, error) {
	if branches <= 0 {
		branches = 3
	}
	branchModels := models
	if len(models) >= branches {
		branchModels = models[:branches]
	}
	branchResults := f.QueryParallel(ctx, cfg, branchModels, fmt.Sprintf("Problem: %s\n\nGenerate a unique approach or solution. Think creatively and explore different angles.", question), 0)

	var branchLines []string
	for i, r := range branchResults {
		branchLines = append(branchLines, fmt.Sprintf("Branch %d [%s]: %s", i+1, r.Provider, r.Content))
	}

	evaluator := cfg.ChairmanModel
	if evaluator == "" && len(models) > 0 {
		evaluator = models[0]
	}
	evaluation := f.Query(ctx, cfg, evaluator, fmt.Sprintf("Evaluate these solution approaches:\n\n%s\n\nScore each branch (1-10) on feasibility, effectiveness, and innovation. Recommend the best path.", strings.Join(branchLines, "\n")), 0)

	return &PatternResult{
		Pattern:  "tree_of_thought",
		Question: question,
		Final:    evaluation.Content,
		Stages: []map[string]interface{}{
			{"stage": "branch_generation", "results": branchResults},
			{"stage": "evaluation", "result": evaluation},
		},
	}, nil
}

func (f *Factory) runSelfConsistency(ctx context.Context, cfg *Config, question string, models []string, attempts int) (*PatternResult, error) {
	if attempts <= 0 {
		attempts = 2
	}

	type attemptRecord struct {
		Model    string `json:"model"`
		Attempt  int    `json:"attempt"`
		Response string `json:"response"`
	}
	var all []attemptRecord
	for _, model := range models {
		for i := 0; i < attempts; i++ {
			result := f.Query(ctx, cfg, model, fmt.Sprintf("Question: %s\n\nProvide your answer. Be precise and accurate.", question), 0)
			all = append(all, attemptRecord{Model: model, Attempt: i + 1, Response: result.Content})
		}
	}

	var lines []string
	for _, a := range all {
		lines = append(lines, fmt.Sprintf("[%s attempt %d]: %s", a.Model, a.Attempt, a.Response))
	}

	analyzer := cfg.ChairmanModel
	if analyzer == "" && len(models) > 0 {
		analyzer = models[0]
	}
	analysis := f.Query(ctx, cfg, analyzer, fmt.Sprintf("Multiple attempts to answer %q:\n\n%s\n\nAnalyze consistency. What answer appears most reliable? Note any discrepancies.", question, strings.Join(lines, "\n")), 0)

	attemptsAny := make([]interface{}, len(all))
	for i, a := range all {
		attemptsAny[i] = a
	}

	return &PatternResult{
		Pattern:  "self_consistency",
		Question: question,
		Final:    analysis.Content,
		Extra: map[string]interface{}{
			"attempts": attemptsAny,
			"analysis": analysis,
		},
	}, nil
}

func (f *Factory) runRoundRobin(ctx context.Context, cfg *Config, question string, models []string, rounds int) (*PatternResult, error) {
	if rounds <= 0 {
		rounds = 2
	}
	var stages []map[string]interface{}
	currentAnswer := ""

	for round := 0; round < rounds; round++ {
		for _, model := range models {
			prompt := fmt.Sprintf("Question: %s\n\n", question)
			if currentAnswer != "" {
				prompt += fmt.Sprintf("Previous answer to improve:\n%s\n\nRefine and improve this answer.", currentAnswer)
			} else {
				prompt += "Provide an initial answer."
			}

			result := f.Query(ctx, cfg, model, prompt, 0)
			if result.Content != "" {
				currentAnswer = result.Content
			}

			stages = append(stages, map[string]interface{}{"round": round + 1, "model": model, "response": currentAnswer})
		}
	}

	return &PatternResult{Pattern: "round_robin", Question: question, Stages: stages, Final: currentAnswer, Extra: map[string]interface{}{"rounds": rounds}}, nil
}

var expertRoles = []string{
	"Technical Expert (focus on implementation details)",
	"Business Expert (focus on practical applications)",
	"Critical Analyst (focus on risks and concerns)",
	"Innovation Expert (focus on creative possibilities)",
}

func (f *Factory) runExpertPanel(ctx context.Context, cfg *Config, question string, models []string) (*PatternResult, error) {
	roles := expertRoles
	if len(models) < len(roles) {
		roles = roles[:len(models)]
	}

	expertResults := make(map[string]QueryResult, len(roles))
	var lines []string
	for i, role := range roles {
		result := f.Query(ctx, cfg, models[i], fmt.Sprintf("As a %s, analyze:\n\n%s\n\nProvide your expert perspective from your specific domain.", role, question), 0)
		key := fmt.Sprintf("%s (%s)", models[i], role)
		expertResults[key] = result
		lines = append(lines, fmt.Sprintf("[%s]: %s", key, result.Content))
	}

	integrator := cfg.ChairmanModel
	if integrator == "" && len(models) > 0 {
		integrator = models[0]
	}
	integration := f.Query(ctx, cfg, integrator, fmt.Sprintf("Expert panel opinions on %q:\n\n%s\n\nIntegrate these expert perspectives into a comprehensive answer.", question, strings.Join(lines, "\n")), 0)

	return &PatternResult{
		Pattern:  "expert_panel",
		Question: question,
		Final:    integration.Content,
		Extra: map[string]interface{}{
			"experts":     expertResults,
			"integration": integration,
		},
	}, nil
}
