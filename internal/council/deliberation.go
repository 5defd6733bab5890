package council

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const stage1Template = `Please provide a thorough, well-reasoned answer to the following question:

%s

Focus on accuracy, clarity, and completeness in your response.`

const stage2Template = `You are evaluating responses to this question:

%s

Here are the anonymized responses:

%s

Please evaluate each response for:
1. Accuracy and correctness
2. Completeness and depth
3. Clarity and organization
4. Practical usefulness

After your evaluation, provide your final ranking in this exact format:

FINAL RANKING:
1. Response X
2. Response Y
3. Response Z

(Replace X, Y, Z with the actual labels, ranked from best to worst)`

const stage3Template = `You are the chairman synthesizing a final answer.

Original question: %s

The council has provided and ranked these responses (ordered by peer-ranking quality):

%s

Aggregate Rankings:
%s

Please synthesize a comprehensive final answer that:
1. Incorporates the best insights from the highest-ranked responses
2. Addresses any important points from lower-ranked responses
3. Resolves any conflicts between responses
4. Provides a clear, authoritative answer

Your synthesized response:`

// anonymizeResponses renders stage-1 responses under their assigned labels
// for the stage-2 evaluation prompt, returning the formatted block and the
// label->model mapping used to build it.
func anonymizeResponses(responses map[string]string, order []string) (string, map[string]string) {
	labelToModel := createLabelMapping(order)
	modelToLabel := make(map[string]string, len(labelToModel))
	for label, model := range labelToModel {
		modelToLabel[model] = label
	}

	var parts []string
	for _, model := range order {
		resp, ok := responses[model]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("### %s\n\n%s\n", modelToLabel[model], resp))
	}
	return strings.Join(parts, "\n"), labelToModel
}

// Stage1Collect queries every council model in parallel and retains only
// the providers that returned non-null content.
func (f *Factory) Stage1Collect(ctx context.Context, cfg *Config, question string, models []string) map[string]string {
	prompt := fmt.Sprintf(stage1Template, question)
	results := f.QueryParallel(ctx, cfg, models, prompt, 0)

	responses := make(map[string]string, len(results))
	for _, r := range results {
		if r.Content != "" {
			responses[r.Provider] = r.Content
		} else {
			log.Printf("[COUNCIL] model %s failed in stage 1: %s", r.Provider, r.Error)
		}
	}
	return responses
}

// Stage2Rank collects anonymized peer rankings over the stage-1 responses.
// A ranking that fails to parse is retried against the same evaluator up to
// cfg.MaxRankingRetries times before it is dropped from the aggregate.
func (f *Factory) Stage2Rank(ctx context.Context, cfg *Config, question string, responses map[string]string, models []string) Stage2Result {
	order := modelsInResponseOrder(responses, models)
	formatted, labelToModel := anonymizeResponses(responses, order)
	prompt := fmt.Sprintf(stage2Template, question, formatted)

	var rankings []Ranking
	for _, r := range f.QueryParallel(ctx, cfg, models, prompt, 0) {
		ranking, ok := f.collectOneRanking(ctx, cfg, r, prompt, cfg.MaxRankingRetries)
		if ok {
			rankings = append(rankings, ranking)
		}
	}

	aggregate := calculateAggregateRankings(rankings, labelToModel)
	if len(aggregate) == 0 {
		log.Printf("[COUNCIL] stage 2 produced no parseable rankings after retries; degrading to unranked synthesis")
	}
	return Stage2Result{Rankings: rankings, LabelToModel: labelToModel, AggregateRankings: aggregate}
}

// collectOneRanking retries a single evaluator's ranking query until its
// output parses to a non-empty ranking or retries are exhausted.
func (f *Factory) collectOneRanking(ctx context.Context, cfg *Config, first QueryResult, prompt string, retries int) (Ranking, bool) {
	result := first
	for attempt := 0; ; attempt++ {
		if result.Content == "" {
			log.Printf("[COUNCIL] evaluator %s failed in stage 2: %s", result.Provider, result.Error)
			return Ranking{}, false
		}
		parsed := parseRankingFromText(result.Content)
		if len(parsed) > 0 {
			return Ranking{Evaluator: result.Provider, RawEvaluation: result.Content, ParsedRanking: parsed}, true
		}
		if attempt >= retries {
			log.Printf("[COUNCIL] evaluator %s exhausted %d ranking retries with unparseable output", result.Provider, retries)
			return Ranking{}, false
		}
		result = f.Query(ctx, cfg, result.Provider, prompt, 0)
	}
}

// Stage3Synthesize calls the chairman provider to synthesize a final
// answer, falling back to the top-ranked response on chairman failure.
func (f *Factory) Stage3Synthesize(ctx context.Context, cfg *Config, question string, responses map[string]string, stage2 Stage2Result, chairman string) string {
	if chairman == "" {
		chairman = cfg.ChairmanModel
	}

	var rankedBlocks []string
	var rankLines []string
	if len(stage2.AggregateRankings) == 0 {
		// Degraded path: stage 2 produced no usable rankings, so synthesize
		// directly over the unranked stage-1 responses.
		for model, resp := range responses {
			rankedBlocks = append(rankedBlocks, fmt.Sprintf("### %s (unranked)\n\n%s", model, resp))
		}
	} else {
		for _, rank := range stage2.AggregateRankings {
			resp, ok := responses[rank.Model]
			if !ok {
				continue
			}
			rankedBlocks = append(rankedBlocks, fmt.Sprintf("### %s (Avg Rank: %g)\n\n%s", rank.Model, rank.AverageRank, resp))
			rankLines = append(rankLines, fmt.Sprintf("- %s: avg rank %g", rank.Model, rank.AverageRank))
		}
	}

	prompt := fmt.Sprintf(stage3Template, question, strings.Join(rankedBlocks, "\n"), strings.Join(rankLines, "\n"))
	result := f.Query(ctx, cfg, chairman, prompt, 0)
	if result.Content != "" {
		return result.Content
	}

	log.Printf("[COUNCIL] chairman %s synthesis failed: %s", chairman, result.Error)
	if len(stage2.AggregateRankings) > 0 {
		if resp, ok := responses[stage2.AggregateRankings[0].Model]; ok {
			return "[Chairman synthesis failed. Top-ranked response:]\n\n" + resp
		}
	}
	if order := modelsInResponseOrder(responses, cfg.CouncilModels); len(order) > 0 {
		return "[Chairman synthesis failed. Top-ranked response:]\n\n" + responses[order[0]]
	}
	return "[Synthesis failed. No valid responses available.]"
}

// RunFullCouncil runs the complete three-stage deliberation.
func (f *Factory) RunFullCouncil(ctx context.Context, cfg *Config, question string, councilModels []string, chairmanModel string) *CouncilResult {
	if len(councilModels) == 0 {
		councilModels = cfg.CouncilModels
	}
	if chairmanModel == "" {
		chairmanModel = cfg.ChairmanModel
	}

	responses := f.Stage1Collect(ctx, cfg, question, councilModels)
	if len(responses) == 0 {
		return &CouncilResult{
			Success:  false,
			Error:    "No responses collected in Stage 1",
			Question: question,
			Stage1:   map[string]string{},
			Stage2:   Stage2Result{Rankings: []Ranking{}, LabelToModel: map[string]string{}},
		}
	}

	stage2 := f.Stage2Rank(ctx, cfg, question, responses, councilModels)
	final := f.Stage3Synthesize(ctx, cfg, question, responses, stage2, chairmanModel)

	return &CouncilResult{
		Success:  true,
		Question: question,
		Stage1:   responses,
		Stage2:   stage2,
		Stage3:   final,
		Metadata: map[string]interface{}{
			"council_models": councilModels,
			"chairman_model": chairmanModel,
			"response_count": len(responses),
			"ranking_count":  len(stage2.Rankings),
		},
	}
}

// modelsInResponseOrder returns the subset of models present in responses,
// preserving models' declared order (stage-1's fan-out order) so label
// assignment is deterministic.
func modelsInResponseOrder(responses map[string]string, models []string) []string {
	order := make([]string, 0, len(responses))
	for _, m := range models {
		if _, ok := responses[m]; ok {
			order = append(order, m)
		}
	}
	return order
}
