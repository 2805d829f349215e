package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Responder produces the content of each council stage for the dev server
type Responder interface {
	Answer(ctx context.Context, model, question string) (string, error)
	Rank(ctx context.Context, model, question string, labels []string, responses map[string]string) (string, error)
	Synthesize(ctx context.Context, model, question string, stage1 []Stage1Response, stage2 []Stage2Ranking) (string, error)
	Title(ctx context.Context, question string) (string, error)
}

// ErrNoCouncilResponses is returned when every council member failed in stage 1
var ErrNoCouncilResponses = errors.New("all council models failed to respond")

// Council runs the three stage process with a fixed roster
type Council struct {
	roster    Roster
	responder Responder
}

// NewCouncil creates a council for roster
func NewCouncil(roster Roster, responder Responder) *Council {
	return &Council{roster: roster, responder: responder}
}

// Stage1CollectResponses collects individual responses from all council models.
// Members are queried in parallel; a failed member is logged and left out.
// Results come back in roster order.
func (c *Council) Stage1CollectResponses(ctx context.Context, question string) ([]Stage1Response, error) {
	answers := c.queryParallel(ctx, func(ctx context.Context, model string) (string, error) {
		return c.responder.Answer(ctx, model, question)
	})

	var results []Stage1Response
	for _, model := range c.roster.CouncilModels {
		if answer, ok := answers[model]; ok {
			results = append(results, Stage1Response{Model: model, Response: answer})
		}
	}
	if len(results) == 0 {
		return nil, ErrNoCouncilResponses
	}
	return results, nil
}

// Stage2CollectRankings has every council member rank the anonymized stage 1
// responses. Returns the rankings and the label to model mapping.
func (c *Council) Stage2CollectRankings(ctx context.Context, question string, stage1 []Stage1Response) ([]Stage2Ranking, map[string]string, error) {
	labelToModel := make(map[string]string, len(stage1))
	labels := make([]string, 0, len(stage1))
	responses := make(map[string]string, len(stage1))

	for i, result := range stage1 {
		label := fmt.Sprintf("Response %c", rune('A'+i))
		labelToModel[label] = result.Model
		labels = append(labels, label)
		responses[label] = result.Response
	}

	rankings := c.queryParallel(ctx, func(ctx context.Context, model string) (string, error) {
		return c.responder.Rank(ctx, model, question, labels, responses)
	})

	var results []Stage2Ranking
	for _, model := range c.roster.CouncilModels {
		text, ok := rankings[model]
		if !ok {
			continue
		}
		results = append(results, Stage2Ranking{
			Model:         model,
			Ranking:       text,
			ParsedRanking: ParseRankingFromText(text),
		})
	}

	return results, labelToModel, nil
}

// Stage3SynthesizeFinal asks the chairman for the final answer
func (c *Council) Stage3SynthesizeFinal(ctx context.Context, question string, stage1 []Stage1Response, stage2 []Stage2Ranking) (*Stage3Response, error) {
	answer, err := c.responder.Synthesize(ctx, c.roster.ChairmanModel, question, stage1, stage2)
	if err != nil {
		return nil, fmt.Errorf("chairman model query failed: %w", err)
	}

	return &Stage3Response{
		Model:    c.roster.ChairmanModel,
		Response: answer,
	}, nil
}

// GenerateConversationTitle generates a short title for a conversation
func (c *Council) GenerateConversationTitle(ctx context.Context, question string) (string, error) {
	title, err := c.responder.Title(ctx, question)
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}

	title = strings.Trim(strings.TrimSpace(title), "\"'")
	if len([]rune(title)) > 50 {
		title = string([]rune(title)[:47]) + "..."
	}
	return title, nil
}

// queryParallel runs query for every council member concurrently.
// Failed members are logged and missing from the result.
func (c *Council) queryParallel(ctx context.Context, query func(context.Context, string) (string, error)) map[string]string {
	g, gctx := errgroup.WithContext(ctx)

	results := make(map[string]string, len(c.roster.CouncilModels))
	var mu sync.Mutex

	for _, model := range c.roster.CouncilModels {
		g.Go(func() error {
			response, err := query(gctx, model)
			if err != nil {
				// one member failing does not fail the stage
				log.Printf("Error querying model %s: %v", model, err)
				return nil
			}

			mu.Lock()
			results[model] = response
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// ScriptedResponder is a deterministic stand-in for real models
type ScriptedResponder struct {
	// Answers maps a question to the answer every member gives
	Answers map[string]string
	// Failing lists models whose queries fail
	Failing map[string]bool
}

// Answer returns the scripted answer or an echo of the question
func (r *ScriptedResponder) Answer(ctx context.Context, model, question string) (string, error) {
	if err := r.check(ctx, model); err != nil {
		return "", err
	}
	if answer, ok := r.Answers[question]; ok {
		return answer, nil
	}
	return fmt.Sprintf("%s considered %q and has no scripted answer.", ShortName(model), question), nil
}

// Rank writes a short evaluation followed by a FINAL RANKING section.
// Each model rotates the label order by its own seat so rankings differ.
func (r *ScriptedResponder) Rank(ctx context.Context, model, question string, labels []string, responses map[string]string) (string, error) {
	if err := r.check(ctx, model); err != nil {
		return "", err
	}
	if len(labels) == 0 {
		return "FINAL RANKING:\n", nil
	}

	offset := len(model) % len(labels)
	order := append(append([]string(nil), labels[offset:]...), labels[:offset]...)

	var b strings.Builder
	for _, label := range labels {
		fmt.Fprintf(&b, "%s answers in %d characters.\n", label, len(responses[label]))
	}
	b.WriteString("\nFINAL RANKING:\n")
	for i, label := range order {
		fmt.Fprintf(&b, "%d. %s\n", i+1, label)
	}
	return b.String(), nil
}

// Synthesize adopts the first response as the council's answer
func (r *ScriptedResponder) Synthesize(ctx context.Context, model, question string, stage1 []Stage1Response, stage2 []Stage2Ranking) (string, error) {
	if err := r.check(ctx, model); err != nil {
		return "", err
	}
	if answer, ok := r.Answers[question]; ok {
		return answer, nil
	}
	if len(stage1) == 0 {
		return "", ErrNoCouncilResponses
	}
	return stage1[0].Response, nil
}

// Title uses the first words of the question
func (r *ScriptedResponder) Title(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	words := strings.Fields(question)
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " "), nil
}

func (r *ScriptedResponder) check(ctx context.Context, model string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Failing[model] {
		return fmt.Errorf("model %s is unavailable", model)
	}
	return nil
}
