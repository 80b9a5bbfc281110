package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/draftforge/draftforge/internal/memory"
	"github.com/draftforge/draftforge/internal/models"
)

// Researcher gathers sources and key insights for a topic and writes
// them into the workflow context.
type Researcher struct {
	*Runtime
	generator  Generator
	maxSources int
}

// NewResearcher creates a research agent. A nil generator falls back to
// the deterministic template generator.
func NewResearcher(id, name string, mem *memory.Manager, generator Generator, config *Config, logger *slog.Logger) *Researcher {
	if generator == nil {
		generator = TemplateGenerator{}
	}
	return &Researcher{
		Runtime:    NewRuntime(id, models.AgentTypeResearcher, name, mem, nil, config, logger),
		generator:  generator,
		maxSources: 3,
	}
}

// Execute runs the research phase under the runtime's retry wrapper.
func (a *Researcher) Execute(ctx context.Context, wctx *models.WorkflowContext) error {
	a.StartTask(fmt.Sprintf("Researching: %s", wctx.Topic))

	err := a.Runtime.Execute(ctx, wctx, a.research)
	if err != nil {
		return err
	}

	a.CompleteTask(ctx, fmt.Sprintf("Research completed for %s: %d sources, %d insights",
		wctx.Topic, len(wctx.Sources), len(wctx.KeyInsights)))
	return nil
}

func (a *Researcher) research(ctx context.Context, wctx *models.WorkflowContext) error {
	a.UpdateProgress(0.2, "gathering sources")

	sources := make([]models.ResearchSource, 0, a.maxSources)
	for i := 0; i < a.maxSources; i++ {
		content, err := a.generator.Generate(ctx, fmt.Sprintf("Source %d on: %s", i+1, wctx.Topic))
		if err != nil {
			return fmt.Errorf("source generation failed: %w", err)
		}
		sources = append(sources, models.ResearchSource{
			Title:          fmt.Sprintf("%s, part %d", wctx.Topic, i+1),
			URL:            fmt.Sprintf("https://example.com/%s/%d", slugify(wctx.Topic), i+1),
			Content:        content,
			RelevanceScore: 0.9 - 0.1*float64(i),
			WordCount:      len(strings.Fields(content)),
		})
	}

	a.UpdateProgress(0.6, "extracting key insights")
	insights, err := a.extractInsights(ctx, wctx.Topic, sources)
	if err != nil {
		return fmt.Errorf("insight extraction failed: %w", err)
	}

	a.UpdateProgress(0.9, "storing research results")
	summary := fmt.Sprintf("Research summary for %s: %s", wctx.Topic, strings.Join(insights, "; "))
	if _, err := a.StoreMemory(ctx, summary, "research", 0.7, map[string]interface{}{
		"topic":         wctx.Topic,
		"sources_count": len(sources),
	}); err != nil {
		a.logger.Warn("failed to store research summary", "error", err)
	}

	wctx.Sources = sources
	wctx.KeyInsights = insights
	a.UpdateProgress(1.0, "research completed")
	return nil
}

func (a *Researcher) extractInsights(ctx context.Context, topic string, sources []models.ResearchSource) ([]string, error) {
	insights := make([]string, 0, len(sources))
	for i := range sources {
		insight, err := a.generator.Generate(ctx, fmt.Sprintf("Insight %d on: %s", i+1, topic))
		if err != nil {
			return nil, err
		}
		insights = append(insights, insight)
	}
	return insights, nil
}

func slugify(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "-"))
}
