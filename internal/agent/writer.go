package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/draftforge/draftforge/internal/memory"
	"github.com/draftforge/draftforge/internal/models"
)

// Writer turns research output into a draft, consulting prior content
// plans in shared memory for structure.
type Writer struct {
	*Runtime
	generator Generator
}

// NewWriter creates a writer agent. A nil generator falls back to the
// deterministic template generator.
func NewWriter(id, name string, mem *memory.Manager, generator Generator, config *Config, logger *slog.Logger) *Writer {
	if generator == nil {
		generator = TemplateGenerator{}
	}
	return &Writer{
		Runtime:   NewRuntime(id, models.AgentTypeWriter, name, mem, nil, config, logger),
		generator: generator,
	}
}

// Execute runs the writing phase under the runtime's retry wrapper.
func (a *Writer) Execute(ctx context.Context, wctx *models.WorkflowContext) error {
	a.StartTask(fmt.Sprintf("Writing content about: %s", wctx.Topic))

	if err := a.Runtime.Execute(ctx, wctx, a.write); err != nil {
		return err
	}

	a.CompleteTask(ctx, fmt.Sprintf("Writing completed for %s: %d words", wctx.Topic, wctx.WordCount))
	return nil
}

func (a *Writer) write(ctx context.Context, wctx *models.WorkflowContext) error {
	a.UpdateProgress(0.2, "planning content structure")

	// Prior plans for related topics inform the structure; absence is fine.
	priorPlans, err := a.RetrieveSimilarMemories(ctx, wctx.Topic, 3, 0.7)
	if err != nil {
		a.logger.Warn("failed to retrieve prior plans", "error", err)
	}

	plan := fmt.Sprintf("Content plan for %s: introduction, %d key sections, conclusion (target %d words, %d prior plans consulted)",
		wctx.Topic, len(wctx.KeyInsights), wctx.TargetLength, len(priorPlans))
	if _, err := a.StoreMemory(ctx, plan, "content_plan", 0.8, map[string]interface{}{
		"topic":         wctx.Topic,
		"target_length": wctx.TargetLength,
	}); err != nil {
		a.logger.Warn("failed to store content plan", "error", err)
	}

	a.UpdateProgress(0.5, "generating draft")
	sections := make([]string, 0, len(wctx.KeyInsights)+2)

	intro, err := a.generator.Generate(ctx, fmt.Sprintf("Introduction on: %s", wctx.Topic))
	if err != nil {
		return fmt.Errorf("draft generation failed: %w", err)
	}
	sections = append(sections, intro)

	for i, insight := range wctx.KeyInsights {
		section, err := a.generator.Generate(ctx, fmt.Sprintf("Section %d expanding: %s", i+1, insight))
		if err != nil {
			return fmt.Errorf("draft generation failed: %w", err)
		}
		sections = append(sections, section)
	}

	conclusion, err := a.generator.Generate(ctx, fmt.Sprintf("Conclusion on: %s", wctx.Topic))
	if err != nil {
		return fmt.Errorf("draft generation failed: %w", err)
	}
	sections = append(sections, conclusion)

	a.UpdateProgress(0.9, "finalizing draft")
	draft := strings.Join(sections, "\n\n")
	wctx.DraftContent = draft
	wctx.WordCount = len(strings.Fields(draft))

	a.UpdateProgress(1.0, "writing completed")
	return nil
}
