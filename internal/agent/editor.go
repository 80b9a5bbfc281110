package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/draftforge/draftforge/internal/memory"
	"github.com/draftforge/draftforge/internal/models"
)

// Editor refines the draft into final content and scores its quality.
type Editor struct {
	*Runtime
	generator Generator
}

// NewEditor creates an editor agent. A nil generator falls back to the
// deterministic template generator.
func NewEditor(id, name string, mem *memory.Manager, generator Generator, config *Config, logger *slog.Logger) *Editor {
	if generator == nil {
		generator = TemplateGenerator{}
	}
	return &Editor{
		Runtime:   NewRuntime(id, models.AgentTypeEditor, name, mem, nil, config, logger),
		generator: generator,
	}
}

// Execute runs the editing phase under the runtime's retry wrapper.
func (a *Editor) Execute(ctx context.Context, wctx *models.WorkflowContext) error {
	a.StartTask(fmt.Sprintf("Editing content about: %s", wctx.Topic))

	if err := a.Runtime.Execute(ctx, wctx, a.edit); err != nil {
		return err
	}

	a.CompleteTask(ctx, fmt.Sprintf("Editing completed for %s: quality %.2f", wctx.Topic, wctx.QualityScore))
	return nil
}

func (a *Editor) edit(ctx context.Context, wctx *models.WorkflowContext) error {
	if wctx.DraftContent == "" {
		return fmt.Errorf("no draft content to edit for workflow %s", wctx.WorkflowID)
	}

	a.UpdateProgress(0.3, "polishing draft")
	polish, err := a.generator.Generate(ctx, fmt.Sprintf("Editorial pass on: %s", wctx.Topic))
	if err != nil {
		return fmt.Errorf("editing failed: %w", err)
	}

	a.UpdateProgress(0.7, "scoring quality")
	final := wctx.DraftContent + "\n\n" + polish
	score := a.scoreQuality(wctx)

	if _, err := a.StoreMemory(ctx, fmt.Sprintf("Editing result for %s: quality %.2f", wctx.Topic, score),
		"editing", 0.7, map[string]interface{}{"topic": wctx.Topic, "quality_score": score}); err != nil {
		a.logger.Warn("failed to store editing result", "error", err)
	}

	wctx.FinalContent = final
	wctx.QualityScore = score
	a.UpdateProgress(1.0, "editing completed")
	return nil
}

// scoreQuality derives a deterministic quality score from how complete
// the accumulated phase output is.
func (a *Editor) scoreQuality(wctx *models.WorkflowContext) float64 {
	score := 0.75
	if len(wctx.Sources) > 0 {
		score += 0.05
	}
	if len(wctx.KeyInsights) > 0 {
		score += 0.05
	}
	if wctx.WordCount > 0 {
		score += 0.05
	}
	if wctx.TargetLength > 0 {
		// Closer to target length scores higher, up to +0.1.
		ratio := float64(wctx.WordCount) / float64(wctx.TargetLength)
		score += 0.1 * math.Max(0, 1-math.Abs(1-ratio))
	}
	return math.Min(score, 1.0)
}
