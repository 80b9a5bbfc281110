package agent

import (
	"context"
	"fmt"
	"strings"
)

// Generator produces the natural-language content of a phase. The real
// text generation lives outside this system; agents only depend on this
// contract.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TemplateGenerator is the built-in deterministic generator used when no
// external provider is wired in. Output is assembled from the prompt, so
// runs are reproducible.
type TemplateGenerator struct{}

// Generate assembles deterministic content from the prompt
func (TemplateGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	subject := prompt
	if idx := strings.Index(prompt, ":"); idx >= 0 {
		subject = strings.TrimSpace(prompt[idx+1:])
	}
	return fmt.Sprintf("Generated content on %s. %s", subject, prompt), nil
}
