package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dmquang/docchat/internal/core/ports"
)

// VariationGenerator widens retrieval by asking the text-generation
// collaborator for paraphrases of the user query. It fails open: on any
// collaborator problem the caller gets the original query alone, never an
// error.
type VariationGenerator struct {
	generator     ports.TextGenerator
	numVariations int
	logger        *slog.Logger
}

func NewVariationGenerator(generator ports.TextGenerator, numVariations int, logger *slog.Logger) *VariationGenerator {
	if numVariations < 1 {
		numVariations = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VariationGenerator{
		generator:     generator,
		numVariations: numVariations,
		logger:        logger,
	}
}

// Generate returns between 1 and numVariations+1 queries, the original always
// first.
func (g *VariationGenerator) Generate(ctx context.Context, query string) []string {
	if g.generator == nil {
		return []string{query}
	}

	raw, err := g.generator.GenerateFromPrompt(ctx, buildVariationPrompt(query, g.numVariations))
	if err != nil {
		g.logger.Warn("query_variation_generation_failed", "error", err)
		return []string{query}
	}

	variations := parseVariations(raw, query, g.numVariations)
	return append([]string{query}, variations...)
}

func buildVariationPrompt(query string, n int) string {
	return fmt.Sprintf(`Generate %d different versions of the question below to retrieve relevant documents from a vector database.
Each version must ask for the same information with different wording, keep the original intent and be clear and specific.
Return one question per line, nothing else.

Original question: %s

Alternative questions:`, n, query)
}

// parseVariations expects one variation per line. Enumeration markers such as
// "1. ", "2) ", "- " or "* " are stripped, empty lines and echoes of the
// original query are dropped.
func parseVariations(raw, original string, max int) []string {
	out := make([]string, 0, max)
	for _, line := range strings.Split(raw, "\n") {
		candidate := stripEnumeration(strings.TrimSpace(line))
		if candidate == "" || strings.EqualFold(candidate, strings.TrimSpace(original)) {
			continue
		}
		out = append(out, candidate)
		if len(out) == max {
			break
		}
	}
	return out
}

func stripEnumeration(line string) string {
	for _, prefix := range []string{"- ", "* "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	for i := 1; i <= 9; i++ {
		for _, sep := range []string{". ", ") "} {
			prefix := fmt.Sprintf("%d%s", i, sep)
			if strings.HasPrefix(line, prefix) {
				return strings.TrimSpace(strings.TrimPrefix(line, prefix))
			}
		}
	}
	return line
}
