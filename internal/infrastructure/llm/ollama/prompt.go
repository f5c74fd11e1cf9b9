package ollama

import (
	"fmt"
	"strings"

	"github.com/dmquang/docchat/internal/core/domain"
)

func buildAnswerPrompt(question string, chunks []domain.ScoredChunk) string {
	var contextBuilder strings.Builder
	for idx, chunk := range chunks {
		heading := chunk.Metadata.Heading
		if heading == "" {
			heading = "-"
		}
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] file=%s section=%s score=%.3f\n%s\n\n",
			idx+1,
			chunk.Metadata.SourceFile,
			heading,
			chunk.FinalScore,
			chunk.Content,
		))
	}

	return fmt.Sprintf(`Answer user question only from context below.
If context is insufficient, say it directly.
Answer in the language of the question.

Question:
%s

Context:
%s
`, question, contextBuilder.String())
}
