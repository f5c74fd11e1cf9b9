package usecase

// Cache lookup outcomes and answer context sources reported through
// Instrumentation.
const (
	CacheOutcomeHit  = "hit"
	CacheOutcomeMiss = "miss"

	ContextSourceVector  = "vector"
	ContextSourceLexical = "lexical"
	ContextSourceNone    = "none"
)

// Instrumentation receives measurement events from the retrieval path.
// Implementations must be safe for concurrent use. A nil Instrumentation
// disables recording.
type Instrumentation interface {
	CacheLookup(outcome string)
	VariationsUsed(count int)
	AnswerComposed(contextSource string)
}

type nopInstrumentation struct{}

func (nopInstrumentation) CacheLookup(string)    {}
func (nopInstrumentation) VariationsUsed(int)    {}
func (nopInstrumentation) AnswerComposed(string) {}
