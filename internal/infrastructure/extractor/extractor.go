package extractor

import (
	"context"
	"fmt"

	"github.com/dmquang/docchat/internal/core/domain"
	"github.com/dmquang/docchat/internal/core/ports"
)

// Dispatcher routes extraction by file type. Unknown types fall through to
// the fallback extractor (plaintext) rather than failing outright.
type Dispatcher struct {
	byType   map[string]ports.TextExtractor
	fallback ports.TextExtractor
}

func NewDispatcher(fallback ports.TextExtractor) *Dispatcher {
	return &Dispatcher{
		byType:   map[string]ports.TextExtractor{},
		fallback: fallback,
	}
}

func (d *Dispatcher) Register(fileType string, extractor ports.TextExtractor) {
	d.byType[fileType] = extractor
}

func (d *Dispatcher) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	if ex, ok := d.byType[doc.FileType]; ok {
		return ex.Extract(ctx, doc)
	}
	if d.fallback == nil {
		return "", fmt.Errorf("no extractor for file type %q", doc.FileType)
	}
	return d.fallback.Extract(ctx, doc)
}
