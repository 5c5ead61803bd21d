// Package extract turns raw device output into core.Element batches.
//
// Two backends exist: XML walks the accessibility hierarchy dump and Visual
// sends a screenshot to the vision service. Both satisfy Extractor, which
// cannot be implemented outside this package.
package extract

import (
	"context"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
)

// Source is the device side an extractor reads from.
type Source interface {
	DumpHierarchy(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	ScreenSize(ctx context.Context) (core.ScreenSize, error)
}

// Extractor produces one batch of elements from a Source. The only
// implementations are *XML and *Visual.
type Extractor interface {
	Kind() core.ElementType
	Extract(ctx context.Context, src Source) ([]core.Element, error)
	sealed()
}

var (
	_ Extractor = (*XML)(nil)
	_ Extractor = (*Visual)(nil)
)
