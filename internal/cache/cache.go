package cache

import (
	"context"

	"temanngopi/pos/internal/domain"
)

// MenuCache caches the public menu between product writes. Implementations
// must treat cache errors as misses; the menu is always rebuildable from the
// store.
type MenuCache interface {
	Get(ctx context.Context) ([]domain.MenuSection, bool)
	Set(ctx context.Context, sections []domain.MenuSection)
	Invalidate(ctx context.Context) error
}

type Noop struct{}

func (Noop) Get(_ context.Context) ([]domain.MenuSection, bool) { return nil, false }

func (Noop) Set(_ context.Context, _ []domain.MenuSection) {}

func (Noop) Invalidate(_ context.Context) error { return nil }
