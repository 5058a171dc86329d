package bootstrap

import (
	"context"
	"fmt"
)

// Seeder loads reference data into a storage implementation.
type Seeder[S any] interface {
	Seed(ctx context.Context, dst S) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc[S any] func(ctx context.Context, dst S) error

// Seed executes the underlying function.
func (f SeederFunc[S]) Seed(ctx context.Context, dst S) error {
	return f(ctx, dst)
}

// RunSeeders applies seeders in order and stops at the first failure.
func RunSeeders[S any](ctx context.Context, dst S, seeders ...Seeder[S]) error {
	for i, s := range seeders {
		if s == nil {
			continue
		}
		if err := s.Seed(ctx, dst); err != nil {
			return fmt.Errorf("bootstrap: seeder %d: %w", i, err)
		}
	}
	return nil
}
