// Package contracts resolves a stack id to its contract template.
package contracts

import (
	"context"
	"errors"

	"rfq-workers/internal/models"
)

// ErrStackNotFound means no contract row exists for the stack id. An existing row with
// nothing configured is returned as an empty record instead.
var ErrStackNotFound = errors.New("stack not found")

// Lookup resolves contract templates by stack id.
type Lookup interface {
	Lookup(ctx context.Context, stackID string) (*models.ContractRecord, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, stackID string) (*models.ContractRecord, error)

func (f LookupFunc) Lookup(ctx context.Context, stackID string) (*models.ContractRecord, error) {
	return f(ctx, stackID)
}
