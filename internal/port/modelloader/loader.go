// Package modelloader defines the port for loading a concrete model version.
package modelloader

import (
	"context"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
)

// Loader turns a model version into a ready predictor. A failed load is
// reported as an error; it must not panic.
type Loader interface {
	Load(ctx context.Context, v model.Version) (model.Predictor, error)
}
