// Package provider abstracts the external model provider. The engine
// treats model output as an opaque sequence of text fragments.
package provider

import (
	"context"
	"errors"

	"github.com/dukerupert/chatledger/internal/model"
	"github.com/dukerupert/chatledger/internal/stream"
)

// ErrGenerationFailed wraps provider-side failures, including mid-stream
// ones. Partial output produced before the failure is preserved by the
// throttle, not by this package.
var ErrGenerationFailed = errors.New("generation failed")

// Request describes one generation. History already contains the latest
// user message in append order.
type Request struct {
	Model   string
	System  string
	History []model.Message
}

type Provider interface {
	// Stream starts a generation and returns its fragment sequence. The
	// channel closes when the stream ends; a terminal error arrives as a
	// Fragment with Err set.
	Stream(ctx context.Context, req Request) (<-chan stream.Fragment, error)

	// Complete runs a non-streaming generation.
	Complete(ctx context.Context, req Request) (string, error)
}
