package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/patchgrid/bitwigd/internal/bitwig"
	"github.com/patchgrid/bitwigd/internal/converge"
	"github.com/patchgrid/bitwigd/internal/cursor"
)

// Handler executes one operation type. Implementations decode and validate
// their own args before touching the host.
type Handler interface {
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// Deps carries everything handlers need. Handlers share the one cursor; the
// executor never runs two operations concurrently.
type Deps struct {
	Host       bitwig.Host
	Cursor     *cursor.Cursor
	Units      UnitResolver
	Confirm    converge.Policy
	SettleRead time.Duration
	Logger     *slog.Logger
}

// Executor dispatches operations by type tag and applies the batch's
// stop-on-error policy.
type Executor struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewExecutor wires the full handler table.
func NewExecutor(deps Deps) *Executor {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	deps.Logger = deps.Logger.With("component", "batch")
	return &Executor{
		handlers: map[string]Handler{
			TypeCreateTracks:      &createTracksHandler{deps: deps},
			TypeInsertOnChain:     &insertOnChainHandler{deps: deps},
			TypeSwitchPage:        &switchPageHandler{deps: deps},
			TypeSetParameters:     &setParametersHandler{deps: deps},
			TypeSetPageParameters: &setPageParametersHandler{deps: deps},
			TypeApplySnapshot:     &applySnapshotHandler{deps: deps},
		},
		logger: deps.Logger,
	}
}

// Run executes the batch in submission order. A failing operation stops the
// batch unless ContinueOnError is set; either way every attempted operation
// contributes exactly one result.
func (e *Executor) Run(ctx context.Context, req Request) Response {
	results := make([]Result, 0, len(req.Operations))
	for i, op := range req.Operations {
		opID := fmt.Sprintf("op_%d_%s", i, op.Type)
		started := time.Now()
		payload, err := e.dispatch(ctx, op)
		if err != nil {
			e.logger.Warn("batch operation failed",
				"op_id", opID,
				"duration", time.Since(started),
				"err", err,
			)
			results = append(results, Result{
				OpID:    opID,
				Type:    op.Type,
				Status:  StatusError,
				Message: err.Error(),
			})
			if !req.ContinueOnError {
				break
			}
			continue
		}
		e.logger.Info("batch operation finished",
			"op_id", opID,
			"duration", time.Since(started),
		)
		results = append(results, Result{
			OpID:    opID,
			Type:    op.Type,
			Status:  StatusSuccess,
			Payload: payload,
		})
	}
	return Response{Executed: len(results), Results: results}
}

func (e *Executor) dispatch(ctx context.Context, op Operation) (any, error) {
	handler, ok := e.handlers[op.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported operation type %q", op.Type)
	}
	return handler.Execute(ctx, op.Args)
}
