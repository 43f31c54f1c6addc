// Package batch executes ordered host operations. A batch is the unit of
// submission: operations run strictly in order against the shared selection
// cursor, stop on the first failing operation unless told otherwise, and
// report one result per attempted operation.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Operation statuses reported per result.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation type names accepted in a batch.
const (
	TypeCreateTracks      = "create_tracks"
	TypeInsertOnChain     = "insert_on_chain"
	TypeSwitchPage        = "switch_page"
	TypeSetParameters     = "set_parameters"
	TypeSetPageParameters = "set_page_parameters"
	TypeApplySnapshot     = "apply_snapshot"
)

// Request is one submitted batch.
type Request struct {
	Operations      []Operation `json:"operations"`
	ContinueOnError bool        `json:"continue_on_error"`
}

// Operation carries a type tag plus type-specific arguments that are only
// decoded by the matching handler.
type Operation struct {
	Type string          `json:"type"`
	Args json.RawMessage `json:"args"`
}

// Result is the outcome of one attempted operation.
type Result struct {
	OpID    string `json:"op_id"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// Response reports how far the batch ran. Executed counts attempted
// operations; operations after a stopping failure are absent entirely.
type Response struct {
	Executed int      `json:"executed"`
	Results  []Result `json:"results"`
}

// Unit identifies an insertable device resolved from the knowledge catalog
// or from a raw UUID reference.
type Unit struct {
	ID   uuid.UUID
	Name string
}

// UnitResolver resolves device references and replay ordering hints.
// Implemented by the knowledge catalog.
type UnitResolver interface {
	// ResolveRef turns a device name or UUID string into a Unit.
	ResolveRef(ctx context.Context, ref string) (Unit, error)
	// WriteFirstPage reports which page index must be written before the
	// others when replaying a snapshot onto the named device, if the
	// catalog records such a hint.
	WriteFirstPage(ctx context.Context, deviceName string) (int, bool, error)
}

func decodeArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("operation args are required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode operation args: %w", err)
	}
	return nil
}
