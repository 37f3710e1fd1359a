package sandbox

import (
	"encoding/json"
	"fmt"
)

// TypeTag names the type of one generator input or output.
type TypeTag string

const (
	TypeInt    TypeTag = "int"
	TypeFloat  TypeTag = "float"
	TypeString TypeTag = "string"
)

func (t TypeTag) Valid() bool {
	switch t {
	case TypeInt, TypeFloat, TypeString:
		return true
	}
	return false
}

func (t *TypeTag) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("type tag must be a string: %w", err)
	}
	tag := TypeTag(raw)
	if !tag.Valid() {
		return fmt.Errorf("unknown type %q, must be one of int, float, string", raw)
	}
	*t = tag
	return nil
}

// ExecutionRequest is one generator run as submitted by a client.
type ExecutionRequest struct {
	Content       string    `json:"content"`
	Language      string    `json:"language"`
	Inputs        []TypeTag `json:"inputs"`
	Output        TypeTag   `json:"output"`
	HiddenCases   uint16    `json:"hidden_cases"`
	VisibleCases  uint16    `json:"visible_cases"`
	GenerateCases uint16    `json:"generate_cases"`
}

// GeneratedCase is one case printed by the harness. Values are passed through untyped.
type GeneratedCase struct {
	Input  []json.RawMessage `json:"input"`
	Output json.RawMessage   `json:"output"`
}

// Outcome is either *Success or *Failure.
type Outcome interface {
	outcome()
}

// Success is returned when the harness exited 0 and printed its cases.
type Success struct {
	Cases  []GeneratedCase `json:"cases"`
	Stdout string          `json:"stdout"`
	Stderr string          `json:"stderr"`
}

// Failure is returned when the harness exited non-zero.
type Failure struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func (*Success) outcome() {}
func (*Failure) outcome() {}
