package bpe

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks invalid trainer or model configuration.
	ErrConfig = errors.New("invalid configuration")
	// ErrTraining marks a training run that could not produce a vocabulary.
	ErrTraining = errors.New("training failed")
	// ErrUnknownSymbol marks a symbol missing from the vocabulary. A correctly
	// trained vocabulary never triggers it.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrDecode marks an id or byte sequence that cannot be decoded.
	ErrDecode = errors.New("decode failed")
)

// ConfigError reports an invalid setting before any work starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// TrainingError reports why training stopped without publishing a result.
type TrainingError struct {
	Reason string
	Err    error
}

func (e *TrainingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrTraining, e.Reason, e.Err)
	}

	return fmt.Sprintf("%v: %s", ErrTraining, e.Reason)
}

func (e *TrainingError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTraining, e.Err}
	}

	return []error{ErrTraining}
}

// UnknownSymbolError is an integrity failure: a symbol produced while
// encoding has no id.
type UnknownSymbolError struct {
	Symbol string
	Offset int // source byte offset of the symbol
}

func (e *UnknownSymbolError) Error() string {
	return fmt.Sprintf("%v %q at byte offset %d (vocabulary is corrupt)", ErrUnknownSymbol, e.Symbol, e.Offset)
}

func (e *UnknownSymbolError) Unwrap() error { return ErrUnknownSymbol }

// DecodeError reports the first id or byte that could not be decoded.
// Position is the index in the id sequence; Offset is the byte offset in the
// reconstructed output, or -1 when not applicable. Err, when set, is the
// underlying cause such as bytelevel.ErrUnmappable.
type DecodeError struct {
	ID       int
	Position int
	Offset   int
	Reason   string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%v: %s (id %d at position %d, byte offset %d)", ErrDecode, e.Reason, e.ID, e.Position, e.Offset)
	}

	return fmt.Sprintf("%v: %s (id %d at position %d)", ErrDecode, e.Reason, e.ID, e.Position)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecode, e.Err}
	}

	return []error{ErrDecode}
}
