package extract

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoMediaInfo indicates a strategy ran but produced no usable metadata
	ErrNoMediaInfo = errors.New("no_media_info")
)

// StrategyFailure records one failed attempt within a chain run.
type StrategyFailure struct {
	Strategy string
	Err      error
}

// ExtractionError aggregates the failure of every strategy in declared order.
type ExtractionError struct {
	Causes []StrategyFailure
}

func (e *ExtractionError) Error() string {
	var sb strings.Builder
	sb.WriteString("all extraction strategies failed")
	for _, c := range e.Causes {
		sb.WriteString(fmt.Sprintf("; %s: %v", c.Strategy, c.Err))
	}
	return sb.String()
}

// Unwrap exposes the individual causes to errors.Is/As.
func (e *ExtractionError) Unwrap() []error {
	out := make([]error, len(e.Causes))
	for i, c := range e.Causes {
		out[i] = c.Err
	}
	return out
}
