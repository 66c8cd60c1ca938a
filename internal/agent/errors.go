package agent

import "errors"

var (
	// ErrConcurrentTurn rejects a second ProcessInput on a session before the
	// first returns.
	ErrConcurrentTurn = errors.New("concurrent turn rejected")

	// ErrIterationLimit terminates a runaway model-tool loop.
	ErrIterationLimit = errors.New("iteration_limit_reached")

	// ErrContextOverflow reports a prompt too large even after handoff.
	ErrContextOverflow = errors.New("context overflow: prompt exceeds model context window after handoff")
)

// ModelCallError wraps a model failure that survived the retry budget.
type ModelCallError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ModelCallError) Error() string {
	return "model call failed (" + e.Provider + "/" + e.Model + "): " + e.Err.Error()
}

func (e *ModelCallError) Unwrap() error { return e.Err }
