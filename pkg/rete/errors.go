package rete

import (
	"errors"
	"fmt"
)

var (
	// ErrInconsistent marks a fatal internal consistency violation, including evaluator
	// failures. A network that returned it cannot continue.
	ErrInconsistent = errors.New("internal consistency violation")

	// ErrMisuse marks a network shape or call sequence that is not supported. It is reported
	// when the offending call is made and leaves the network unchanged.
	ErrMisuse = errors.New("invalid use of network")

	// ErrNetworkFailed is returned by every mutating call after a fatal error.
	ErrNetworkFailed = errors.New("network failed")

	// ErrUnknownNode is returned for node ids or names that do not resolve to a live node.
	ErrUnknownNode = errors.New("unknown node")
)

type ErrConsistency = error

func NewConsistencyError(node string, err error) ErrConsistency {
	if errors.Is(err, ErrInconsistent) {
		return fmt.Errorf("node %q: %w", node, err)
	}
	return fmt.Errorf("node %q: %w: %w", node, ErrInconsistent, err)
}

type ErrEvaluator = error

func NewEvaluatorError(node, evaluator string, err error) ErrEvaluator {
	return fmt.Errorf("evaluator %q failed at node %q: %w: %w", evaluator, node, ErrInconsistent, err)
}

type ErrInvalidUse = error

func NewMisuseError(format string, args ...any) ErrInvalidUse {
	return fmt.Errorf("%w: %s", ErrMisuse, fmt.Sprintf(format, args...))
}

func newUnknownNodeError(ref any) error {
	return fmt.Errorf("%w: %v", ErrUnknownNode, ref)
}

// recoverEvaluator converts a panic raised by user code into an evaluator error.
func recoverEvaluator(node, evaluator string, err *error) {
	if r := recover(); r != nil {
		*err = NewEvaluatorError(node, evaluator, fmt.Errorf("panic: %v", r))
	}
}
