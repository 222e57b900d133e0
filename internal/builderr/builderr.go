// Package builderr defines the tagged error taxonomy shared by all pipeline
// stages. Every stage failure is terminal for the current run; the kind
// sentinel lets callers decide presentation without string matching.
package builderr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrToolchainNotFound     = errors.New("toolchain not found")
	ErrComputeToolkitMissing = errors.New("compute toolkit missing")
	ErrPrerequisiteMissing   = errors.New("prerequisite package missing")
	ErrWorkspaceIO           = errors.New("workspace io error")
	ErrNetwork               = errors.New("network error")
	ErrArchiveLayout         = errors.New("unexpected archive layout")
	ErrBuildProcess          = errors.New("build process failed")
	ErrArtifactNotProduced   = errors.New("artifact not produced")
	ErrArtifactAmbiguous     = errors.New("multiple artifacts produced")
	ErrInstallFailed         = errors.New("install failed")
)

// Error wraps a stage failure with its taxonomy kind. Unwrap returns the
// kind sentinel so errors.Is(err, ErrNetwork) works across stage boundaries;
// the underlying cause, when present, is folded into the message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// New builds a tagged error from a kind sentinel and a formatted message.
func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags cause with kind, preserving the cause text in the message.
func Wrap(kind error, cause error, context string) error {
	if cause == nil {
		return nil
	}
	if context == "" {
		return &Error{Kind: kind, Msg: cause.Error()}
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf("%s: %s", context, cause.Error())}
}

// BuildFailure carries the diagnostics a failed build subprocess leaves
// behind: the exit code and a bounded tail of its combined output.
type BuildFailure struct {
	ExitCode int
	Tail     []string
}

func (e *BuildFailure) Error() string {
	msg := fmt.Sprintf("%s: exit code %d", ErrBuildProcess.Error(), e.ExitCode)
	if len(e.Tail) > 0 {
		msg += "\n" + strings.Join(e.Tail, "\n")
	}
	return msg
}

func (e *BuildFailure) Unwrap() error { return ErrBuildProcess }

// StatusError carries the HTTP status of a failed download.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: GET %s returned status %d", ErrNetwork.Error(), e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrNetwork }
