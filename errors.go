package tftp

import (
	"errors"
	"fmt"
)

// Status is the user-facing outcome of a transfer (spec §3, §6).
// Status{0, ""} means success; a non-zero Code carries a
// server-reported protocol error, and Code==0 with a non-empty
// Message reports a local condition (currently only "Timed out").
type Status struct {
	Code    ErrorCode
	Message string
}

// OK reports whether the status represents a successful transfer.
func (s Status) OK() bool { return s.Code == 0 && s.Message == "" }

func (s Status) String() string {
	if s.OK() {
		return "OK"
	}
	if s.Code == 0 {
		return s.Message
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

// ErrNotEnoughMemory and ErrStateNotRecoverable are the two outcomes
// of the completion orchestrator's fault barrier (spec §4.H, §7),
// named after the original's std::errc mappings
// (original_source/include/tftp/impl/tftp_impl.hpp, detail::try_with).
var (
	ErrNotEnoughMemory     = errors.New("tftp: not enough memory")
	ErrStateNotRecoverable = errors.New("tftp: state not recoverable")
)

// wrapError annotates err with a short description, the way the
// teacher's conn.go calls wrapError(err, "writing request to network")
// throughout its state machine. A nil err wraps to nil so call sites
// can use it unconditionally.
func wrapError(err error, desc string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", desc, err)
}
