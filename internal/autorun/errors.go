package autorun

import (
	"errors"
	"fmt"
)

// Code identifies why a start, a restore or a run was refused.
type Code string

const (
	CodeAlreadyRunning Code = "ALREADY_RUNNING"
	CodeNotRunning     Code = "NOT_RUNNING"
	CodeEventInactive  Code = "EVENT_INACTIVE"
	CodeKindDisabled   Code = "KIND_DISABLED"
	CodeNoPrerequisite Code = "NO_PREREQUISITE_ITEM"
	CodeStorageFull    Code = "STORAGE_FULL"

	CodeAccountNotFound      Code = "ACCOUNT_NOT_FOUND"
	CodeLevelNotReached      Code = "LEVEL_NOT_REACHED"
	CodeInsufficientCurrency Code = "INSUFFICIENT_CURRENCY"
	CodeCheckFailed          Code = "CHECK_FAILED"
)

// Permanent reports whether a restore failing with c can never succeed
// without outside change, so its checkpoint is dropped. The window codes are
// not permanent by themselves: the restorer drops them only once the kind's
// window has closed.
func (c Code) Permanent() bool {
	switch c {
	case CodeAccountNotFound, CodeLevelNotReached, CodeNoPrerequisite:
		return true
	}
	return false
}

// Rejection is a refused operation. Rejections compare equal under
// errors.Is when their codes match, so the sentinels below match any kind.
type Rejection struct {
	Kind Kind
	Code Code
	Err  error
}

var (
	ErrAlreadyRunning = &Rejection{Code: CodeAlreadyRunning}
	ErrNotRunning     = &Rejection{Code: CodeNotRunning}
	ErrEventInactive  = &Rejection{Code: CodeEventInactive}
	ErrNoPrerequisite = &Rejection{Code: CodeNoPrerequisite}
	ErrStorageFull    = &Rejection{Code: CodeStorageFull}
)

func reject(kind Kind, code Code) *Rejection { return &Rejection{Kind: kind, Code: code} }

func (r *Rejection) Error() string {
	msg := string(r.Code)
	if r.Kind != "" {
		msg = string(r.Kind) + ": " + msg
	}
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}

func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Code == r.Code
}

func (r *Rejection) Unwrap() error { return r.Err }

// CodeOf extracts the rejection code from err, or "" if err is not a Rejection.
func CodeOf(err error) Code {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Code
	}
	return ""
}

// StopReason records why a run ended.
type StopReason string

const (
	StopUser        StopReason = "USER"
	StopRollFailed  StopReason = "ROLL_FAILED"
	StopEventEnded  StopReason = "EVENT_ENDED"
	StopDisabled    StopReason = "KIND_DISABLED"
	StopStorageFull StopReason = "STORAGE_FULL"
	StopTickPanic   StopReason = "TICK_PANIC"
)

func inactiveCode(kind Kind) Code {
	if kind == KindEvent {
		return CodeEventInactive
	}
	return CodeKindDisabled
}

// inactiveReason is the stop reason for a run whose kind stopped accepting
// runs mid-run.
func inactiveReason(kind Kind) StopReason {
	if kind == KindEvent {
		return StopEventEnded
	}
	return StopDisabled
}

func errTickPanic(v any) error { return fmt.Errorf("tick panic: %v", v) }
