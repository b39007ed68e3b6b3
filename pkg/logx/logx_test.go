package logx

import (
	"errors"
	"testing"
)

func TestDebugDomainFiltering(t *testing.T) {
	SetDebugConfig(true, []string{"memory", "llm"})
	defer SetDebugConfig(false, nil)

	if !IsDebugEnabledForDomain("memory") {
		t.Error("memory domain should be enabled")
	}
	if !IsDebugEnabledForDomain("llm") {
		t.Error("llm domain should be enabled")
	}
	if IsDebugEnabledForDomain("coordinator") {
		t.Error("coordinator domain should be filtered out")
	}
}

func TestDebugAllDomainsWhenUnfiltered(t *testing.T) {
	SetDebugConfig(true, nil)
	defer SetDebugConfig(false, nil)

	if !IsDebugEnabledForDomain("anything") {
		t.Error("all domains should be enabled when no filter is set")
	}
}

func TestDebugDisabled(t *testing.T) {
	SetDebugConfig(false, nil)

	if IsDebugEnabled() {
		t.Error("debug should be disabled")
	}
	if IsDebugEnabledForDomain("memory") {
		t.Error("no domain should be enabled when debug is off")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(cause, "persist learnings")

	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error should unwrap to the cause")
	}
	if wrapped.Error() != "persist learnings: disk full" {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "anything") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWithComponent(t *testing.T) {
	base := NewLogger("workflow")
	derived := base.WithComponent("workflow.synthesis")

	if derived.GetComponent() != "workflow.synthesis" {
		t.Errorf("unexpected component: %s", derived.GetComponent())
	}
	if base.GetComponent() != "workflow" {
		t.Error("deriving a logger must not mutate the original")
	}
}
