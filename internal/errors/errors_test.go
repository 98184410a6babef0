package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewUsesRegisteredMessage(t *testing.T) {
	err := New(CodeNotFound, "")
	if err.Message() != "resource not found" {
		t.Fatalf("message = %q", err.Message())
	}
	if err.Error() != "[NOT_FOUND] resource not found" {
		t.Fatalf("rendered = %q", err.Error())
	}

	custom := New(CodeNotFound, "run missing")
	if custom.Message() != "run missing" {
		t.Fatalf("custom message = %q", custom.Message())
	}
}

func TestWrapPreservesChain(t *testing.T) {
	cause := stdErrors.New("disk full")
	err := Wrap(CodeStorageFailure, cause, "record run")
	if !stdErrors.Is(err, cause) {
		t.Fatal("wrapped cause must survive errors.Is")
	}
	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("code = %s", CodeOf(err))
	}

	// Wrapping through fmt keeps the unified error reachable.
	outer := fmt.Errorf("submit: %w", err)
	if CodeOf(outer) != CodeStorageFailure {
		t.Fatalf("code through fmt = %s", CodeOf(outer))
	}
}

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeConflict, "")
	err := Wrap(CodeConflict, stdErrors.New("dup"), "extension already installed")
	if !stdErrors.Is(err, sentinel) {
		t.Fatal("errors with the same code must match")
	}
	if stdErrors.Is(err, New(CodeNotFound, "")) {
		t.Fatal("different codes must not match")
	}
}

func TestRegisterAndAttributes(t *testing.T) {
	const code Code = "TEST_EXOTIC"
	Register(code, Attributes{Message: "exotic", Severity: SeverityCritical, Alert: true})

	if AttributesOf(code).Message != "exotic" {
		t.Fatal("registered attributes not returned")
	}
	if !ShouldAlert(New(code, "")) {
		t.Fatal("alerting code must alert")
	}
	if SeverityOf(New(code, "")) != SeverityCritical {
		t.Fatal("registered severity must apply")
	}

	if AttributesOf("NEVER_REGISTERED").Message != "unknown error" {
		t.Fatal("unregistered code must fall back to UNKNOWN")
	}
}

func TestSeverityOverride(t *testing.T) {
	err := New(CodeInvalidArgument, "", WithSeverity(SeverityCritical))
	if err.Severity() != SeverityCritical {
		t.Fatalf("severity = %s", err.Severity())
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(CodeInvalidArgument, "", WithMetadata("field", "amount"))
	meta := err.Metadata()
	if meta["field"] != "amount" {
		t.Fatalf("metadata = %v", meta)
	}
	meta["field"] = "tampered"
	if err.Metadata()["field"] != "amount" {
		t.Fatal("metadata must be returned by copy")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors must map to UNKNOWN")
	}
	if ShouldAlert(stdErrors.New("plain")) {
		t.Fatal("plain errors must not alert")
	}
}
