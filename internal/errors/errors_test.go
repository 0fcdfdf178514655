package errors

import (
	"fmt"
	"testing"
)

func TestStashError_Error(t *testing.T) {
	err := &StashError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "capture not found",
	}

	expected := "NOT_FOUND: capture not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("id is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "id is required" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("01HZX")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Details["identifier"] != "01HZX" {
		t.Errorf("Details[identifier] = %v, want 01HZX", err.Details["identifier"])
	}
}

func TestNewFileNotFound(t *testing.T) {
	err := NewFileNotFound("/tmp/missing.db")

	if err.Code != ErrFileNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrFileNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
}

func TestNewInvalidTransition(t *testing.T) {
	err := NewInvalidTransition("01HZX", "exported", "staged")

	if err.Code != ErrInvalidTransition {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidTransition)
	}
	if err.Details["from"] != "exported" || err.Details["to"] != "staged" {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestNewPruningHalted(t *testing.T) {
	err := NewPruningHalted("HALT_PRUNING", 4)

	if err.Code != ErrPruningHalted {
		t.Errorf("Code = %q, want %q", err.Code, ErrPruningHalted)
	}
	if err.Details["consecutive_failures"] != 4 {
		t.Errorf("Details[consecutive_failures] = %v, want 4", err.Details["consecutive_failures"])
	}
}

func TestNewInternal(t *testing.T) {
	err := NewInternal(fmt.Errorf("disk full"))
	if err.Message != "disk full" {
		t.Errorf("Message = %q, want %q", err.Message, "disk full")
	}

	err = NewInternal(nil)
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", NewConflict("x"), ErrConflict, true},
		{"different code", NewConflict("x"), ErrNotFound, false},
		{"plain error", fmt.Errorf("boom"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}
