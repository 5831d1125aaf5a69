package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(NotFound, "repository 'billing' not found", cause)

	if err.Code != NotFound {
		t.Errorf("Code = %v, want %v", err.Code, NotFound)
	}
	if err.Message != "repository 'billing' not found" {
		t.Errorf("Message = %q", err.Message)
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      StorageError,
			message:   "snapshot save failed",
			cause:     errors.New("disk full"),
			wantParts: []string{"STORAGE_ERROR", "snapshot save failed", "disk full"},
		},
		{
			name:      "without cause",
			code:      ValidationError,
			message:   "dangling edge",
			cause:     nil,
			wantParts: []string{"VALIDATION_ERROR", "dangling edge"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(InternalError, "something went wrong", cause)
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}

	if Newf(ConfigurationError, "budget %d", 0).Unwrap() != nil {
		t.Error("Unwrap() on error without cause should return nil")
	}
}

func TestIs(t *testing.T) {
	base := Newf(NotFound, "repo %q", "orders")
	wrapped := fmt.Errorf("remove failed: %w", base)

	if !Is(wrapped, NotFound) {
		t.Error("Is should see the code through fmt wrapping")
	}
	if Is(wrapped, ValidationError) {
		t.Error("Is should not match a different code")
	}
	if Is(nil, NotFound) {
		t.Error("Is(nil) should be false")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf on a plain error should be empty")
	}
}

func TestWithDetails(t *testing.T) {
	err := Newf(ValidationError, "bad edge").WithDetails(map[string]string{"edge": "a->b"})
	if err.Details == nil {
		t.Error("Details should be set")
	}
}

func TestGetSuggestedFixes(t *testing.T) {
	if len(GetSuggestedFixes(ProviderUnavailable)) == 0 {
		t.Error("ProviderUnavailable should suggest a fix")
	}
	if GetSuggestedFixes(PartialResult) != nil {
		t.Error("PartialResult should have no suggested fixes")
	}
}
