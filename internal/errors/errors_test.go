package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeNotFound,
				Message: "checkpoint not found",
			},
			want: "checkpoint not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeInternal,
				Message: "append run record",
				Cause:   errors.New("connection reset"),
			},
			want: "append run record: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &AppError{
		Code:    ErrCodeInternal,
		Message: "wrapped error",
		Cause:   cause,
	}

	if unwrapped := err.Unwrap(); !errors.Is(unwrapped, cause) {
		t.Errorf("AppError.Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code ErrorCode
		msg  string
	}{
		{"not found", NotFound("lease not found"), ErrCodeNotFound, "lease not found"},
		{"validation", Validation("job name is required"), ErrCodeValidation, "job name is required"},
		{"configuration", Configuration("missing credentials"), ErrCodeConfiguration, "missing credentials"},
		{"configurationf", Configurationf("missing %s token", "netsuite"), ErrCodeConfiguration, "missing netsuite token"},
		{"internal", Internal("unexpected state"), ErrCodeInternal, "unexpected state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.Message != tt.msg {
				t.Errorf("Message = %v, want %v", tt.err.Message, tt.msg)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeTimeout, "query timed out")

	if err.Code != ErrCodeTimeout {
		t.Errorf("Wrap().Code = %v, want %v", err.Code, ErrCodeTimeout)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Wrap() does not unwrap to its cause")
	}
}

func TestWrap_NilError(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "wrapped error"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		pred func(error) bool
		err  error
		want bool
	}{
		{"not found hit", IsNotFound, NotFound("gone"), true},
		{"not found wrapped", IsNotFound, fmt.Errorf("get lease: %w", NotFound("gone")), true},
		{"not found miss", IsNotFound, Validation("bad"), false},
		{"foreign key hit", IsForeignKey, &AppError{Code: ErrCodeForeignKey, Message: "parent missing"}, true},
		{"foreign key miss", IsForeignKey, NotFound("gone"), false},
		{"configuration hit", IsConfiguration, Configuration("no token"), true},
		{"configuration miss", IsConfiguration, Internal("boom"), false},
		{"standard error", IsNotFound, errors.New("standard error"), false},
		{"nil error", IsConfiguration, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.err); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"app error", NotFound("not found"), ErrCodeNotFound},
		{"wrapped app error", fmt.Errorf("load: %w", Configuration("no token")), ErrCodeConfiguration},
		{"standard error", errors.New("standard error"), ""},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}
