package task

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"nil", nil, ""},
		{"validation", Invalid("a", "missing field"), models.ErrorKindValidation},
		{"wrapped validation", fmt.Errorf("outer: %w", Invalid("a", "x")), models.ErrorKindValidation},
		{"tagged transient", Transientf("boom"), models.ErrorKindTransient},
		{"tagged permanent beats message", Permanentf("connection refused"), models.ErrorKindPermanent},
		{"tagged timeout", Timeout(errors.New("slow")), models.ErrorKindTimeout},
		{"deadline exceeded", fmt.Errorf("call: %w", context.DeadlineExceeded), models.ErrorKindTimeout},
		{"cancelled", context.Canceled, models.ErrorKindPermanent},
		{"rate limit message", errors.New("Rate limit exceeded"), models.ErrorKindTransient},
		{"service unavailable", errors.New("503 Service Unavailable"), models.ErrorKindTransient},
		{"temporary failure", errors.New("temporary failure in name resolution"), models.ErrorKindTransient},
		{"temporarily", errors.New("resource temporarily exhausted"), models.ErrorKindTransient},
		{"quota", errors.New("quota exceeded for project"), models.ErrorKindTransient},
		{"plain error", errors.New("invalid syntax"), models.ErrorKindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Transient(nil) != nil || Permanent(nil) != nil || Timeout(nil) != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("root cause")
	err := Transient(base)
	if !errors.Is(err, base) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if err.Error() != "root cause" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestInput_CopiesValues(t *testing.T) {
	deps := map[string]models.Value{"a": models.List(models.Int(1))}
	globals := map[string]models.Value{"env": models.String("prod")}

	in := NewInput("run", "b", deps, globals, []string{"opt"})
	deps["a"] = models.Null()
	globals["env"] = models.Null()

	if v, ok := in.Dependency("a"); !ok || v.Kind() != models.KindList {
		t.Errorf("Dependency(a) = %v, %v", v, ok)
	}
	if v, ok := in.Global("env"); !ok || !v.Equal(models.String("prod")) {
		t.Errorf("Global(env) = %v, %v", v, ok)
	}
	if !in.Missing("opt") || in.Missing("a") {
		t.Error("Missing() mismatch")
	}

	retry := in.WithAttempt(2, true)
	if retry.Attempt != 2 || !retry.Relaxed || in.Attempt != 0 {
		t.Errorf("WithAttempt changed the original: %+v", in)
	}
}

func TestFuncs(t *testing.T) {
	f := &Funcs{
		Run: func(ctx context.Context, in *Input) (any, error) {
			return map[string]any{"n": 1}, nil
		},
	}

	if HasFallback(f) {
		t.Error("HasFallback() = true without a fallback func")
	}
	if err := f.ValidateInput(&Input{}); err != nil {
		t.Errorf("ValidateInput() error = %v", err)
	}

	raw, err := f.Execute(context.Background(), &Input{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	v, err := f.FormatOutput(raw)
	if err != nil {
		t.Fatalf("FormatOutput() error = %v", err)
	}
	if got, _ := v.Field("n"); !got.Equal(models.Int(1)) {
		t.Errorf("FormatOutput() = %s", v)
	}

	if _, err := f.ExecuteFallback(context.Background(), &Input{TaskID: "x"}); KindOf(err) != models.ErrorKindPermanent {
		t.Errorf("ExecuteFallback() without func error = %v, want permanent", err)
	}

	f.Fallback = func(ctx context.Context, in *Input) (any, error) { return "ok", nil }
	if !HasFallback(f) {
		t.Error("HasFallback() = false with a fallback func")
	}
}
