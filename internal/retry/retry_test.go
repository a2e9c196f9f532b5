package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_DelayUncapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 3}
	if got := p.Delay(3); got != 9*time.Second {
		t.Errorf("Delay(3) = %v, want 9s", got)
	}
}

func TestNewPolicy(t *testing.T) {
	fallback := models.Backoff{BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute}

	tests := []struct {
		name string
		desc models.TaskDescriptor
		want Policy
	}{
		{
			name: "zero backoff uses fallback",
			desc: models.TaskDescriptor{ID: "a", MaxRetries: 2},
			want: Policy{MaxRetries: 2, BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute},
		},
		{
			name: "task backoff wins",
			desc: models.TaskDescriptor{ID: "a", Backoff: models.Backoff{BaseDelay: time.Millisecond, Multiplier: 3, MaxDelay: time.Second}},
			want: Policy{BaseDelay: time.Millisecond, Multiplier: 3, MaxDelay: time.Second},
		},
		{
			name: "only multiplier set",
			desc: models.TaskDescriptor{ID: "a", Backoff: models.Backoff{Multiplier: 3}},
			want: Policy{BaseDelay: time.Second, Multiplier: 3, MaxDelay: time.Minute},
		},
		{
			name: "only base delay set",
			desc: models.TaskDescriptor{ID: "a", Backoff: models.Backoff{BaseDelay: time.Millisecond}},
			want: Policy{BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Minute},
		},
		{
			name: "only max delay set",
			desc: models.TaskDescriptor{ID: "a", Backoff: models.Backoff{MaxDelay: 5 * time.Second}},
			want: Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewPolicy(tt.desc, fallback); got != tt.want {
				t.Errorf("NewPolicy() = %+v, want %+v", got, tt.want)
			}
		})
	}

	p := NewPolicy(models.TaskDescriptor{ID: "a", Backoff: models.Backoff{Multiplier: 3}}, fallback)
	if p.Delay(1) != time.Second || p.Delay(2) != 3*time.Second {
		t.Errorf("partial backoff delays = %v, %v, want 1s, 3s", p.Delay(1), p.Delay(2))
	}

	uncapped := NewPolicy(models.TaskDescriptor{ID: "a", Backoff: models.Backoff{BaseDelay: time.Second}}, models.Backoff{Multiplier: 2})
	if uncapped.MaxDelay != 0 {
		t.Errorf("MaxDelay = %v, want uncapped when no default cap is set", uncapped.MaxDelay)
	}
}

func TestHandler_RetriesUntilExhausted(t *testing.T) {
	h := NewHandler()
	p := Policy{MaxRetries: 2, BaseDelay: 10 * time.Millisecond, Multiplier: 2}

	want := []Outcome{
		{Decision: Retry, Attempt: 1, Delay: 10 * time.Millisecond},
		{Decision: Retry, Attempt: 2, Delay: 20 * time.Millisecond},
		{Decision: Exhausted, Attempt: 3},
	}
	for i, w := range want {
		got := h.HandleFailure("a", p, models.ErrorKindTransient, "flaky")
		if got != w {
			t.Errorf("failure %d: HandleFailure() = %+v, want %+v", i+1, got, w)
		}
	}
	if h.Attempts("a") != 3 {
		t.Errorf("Attempts() = %d, want 3", h.Attempts("a"))
	}
}

func TestHandler_ShortCircuit(t *testing.T) {
	tests := []struct {
		kind models.ErrorKind
		want Decision
	}{
		{models.ErrorKindPermanent, ShortCircuit},
		{models.ErrorKindValidation, ShortCircuit},
		{models.ErrorKindTimeout, Retry},
		{models.ErrorKindTransient, Retry},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			h := NewHandler()
			got := h.HandleFailure("a", Policy{MaxRetries: 5}, tt.kind, "x")
			if got.Decision != tt.want {
				t.Errorf("Decision = %s, want %s", got.Decision, tt.want)
			}
		})
	}
}

func TestHandler_ZeroRetries(t *testing.T) {
	h := NewHandler()
	if got := h.HandleFailure("a", Policy{}, models.ErrorKindTransient, "x"); got.Decision != Exhausted {
		t.Errorf("Decision = %s, want exhausted", got.Decision)
	}
}

func TestHandler_Summary(t *testing.T) {
	h := NewHandler()
	p := Policy{MaxRetries: 3}
	h.HandleFailure("a", p, models.ErrorKindTransient, "first")
	h.HandleFailure("a", p, models.ErrorKindTransient, "first")
	h.HandleFailure("a", p, models.ErrorKindTransient, "second")

	sum := h.Summary("a")
	for _, want := range []string{"3 attempts", "2 unique errors", "Latest error: second"} {
		if !strings.Contains(sum, want) {
			t.Errorf("Summary() = %q, missing %q", sum, want)
		}
	}

	if got := Summarize("b", 0, nil); !strings.Contains(got, "Latest error: (no error recorded)") {
		t.Errorf("Summarize() = %q", got)
	}
}

func TestDecision_String(t *testing.T) {
	if Retry.String() != "retry" || Exhausted.String() != "exhausted" || ShortCircuit.String() != "short_circuit" {
		t.Error("unexpected decision names")
	}
	if Decision(42).String() != "unknown" {
		t.Error("unknown decision should print unknown")
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly on cancel")
	}
}
