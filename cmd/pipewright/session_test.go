package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/pipewright/internal/orchestrator"
)

// scriptedTerminal types the next queued answer into w each time the
// intervention question is printed. An empty answer types nothing.
type scriptedTerminal struct {
	mu      sync.Mutex
	w       io.Writer
	answers []string
}

func (s *scriptedTerminal) Write(p []byte) (int, error) {
	if !strings.Contains(string(p), "[a]bort the run?") {
		return len(p), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.answers) == 0 {
		return len(p), nil
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	if answer != "" {
		go io.WriteString(s.w, answer)
	}
	return len(p), nil
}

func TestPromptIntervention_AnswerAfterTimedOutPrompt(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	term := &scriptedTerminal{w: pw, answers: []string{"", "c\n"}}
	ask := promptIntervention(pr, term)
	req := orchestrator.InterventionRequest{TaskID: "deploy", Summary: "deploy failed"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	decision, err := ask(ctx, req)
	cancel()
	if decision != orchestrator.InterventionAbort || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("first prompt = %v, %v, want abort on deadline", decision, err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	decision, err = ask(ctx, req)
	if err != nil {
		t.Fatalf("second prompt: %v", err)
	}
	if decision != orchestrator.InterventionContinue {
		t.Errorf("second prompt = %v, want continue", decision)
	}
}

func TestPromptIntervention_Answers(t *testing.T) {
	ask := promptIntervention(strings.NewReader("continue\nx\n"), io.Discard)
	req := orchestrator.InterventionRequest{TaskID: "deploy"}

	want := []orchestrator.InterventionDecision{
		orchestrator.InterventionContinue,
		orchestrator.InterventionAbort,
		orchestrator.InterventionAbort, // stdin exhausted
	}
	for i, w := range want {
		got, err := ask(context.Background(), req)
		if err != nil {
			t.Fatalf("prompt %d: %v", i+1, err)
		}
		if got != w {
			t.Errorf("prompt %d = %v, want %v", i+1, got, w)
		}
	}
}
