package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name        string
		msg         string
		wantSeconds int
		wantOK      bool
	}{
		{"Plain", "RETRY-AFTER: 3", 3, true},
		{"Lowercase", "retry-after: 12", 12, true},
		{"Mixed case", "Retry-After: 7", 7, true},
		{"Embedded in diagnostic", "rpc error: code 429, quota exceeded. RETRY-AFTER: 45 (per-minute)", 45, true},
		{"No space after colon", "RETRY-AFTER:9", 9, true},
		{"Missing", "rate limit exceeded, try later", 0, false},
		{"No number", "RETRY-AFTER: soon", 0, false},
		{"Negative rejected", "RETRY-AFTER: -5", 0, false},
		{"Empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.msg)
			if ok != tt.wantOK || got != tt.wantSeconds {
				t.Errorf("ParseRetryAfter(%q) = (%d, %v), want (%d, %v)", tt.msg, got, ok, tt.wantSeconds, tt.wantOK)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Nil", nil, false},
		{"HTTP status", errors.New("googleapi: Error 429: quota exceeded"), true},
		{"Phrase", errors.New("Rate Limit reached for model"), true},
		{"Grpc code", errors.New("rpc error: code = ResourceExhausted desc = RESOURCE_EXHAUSTED"), true},
		{"Unrelated", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimited(tt.err); got != tt.want {
				t.Errorf("IsRateLimited(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// scriptedAsk returns a different result for each successive attempt,
// recording the questions it was asked.
type scriptedAsk struct {
	results   []askResult
	questions []string
}

type askResult struct {
	fragments []string
	callErr   error
	streamErr error // delivered through the iterator after the fragments
}

func (s *scriptedAsk) ask(_ context.Context, question string) (iter.Seq2[string, error], error) {
	s.questions = append(s.questions, question)
	if len(s.results) == 0 {
		return nil, errors.New("no scripted result available")
	}
	res := s.results[0]
	s.results = s.results[1:]

	if res.callErr != nil {
		return nil, res.callErr
	}
	return func(yield func(string, error) bool) {
		for _, f := range res.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if res.streamErr != nil {
			yield("", res.streamErr)
		}
	}, nil
}

// recordingWriter captures each Write call separately so streaming
// granularity can be asserted.
type recordingWriter struct {
	writes []string
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, string(p))
	return len(p), nil
}

func testPolicy(slept *[]time.Duration) *Policy {
	return &Policy{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep: func(d time.Duration) {
			*slept = append(*slept, d)
		},
	}
}

func TestAskStreamsFragments(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	asker := &scriptedAsk{results: []askResult{
		{fragments: []string{"El", " Niño", " is..."}},
	}}
	out := &recordingWriter{}

	outcome, answer, err := p.Ask(context.Background(), "what is el niño", asker.ask, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Succeeded {
		t.Fatalf("outcome = %v, want Succeeded", outcome)
	}
	if answer != "El Niño is..." {
		t.Errorf("answer = %q, want %q", answer, "El Niño is...")
	}
	if len(out.writes) != 3 {
		t.Errorf("writes = %d, want 3 (one per fragment)", len(out.writes))
	}
	if len(slept) != 0 {
		t.Errorf("slept %v, want no sleeps on success", slept)
	}
	if len(asker.questions) != 1 {
		t.Errorf("attempts = %d, want 1", len(asker.questions))
	}
}

func TestAskRetriesAfterRateLimitWithDelay(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	asker := &scriptedAsk{results: []askResult{
		{callErr: errors.New("googleapi: Error 429: quota exceeded. RETRY-AFTER: 3")},
		{fragments: []string{"warm phase of ENSO"}},
	}}
	out := &recordingWriter{}

	outcome, answer, err := p.Ask(context.Background(), "define el niño", asker.ask, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Succeeded {
		t.Fatalf("outcome = %v, want Succeeded", outcome)
	}
	if answer != "warm phase of ENSO" {
		t.Errorf("answer = %q", answer)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Errorf("slept %v, want exactly [3s]", slept)
	}
	if len(asker.questions) != 2 {
		t.Fatalf("attempts = %d, want 2", len(asker.questions))
	}
	if asker.questions[0] != asker.questions[1] {
		t.Errorf("retried question %q differs from original %q", asker.questions[1], asker.questions[0])
	}
}

func TestAskAbandonsRateLimitWithoutDelay(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	asker := &scriptedAsk{results: []askResult{
		{callErr: errors.New("googleapi: Error 429: quota exceeded, no hint")},
	}}

	outcome, _, err := p.Ask(context.Background(), "q", asker.ask, io.Discard)
	if outcome != AbandonedRateLimit {
		t.Fatalf("outcome = %v, want AbandonedRateLimit", outcome)
	}
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if len(slept) != 0 {
		t.Errorf("slept %v, want no wait", slept)
	}
	if len(asker.questions) != 1 {
		t.Errorf("attempts = %d, want 1 (no retry)", len(asker.questions))
	}
}

func TestAskAbandonsEmptyStream(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	asker := &scriptedAsk{results: []askResult{
		{fragments: nil},
	}}

	outcome, answer, err := p.Ask(context.Background(), "q", asker.ask, io.Discard)
	if outcome != AbandonedNoResponse {
		t.Fatalf("outcome = %v, want AbandonedNoResponse", outcome)
	}
	if answer != "" {
		t.Errorf("answer = %q, want empty", answer)
	}
	if err == nil || !strings.Contains(err.Error(), "no response") {
		t.Errorf("err = %v, want no-response error", err)
	}
	if len(asker.questions) != 1 {
		t.Errorf("attempts = %d, want 1 (empty stream is not retried)", len(asker.questions))
	}
	if len(slept) != 0 {
		t.Errorf("slept %v, want no wait", slept)
	}
}

func TestAskAbandonsOtherFailure(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	boom := errors.New("connection reset by peer")
	asker := &scriptedAsk{results: []askResult{{callErr: boom}}}

	outcome, _, err := p.Ask(context.Background(), "q", asker.ask, io.Discard)
	if outcome != AbandonedOther {
		t.Fatalf("outcome = %v, want AbandonedOther", outcome)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want original failure", err)
	}
}

func TestAskRetriesOnMidStreamRateLimit(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	asker := &scriptedAsk{results: []askResult{
		{fragments: []string{"partial"}, streamErr: errors.New("429 rate limit. RETRY-AFTER: 1")},
		{fragments: []string{"complete answer"}},
	}}

	outcome, answer, err := p.Ask(context.Background(), "q", asker.ask, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Succeeded {
		t.Fatalf("outcome = %v, want Succeeded", outcome)
	}
	// The answer buffer restarts with the fresh attempt.
	if answer != "complete answer" {
		t.Errorf("answer = %q, want %q", answer, "complete answer")
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Errorf("slept %v, want [1s]", slept)
	}
}

func TestAskStopsWaitingWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Policy{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep:  func(time.Duration) { cancel() },
	}

	asker := &scriptedAsk{results: []askResult{
		{callErr: errors.New("googleapi: Error 429: quota exceeded. RETRY-AFTER: 30")},
		{fragments: []string{"must not be reached"}},
	}}

	outcome, _, err := p.Ask(ctx, "q", asker.ask, io.Discard)
	if outcome != AbandonedOther {
		t.Fatalf("outcome = %v, want AbandonedOther", outcome)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(asker.questions) != 1 {
		t.Errorf("attempts = %d, want 1 (no retry after cancellation)", len(asker.questions))
	}
}

func TestWaitReturnsEarlyOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Policy{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	start := time.Now()
	err := p.wait(ctx, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("wait = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("wait blocked %v despite cancelled context", elapsed)
	}
}

func TestAskHonorsMaxAttempts(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)
	p.MaxAttempts = 3

	rateLimited := askResult{callErr: fmt.Errorf("429 rate limit. RETRY-AFTER: 1")}
	asker := &scriptedAsk{results: []askResult{rateLimited, rateLimited, rateLimited, rateLimited}}

	outcome, _, err := p.Ask(context.Background(), "q", asker.ask, io.Discard)
	if outcome != AbandonedRateLimit {
		t.Fatalf("outcome = %v, want AbandonedRateLimit", outcome)
	}
	if err == nil || !strings.Contains(err.Error(), "retry budget") {
		t.Errorf("err = %v, want retry budget error", err)
	}
	if len(asker.questions) != 3 {
		t.Errorf("attempts = %d, want 3", len(asker.questions))
	}
}
