package retry

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AskFunc starts one assistant call for a question and returns the stream of
// answer fragments. A failed call may report its error either from AskFunc
// itself or from the iterator mid-stream.
type AskFunc func(ctx context.Context, question string) (iter.Seq2[string, error], error)

// Outcome describes how processing of a single question ended.
type Outcome int

const (
	Succeeded Outcome = iota
	// AbandonedNoResponse means the call succeeded but streamed zero fragments.
	AbandonedNoResponse
	// AbandonedRateLimit means the service rate-limited us without a usable
	// retry delay, or the retry budget ran out.
	AbandonedRateLimit
	AbandonedOther
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case AbandonedNoResponse:
		return "abandoned_no_response"
	case AbandonedRateLimit:
		return "abandoned_rate_limit"
	case AbandonedOther:
		return "abandoned_other"
	}
	return "unknown"
}

// state of the retry loop. Waiting exists as its own state so the backoff
// delay is observable and testable rather than buried in control flow.
type state int

const (
	stateAttempting state = iota
	stateWaiting
	stateSucceeded
	stateAbandoned
)

// Policy re-asks a question after a rate limit that carries a retry delay.
// The zero value retries forever with real sleeps and the default logger.
type Policy struct {
	Logger *slog.Logger

	// Sleep is called with the server-dictated backoff. Overridable in tests.
	Sleep func(time.Duration)

	// MaxAttempts bounds the number of assistant calls per question.
	// Zero means unbounded.
	MaxAttempts int
}

func (p *Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// wait blocks for the server-dictated backoff, giving up as soon as ctx is
// cancelled. An injected Sleep controls time in tests; its cancellations are
// picked up once it returns.
func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		p.Sleep(d)
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Ask runs the assistant call for question, writing fragments to out as they
// arrive. On a rate limit with a parseable RETRY-AFTER delay it waits and
// re-asks the identical question; every other failure abandons the question.
// The returned error carries diagnostic detail for non-Succeeded outcomes;
// it never propagates as a panic or past the caller's loop.
func (p *Policy) Ask(ctx context.Context, question string, ask AskFunc, out io.Writer) (Outcome, string, error) {
	log := p.logger()

	attempt := 0
	var wait time.Duration
	st := stateAttempting

	var answer strings.Builder
	var outcome Outcome
	var terminal error

	for {
		switch st {
		case stateAttempting:
			attempt++
			if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
				outcome = AbandonedRateLimit
				terminal = fmt.Errorf("retry budget exhausted after %d attempts", p.MaxAttempts)
				log.Error("Giving up on question", "attempts", p.MaxAttempts)
				st = stateAbandoned
				continue
			}

			answer.Reset()
			log.Debug("Asking assistant", "attempt", attempt)

			stream, err := ask(ctx, question)
			if err == nil {
				fragments := 0
				for fragment, streamErr := range stream {
					if streamErr != nil {
						err = streamErr
						break
					}
					fragments++
					answer.WriteString(fragment)
					if out != nil {
						if _, werr := io.WriteString(out, fragment); werr != nil {
							outcome = AbandonedOther
							terminal = fmt.Errorf("writing answer fragment: %w", werr)
							st = stateAbandoned
							break
						}
					}
				}
				if st == stateAbandoned {
					continue
				}
				if err == nil {
					if fragments == 0 {
						log.Error("No response received from assistant")
						outcome = AbandonedNoResponse
						terminal = fmt.Errorf("no response received")
						st = stateAbandoned
						continue
					}
					log.Debug("Assistant answer complete", "answer", answer.String())
					st = stateSucceeded
					continue
				}
			}

			// The call failed, before or during streaming.
			if !IsRateLimited(err) {
				log.Error("Assistant call failed", "error", err)
				outcome = AbandonedOther
				terminal = err
				st = stateAbandoned
				continue
			}
			seconds, ok := ParseRetryAfter(err.Error())
			if !ok {
				log.Error("Rate limited without a retry delay", "error", err)
				outcome = AbandonedRateLimit
				terminal = err
				st = stateAbandoned
				continue
			}
			wait = time.Duration(seconds) * time.Second
			log.Warn("Rate limited, backing off", "seconds", seconds, "attempt", attempt)
			st = stateWaiting

		case stateWaiting:
			if err := p.wait(ctx, wait); err != nil {
				outcome = AbandonedOther
				terminal = err
				st = stateAbandoned
				continue
			}
			st = stateAttempting

		case stateSucceeded:
			return Succeeded, answer.String(), nil

		case stateAbandoned:
			return outcome, answer.String(), terminal
		}
	}
}

// retryAfterPattern matches the machine-readable delay embedded in a
// rate-limit diagnostic, e.g. "... RETRY-AFTER: 12 ...". Matching is
// case-insensitive; the captured group is whole seconds.
var retryAfterPattern = regexp.MustCompile(`(?i)retry-after:\s*(\d+)`)

// ParseRetryAfter extracts the retry delay in seconds from a diagnostic
// message. The second return is false when the message carries no delay.
func ParseRetryAfter(msg string) (int, bool) {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	seconds, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return seconds, true
}

// IsRateLimited reports whether an assistant failure is a rate-limit
// rejection. The upstream client surfaces these only through diagnostic
// text, so classification is by message content.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted")
}
