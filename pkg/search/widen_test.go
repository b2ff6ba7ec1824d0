package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

// scriptedBackend returns canned results by position in the call sequence
// and records every query it receives.
type scriptedBackend struct {
	responses [][]Result
	err       error

	queries []string
	counts  []int
	offsets []int
}

func (s *scriptedBackend) Search(_ context.Context, query string, count, offset int) ([]Result, error) {
	s.queries = append(s.queries, query)
	s.counts = append(s.counts, count)
	s.offsets = append(s.offsets, offset)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.queries) > len(s.responses) {
		return nil, nil
	}
	return s.responses[len(s.queries)-1], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWidenerStopsAtFirstNonEmptyVariant(t *testing.T) {
	hit := []Result{{Title: "ENSO overview", URL: "https://www.noaa.gov/enso", Snippet: "El Niño is..."}}
	backend := &scriptedBackend{responses: [][]Result{nil, hit}}

	w := NewWidener(backend, discardLogger())
	got, err := w.Search(context.Background(), "current conditions", 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, hit) {
		t.Errorf("results = %v, want variant 2 results", got)
	}
	if len(backend.queries) != 2 {
		t.Fatalf("backend calls = %d, want 2 (variants 3 and 4 must not run)", len(backend.queries))
	}
}

func TestWidenerVariantOrder(t *testing.T) {
	backend := &scriptedBackend{}
	w := NewWidener(backend, discardLogger())

	if _, err := w.Search(context.Background(), "current status", 1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backend.queries) != 4 {
		t.Fatalf("backend calls = %d, want all 4 variants", len(backend.queries))
	}

	q := backend.queries
	if !strings.Contains(q[0], `"El Nino"`) || !strings.Contains(q[0], "site:noaa.gov") {
		t.Errorf("variant 1 = %q, want synonyms and site restriction", q[0])
	}
	if !strings.Contains(q[1], `"La Nina"`) || strings.Contains(q[1], "site:") {
		t.Errorf("variant 2 = %q, want synonyms without site restriction", q[1])
	}
	if strings.Contains(q[2], `"El Nino"`) || !strings.Contains(q[2], "site:climate.gov") {
		t.Errorf("variant 3 = %q, want site restriction without synonyms", q[2])
	}
	if q[3] != "current status" {
		t.Errorf("variant 4 = %q, want bare query", q[3])
	}
	for i, v := range q {
		if !strings.Contains(v, "current status") {
			t.Errorf("variant %d = %q, missing raw query text", i+1, v)
		}
	}
}

func TestWidenerBareQueryFallback(t *testing.T) {
	final := []Result{{Title: "status page", URL: "https://example.com", Snippet: "neutral conditions"}}
	backend := &scriptedBackend{responses: [][]Result{nil, nil, nil, final}}

	w := NewWidener(backend, discardLogger())
	got, err := w.Search(context.Background(), "current status", 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, final) {
		t.Errorf("results = %v, want bare-query results", got)
	}
	if len(backend.queries) != 4 {
		t.Errorf("backend calls = %d, want each variant attempted exactly once", len(backend.queries))
	}
}

func TestWidenerAllVariantsEmpty(t *testing.T) {
	backend := &scriptedBackend{}
	w := NewWidener(backend, discardLogger())

	got, err := w.Search(context.Background(), "nothing indexed", 1, 0)
	if err != nil {
		t.Fatalf("all-empty must not fail, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("results = %v, want empty set", got)
	}
}

func TestWidenerIdempotentVariantSelection(t *testing.T) {
	run := func() []string {
		backend := &scriptedBackend{responses: [][]Result{nil, nil, {{Title: "t"}}}}
		w := NewWidener(backend, discardLogger())
		if _, err := w.Search(context.Background(), "same question", 1, 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return backend.queries
	}

	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("variant path differs between identical runs:\n%v\n%v", first, second)
	}
}

func TestWidenerDefaultsAndPassthrough(t *testing.T) {
	backend := &scriptedBackend{responses: [][]Result{{{Title: "t"}}}}
	w := NewWidener(backend, discardLogger())

	if _, err := w.Search(context.Background(), "q", 0, -2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.counts[0] != 1 || backend.offsets[0] != 0 {
		t.Errorf("backend got count=%d offset=%d, want defaults 1 and 0", backend.counts[0], backend.offsets[0])
	}

	backend2 := &scriptedBackend{responses: [][]Result{{{Title: "t"}}}}
	w2 := NewWidener(backend2, discardLogger())
	if _, err := w2.Search(context.Background(), "q", 5, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend2.counts[0] != 5 || backend2.offsets[0] != 10 {
		t.Errorf("backend got count=%d offset=%d, want 5 and 10", backend2.counts[0], backend2.offsets[0])
	}
}

func TestWidenerPropagatesBackendError(t *testing.T) {
	boom := errors.New("brave http 500")
	backend := &scriptedBackend{err: boom}
	w := NewWidener(backend, discardLogger())

	_, err := w.Search(context.Background(), "q", 1, 0)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped backend error", err)
	}
	if len(backend.queries) != 1 {
		t.Errorf("backend calls = %d, want widening to stop on transport failure", len(backend.queries))
	}
}
