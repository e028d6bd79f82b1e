package index

import (
	"reflect"
	"testing"

	parley "github.com/ostramo/parley"
)

func seededMetadata(t *testing.T) *Metadata {
	t.Helper()
	m := NewMetadata(nil)
	m.Add("m1", parley.Metadata{
		"user_id": "U1", "channel": "C1", "timestamp": 100.0,
		"text": "deploy the payment service",
	})
	m.Add("m2", parley.Metadata{
		"user_id": "U2", "channel": "C1", "timestamp": 200.0,
		"text": "payment gateway timeout again",
	})
	m.Add("m3", parley.Metadata{
		"user_id": "U1", "channel": "C2", "timestamp": 300.0,
		"text": "deploy finished",
	})
	return m
}

func TestCandidatesExact(t *testing.T) {
	m := seededMetadata(t)

	ids, constrained := m.Candidates(map[string]any{"channel": "C1"})
	if !constrained {
		t.Fatal("expected constrained result")
	}
	if !reflect.DeepEqual(ids, []string{"m1", "m2"}) {
		t.Errorf("ids = %v", ids)
	}

	ids, _ = m.Candidates(map[string]any{"channel": "C1", "user_id": "U1"})
	if !reflect.DeepEqual(ids, []string{"m1"}) {
		t.Errorf("intersected ids = %v", ids)
	}

	ids, _ = m.Candidates(map[string]any{"channel": "C9"})
	if len(ids) != 0 {
		t.Errorf("unknown value ids = %v", ids)
	}
}

func TestCandidatesTimestampBounds(t *testing.T) {
	m := seededMetadata(t)

	// Bounds are exclusive of the pivot.
	ids, _ := m.Candidates(map[string]any{"timestamp_after": 100.0})
	if !reflect.DeepEqual(ids, []string{"m2", "m3"}) {
		t.Errorf("after ids = %v", ids)
	}

	ids, _ = m.Candidates(map[string]any{"timestamp_before": 300.0})
	if !reflect.DeepEqual(ids, []string{"m1", "m2"}) {
		t.Errorf("before ids = %v", ids)
	}

	ids, _ = m.Candidates(map[string]any{
		"timestamp_after":  100.0,
		"timestamp_before": 300.0,
	})
	if !reflect.DeepEqual(ids, []string{"m2"}) {
		t.Errorf("window ids = %v", ids)
	}
}

func TestCandidatesText(t *testing.T) {
	m := seededMetadata(t)

	ids, _ := m.Candidates(map[string]any{"text_text": "payment"})
	if !reflect.DeepEqual(ids, []string{"m1", "m2"}) {
		t.Errorf("single token ids = %v", ids)
	}

	// Multi-token queries AND their token sets.
	ids, _ = m.Candidates(map[string]any{"text_text": "deploy payment"})
	if !reflect.DeepEqual(ids, []string{"m1"}) {
		t.Errorf("multi token ids = %v", ids)
	}

	ids, _ = m.Candidates(map[string]any{"text_text": "nonexistent"})
	if len(ids) != 0 {
		t.Errorf("unknown token ids = %v", ids)
	}
}

func TestCandidatesUnconstrained(t *testing.T) {
	m := seededMetadata(t)

	if _, constrained := m.Candidates(nil); constrained {
		t.Error("nil filters should be unconstrained")
	}
	// _not filters are deferred, so alone they do not constrain.
	if _, constrained := m.Candidates(map[string]any{"user_id_not": "U1"}); constrained {
		t.Error("_not-only filters should be unconstrained")
	}
}

func TestMatchExact(t *testing.T) {
	meta := parley.Metadata{"user_id": "U1", "channel": "C1", "timestamp": 100.0}
	if !MatchExact(meta, map[string]any{"channel": "C1"}) {
		t.Error("expected inclusion for matching equality filter")
	}
	if MatchExact(meta, map[string]any{"channel": "C2"}) {
		t.Error("expected exclusion for non-matching equality filter")
	}
	if MatchExact(meta, map[string]any{"channel": "C1", "user_id": "U2"}) {
		t.Error("all equality filters must hold")
	}
	// Suffixed and range keys are someone else's problem.
	if !MatchExact(meta, map[string]any{"user_id_not": "U1", "text_text": "x", "timestamp_after": 500.0}) {
		t.Error("non-equality filter keys must be ignored")
	}
}

func TestMatchNot(t *testing.T) {
	meta := parley.Metadata{"user_id": "U1", "channel": "C1"}
	if MatchNot(meta, map[string]any{"user_id_not": "U1"}) {
		t.Error("expected exclusion for matching _not filter")
	}
	if !MatchNot(meta, map[string]any{"user_id_not": "U2"}) {
		t.Error("expected inclusion for non-matching _not filter")
	}
	if !MatchNot(meta, map[string]any{"channel": "C1"}) {
		t.Error("non-_not filters must be ignored")
	}
}

func TestRemove(t *testing.T) {
	m := seededMetadata(t)
	m.Remove("m2", parley.Metadata{
		"user_id": "U2", "channel": "C1", "timestamp": 200.0,
		"text": "payment gateway timeout again",
	})

	ids, _ := m.Candidates(map[string]any{"channel": "C1"})
	if !reflect.DeepEqual(ids, []string{"m1"}) {
		t.Errorf("channel ids after remove = %v", ids)
	}
	ids, _ = m.Candidates(map[string]any{"timestamp_after": 100.0})
	if !reflect.DeepEqual(ids, []string{"m3"}) {
		t.Errorf("timestamp ids after remove = %v", ids)
	}
	ids, _ = m.Candidates(map[string]any{"text_text": "gateway"})
	if len(ids) != 0 {
		t.Errorf("text ids after remove = %v", ids)
	}
}

func TestClear(t *testing.T) {
	m := seededMetadata(t)
	m.Clear()
	ids, constrained := m.Candidates(map[string]any{"channel": "C1"})
	if !constrained || len(ids) != 0 {
		t.Errorf("after Clear: ids=%v constrained=%v", ids, constrained)
	}
}
