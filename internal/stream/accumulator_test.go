package stream

import "testing"

func TestAccumulator_Incremental(t *testing.T) {
	acc := NewAccumulator(Incremental)
	acc.Begin()

	for _, d := range []string{"Hel", "lo, ", "world"} {
		acc.Apply(d)
	}

	if got := acc.Current(); got != "Hello, world" {
		t.Errorf("expected 'Hello, world', got %q", got)
	}
}

func TestAccumulator_Cumulative(t *testing.T) {
	acc := NewAccumulator(Cumulative)
	acc.Begin()

	for _, d := range []string{"H", "He", "Hel"} {
		acc.Apply(d)
	}

	if got := acc.Current(); got != "Hel" {
		t.Errorf("expected 'Hel', got %q", got)
	}
}

func TestAccumulator_ApplyReturnsCurrent(t *testing.T) {
	acc := NewAccumulator(Incremental)
	acc.Begin()

	if got := acc.Apply("A "); got != "A " {
		t.Errorf("expected 'A ', got %q", got)
	}
	if got := acc.Apply("cat."); got != "A cat." {
		t.Errorf("expected 'A cat.', got %q", got)
	}
}

func TestAccumulator_CompleteOverwrites(t *testing.T) {
	acc := NewAccumulator(Incremental)
	acc.Begin()
	acc.Apply("A ")
	acc.Apply("cat.")

	if drifted := acc.Complete("A cat."); drifted {
		t.Error("no drift expected when text matches")
	}

	acc.Begin()
	acc.Apply("A c")
	if drifted := acc.Complete("A cat."); !drifted {
		t.Error("drift expected when running text differs from final text")
	}
	if got := acc.Current(); got != "A cat." {
		t.Errorf("expected final overwrite, got %q", got)
	}
}

func TestAccumulator_FailRollsBack(t *testing.T) {
	acc := NewAccumulator(Incremental)
	acc.Begin()
	acc.Apply("partial ")
	acc.Apply("answer")

	discarded := acc.Fail()
	if discarded != "partial answer" {
		t.Errorf("expected discarded partial text, got %q", discarded)
	}
	if got := acc.Current(); got != "" {
		t.Errorf("expected rollback to empty, got %q", got)
	}
}

func TestAccumulator_BeginResetsPreviousTurn(t *testing.T) {
	acc := NewAccumulator(Cumulative)
	acc.Begin()
	acc.Apply("first answer")
	acc.Complete("first answer")

	acc.Begin()
	if got := acc.Current(); got != "" {
		t.Errorf("new turn must start empty, got %q", got)
	}

	acc.Apply("sec")
	acc.Fail()
	if got := acc.Current(); got != "" {
		t.Errorf("failed turn must not restore the previous answer, got %q", got)
	}
}

func TestPolicy_String(t *testing.T) {
	if Incremental.String() != "incremental" {
		t.Errorf("unexpected %s", Incremental)
	}
	if Cumulative.String() != "cumulative" {
		t.Errorf("unexpected %s", Cumulative)
	}
}
