package emotion_test

import (
	"context"
	"testing"

	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/modules"
	"github.com/ostrem/visage/internal/modules/emotion"
	"github.com/ostrem/visage/internal/snippetstore"
)

func expressionDef(id string, priority int) *snippetstore.Definition {
	return &snippetstore.Definition{
		ID:   id,
		Kind: snippetstore.KindExpression,
		Snippet: engine.Snippet{
			Name:           id,
			Category:       "emotion",
			Priority:       priority,
			IntensityScale: 0.01,
			MaxTime:        1.5,
			Curves: map[string]engine.Curve{
				"mouth.smile": {{Time: 0, Intensity: 0}, {Time: 0.3, Intensity: 70}, {Time: 1.5, Intensity: 0}},
				"brow.raise":  {{Time: 0, Intensity: 0}, {Time: 0.3, Intensity: 30}, {Time: 1.5, Intensity: 0}},
			},
		},
	}
}

func newModule(t *testing.T) (*emotion.Module, *engine.Scheduler, snippetstore.Store) {
	t.Helper()
	lib := snippetstore.NewMemStore()
	ctx := context.Background()
	if err := lib.Create(ctx, expressionDef("happiness", 0)); err != nil {
		t.Fatalf("seed library: %v", err)
	}
	if err := lib.Create(ctx, expressionDef("surprise", 4)); err != nil {
		t.Fatalf("seed library: %v", err)
	}

	sched := engine.NewScheduler(engine.NopHost{})
	m, err := emotion.Factory(emotion.Config{})(modules.Deps{Sched: sched, Library: lib})
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	return m.(*emotion.Module), sched, lib
}

func TestApply_ExactMatch(t *testing.T) {
	m, sched, _ := newModule(t)

	name, err := m.Apply(context.Background(), "happiness", 1)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	st, ok := sched.Registry().Get(name)
	if !ok {
		t.Fatal("expression not scheduled")
	}
	if st.Priority != 3 {
		t.Fatalf("Priority = %d, want default 3 for an unprioritised definition", st.Priority)
	}
	if st.Loop {
		t.Fatal("one-shot expression scheduled as looping")
	}
}

func TestApply_FuzzyMatch(t *testing.T) {
	m, sched, _ := newModule(t)

	// Misspelled and close: should land on "happiness".
	name, err := m.Apply(context.Background(), "hapiness", 1)
	if err != nil {
		t.Fatalf("Apply fuzzy: %v", err)
	}
	if name != "emotion/happiness" {
		t.Fatalf("fuzzy match scheduled %q, want emotion/happiness", name)
	}
	if _, ok := sched.Registry().Get(name); !ok {
		t.Fatal("fuzzy-matched expression not scheduled")
	}
}

func TestApply_NoMatch(t *testing.T) {
	m, _, _ := newModule(t)

	if _, err := m.Apply(context.Background(), "zzzzqq", 1); err == nil {
		t.Fatal("Apply with unmatched name did not fail")
	}
}

func TestApply_IntensityScalesContribution(t *testing.T) {
	m, sched, _ := newModule(t)

	name, err := m.Apply(context.Background(), "happiness", 0.5)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	sched.Tick(0.3) // curve peak: 70 on the stored scale

	got, ok := sched.Registry().EvalChannel(name, "mouth.smile")
	if !ok {
		t.Fatal("EvalChannel: expression missing")
	}
	want := 70 * 0.01 * 0.5
	if got != want {
		t.Fatalf("peak contribution = %v, want %v (stored 70 × 0.01 scale × 0.5 intensity)", got, want)
	}
}

func TestSetMood_LoopsAndReplaces(t *testing.T) {
	m, sched, _ := newModule(t)
	ctx := context.Background()

	name, err := m.SetMood(ctx, "happiness", 1)
	if err != nil {
		t.Fatalf("SetMood: %v", err)
	}
	st, _ := sched.Registry().Get(name)
	if !st.Loop {
		t.Fatal("mood snippet is not looping")
	}

	// A second mood replaces the first by name.
	if _, err := m.SetMood(ctx, "surprise", 1); err != nil {
		t.Fatalf("SetMood 2: %v", err)
	}
	if got := sched.Registry().Len(); got != 1 {
		t.Fatalf("active snippets = %d, want 1 (moods replace each other)", got)
	}

	m.ClearMood()
	if got := sched.Registry().Len(); got != 0 {
		t.Fatalf("active snippets after ClearMood = %d, want 0", got)
	}
}

func TestSetMood_KeepsDefinitionPriority(t *testing.T) {
	m, sched, _ := newModule(t)

	name, err := m.SetMood(context.Background(), "surprise", 1)
	if err != nil {
		t.Fatalf("SetMood: %v", err)
	}
	st, _ := sched.Registry().Get(name)
	if st.Priority != 4 {
		t.Fatalf("Priority = %d, want the definition's 4", st.Priority)
	}
}
