package engine_test

import (
	"errors"
	"testing"

	"github.com/ostrem/visage/internal/engine"
)

// rampSnippet is a single-channel 0→1 ramp over dur seconds.
func rampSnippet(name string, priority int, dur float64, channel string) engine.Snippet {
	return engine.Snippet{
		Name:     name,
		Priority: priority,
		MaxTime:  dur,
		Curves: map[string]engine.Curve{
			channel: {{Time: 0, Intensity: 0}, {Time: dur, Intensity: 1}},
		},
	}
}

func TestRegistry_ScheduleValidatesAndDefaults(t *testing.T) {
	sched := engine.NewScheduler(engine.NopHost{})
	reg := sched.Registry()

	name, err := reg.Schedule(rampSnippet("a", 0, 1, "x"))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if name != "a" {
		t.Fatalf("Schedule returned name %q, want %q", name, "a")
	}

	st, ok := reg.Get("a")
	if !ok {
		t.Fatal("Get after Schedule: snippet not found")
	}
	if st.Category != engine.DefaultCategory {
		t.Fatalf("Category = %q, want default %q", st.Category, engine.DefaultCategory)
	}
	if st.PlaybackRate != 1 || st.IntensityScale != 1 {
		t.Fatalf("defaults not applied: rate %v scale %v", st.PlaybackRate, st.IntensityScale)
	}
}

func TestRegistry_ScheduleRejectsInvalid(t *testing.T) {
	sched := engine.NewScheduler(engine.NopHost{})
	reg := sched.Registry()

	cases := []struct {
		name string
		sn   engine.Snippet
	}{
		{"no curves", engine.Snippet{Name: "a", MaxTime: 1}},
		{"empty curve", engine.Snippet{Name: "a", MaxTime: 1, Curves: map[string]engine.Curve{"x": {}}}},
		{"unsorted curve", engine.Snippet{Name: "a", MaxTime: 1, Curves: map[string]engine.Curve{
			"x": {{Time: 1, Intensity: 0}, {Time: 0, Intensity: 1}},
		}}},
		{"zero duration", engine.Snippet{Name: "a", Curves: map[string]engine.Curve{"x": {{Time: 0, Intensity: 1}}}}},
		{"unnamed", rampSnippet("", 0, 1, "x")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := reg.Schedule(tc.sn); !errors.Is(err, engine.ErrInvalidSnippet) {
				t.Fatalf("Schedule error = %v, want ErrInvalidSnippet", err)
			}
			if reg.Len() != 0 {
				t.Fatalf("rejected snippet left partial state: Len = %d", reg.Len())
			}
		})
	}
}

func TestRegistry_ReplaceByName(t *testing.T) {
	sched := engine.NewScheduler(engine.NopHost{})
	reg := sched.Registry()

	if _, err := reg.Schedule(rampSnippet("gaze/yaw", 15, 1, "x")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	first, _ := reg.Get("gaze/yaw")

	if _, err := reg.Schedule(rampSnippet("gaze/yaw", 20, 2, "x")); err != nil {
		t.Fatalf("re-Schedule: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len after replace = %d, want 1", reg.Len())
	}
	second, _ := reg.Get("gaze/yaw")
	if second.ID == first.ID {
		t.Fatal("replacement kept the old instance ID")
	}
	if second.Priority != 20 || second.MaxTime != 2 {
		t.Fatalf("replacement did not take effect: %+v", second.Snippet)
	}
	if second.CurrentTime != 0 {
		t.Fatalf("replacement playhead = %v, want 0", second.CurrentTime)
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	sched := engine.NewScheduler(engine.NopHost{})
	reg := sched.Registry()

	if _, err := reg.Schedule(rampSnippet("a", 0, 1, "x")); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	reg.Remove("a")
	reg.Remove("a")
	reg.Remove("never-existed")
	if reg.Len() != 0 {
		t.Fatalf("Len = %d, want 0", reg.Len())
	}
}

func TestRegistry_EvalChannel(t *testing.T) {
	sched := engine.NewScheduler(engine.NopHost{})
	reg := sched.Registry()

	sn := rampSnippet("a", 0, 2, "x")
	sn.IntensityScale = 0.5
	if _, err := reg.Schedule(sn); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	sched.Tick(1) // playhead 1s into a 2s 0→1 ramp

	got, ok := reg.EvalChannel("a", "x")
	if !ok {
		t.Fatal("EvalChannel: not found")
	}
	if got != 0.25 {
		t.Fatalf("EvalChannel = %v, want 0.25 (0.5 ramp × 0.5 scale)", got)
	}
	if _, ok := reg.EvalChannel("a", "missing"); ok {
		t.Fatal("EvalChannel on missing channel reported ok")
	}
}

func TestRegistry_LifecycleEvents(t *testing.T) {
	sched := engine.NewScheduler(engine.NopHost{})
	reg := sched.Registry()

	var got []engine.Event
	unsub := sched.Subscribe(func(ev engine.Event) { got = append(got, ev) })
	defer unsub()

	reg.Schedule(rampSnippet("a", 0, 1, "x"))
	reg.Schedule(rampSnippet("a", 0, 1, "x"))
	reg.Remove("a")

	want := []engine.EventKind{engine.EventScheduled, engine.EventReplaced, engine.EventRemoved}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i, kind := range want {
		if got[i].Kind != kind || got[i].Name != "a" {
			t.Fatalf("event[%d] = %+v, want kind %q name %q", i, got[i], kind, "a")
		}
	}

	unsub()
	reg.Schedule(rampSnippet("b", 0, 1, "x"))
	if len(got) != len(want) {
		t.Fatal("subscriber still fired after unsubscribe")
	}
}
