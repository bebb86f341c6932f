package engine_test

import (
	"testing"

	"github.com/ostrem/visage/internal/engine"
)

func TestMapper_IdentityPassthrough(t *testing.T) {
	m := engine.NewMapper()
	out := m.Resolve("brow.raise", 0.7)
	if len(out) != 1 || out[0].ID != "brow.raise" || out[0].Value != 0.7 {
		t.Fatalf("Resolve unmapped channel = %+v, want identity", out)
	}
}

func TestMapper_CompositeSplit(t *testing.T) {
	m := engine.NewMapper()
	m.SetRoutes("jaw.open",
		engine.Route{OutputID: "morph/jawOpen", Weight: 0.6},
		engine.Route{OutputID: "bone/jaw.rx", Weight: 0.4},
	)

	out := m.Resolve("jaw.open", 0.5)
	if len(out) != 2 {
		t.Fatalf("Resolve returned %d outputs, want 2", len(out))
	}
	if out[0].ID != "morph/jawOpen" || out[0].Value != 0.5*0.6 {
		t.Fatalf("morph output = %+v, want value %v", out[0], 0.5*0.6)
	}
	if out[1].ID != "bone/jaw.rx" || out[1].Value != 0.5*0.4 {
		t.Fatalf("bone output = %+v, want value %v", out[1], 0.5*0.4)
	}
}

func TestMapper_SetWeightAdjustsAtRuntime(t *testing.T) {
	m := engine.NewMapper()
	m.SetRoutes("jaw.open",
		engine.Route{OutputID: "morph/jawOpen", Weight: 1.0},
		engine.Route{OutputID: "bone/jaw.rx", Weight: 0.0},
	)

	// Slide the morph-versus-bone blend fully to the bone.
	m.SetWeight("jaw.open", "morph/jawOpen", 0.0)
	m.SetWeight("jaw.open", "bone/jaw.rx", 1.0)

	out := m.Resolve("jaw.open", 1.0)
	if out[0].Value != 0 || out[1].Value != 1 {
		t.Fatalf("after reweight outputs = %+v, want morph 0 / bone 1", out)
	}
}

func TestMapper_EmptyRoutesRestoresIdentity(t *testing.T) {
	m := engine.NewMapper()
	m.SetRoutes("x", engine.Route{OutputID: "y", Weight: 2})
	m.SetRoutes("x")
	out := m.Resolve("x", 1)
	if len(out) != 1 || out[0].ID != "x" {
		t.Fatalf("Resolve after clearing routes = %+v, want identity", out)
	}
}
