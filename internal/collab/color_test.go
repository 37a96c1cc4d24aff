package collab

import (
	"testing"

	v1 "coedit/contracts/collab/v1"
)

func TestColorForDeterminism(t *testing.T) {
	t.Parallel()

	ids := []string{"u-1", "u-2", "someone@example.com", "", "u-1"}
	for _, id := range ids {
		first := ColorFor(id)
		for i := 0; i < 10; i++ {
			if got := ColorFor(id); got != first {
				t.Fatalf("ColorFor(%q) unstable: got=%q want=%q", id, got, first)
			}
		}

		found := false
		for _, c := range presencePalette {
			if c == first {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("ColorFor(%q)=%q not in palette", id, first)
		}
	}
}

func TestColorizeKeepsServerColors(t *testing.T) {
	t.Parallel()

	users := []v1.Presence{
		{ID: "a", Color: "#123456"},
		{ID: "b"},
	}
	out := colorize(users)

	if out[0].Color != "#123456" {
		t.Fatalf("server color overwritten: got=%q", out[0].Color)
	}
	if out[1].Color != ColorFor("b") {
		t.Fatalf("missing color not derived: got=%q want=%q", out[1].Color, ColorFor("b"))
	}
}
