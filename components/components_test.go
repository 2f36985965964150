package components

import "testing"

func TestClassRoundTrip(t *testing.T) {
	classes := []Class{ClassPrey, ClassPredator, ClassProducer, ClassDecomposer, ClassOmnivore}
	for _, c := range classes {
		parsed, ok := ParseClass(c.String())
		if !ok || parsed != c {
			t.Errorf("ParseClass(%q) = %v, %v; want %v, true", c.String(), parsed, ok, c)
		}
	}

	if _, ok := ParseClass("apex"); ok {
		t.Error("ParseClass accepted an unknown class name")
	}
	if Class(99).String() != "unknown" {
		t.Errorf("Class(99).String() = %q, want unknown", Class(99).String())
	}
}

func TestCanHunt(t *testing.T) {
	hunters := map[Class]bool{
		ClassPrey:       false,
		ClassPredator:   true,
		ClassProducer:   false,
		ClassDecomposer: false,
		ClassOmnivore:   true,
	}
	for c, want := range hunters {
		if c.CanHunt() != want {
			t.Errorf("%s.CanHunt() = %v, want %v", c, c.CanHunt(), want)
		}
	}
}
