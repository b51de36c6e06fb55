package strain

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		pressure float64
		want     Tier
	}{
		{0.0, Normal},
		{0.69, Normal},
		{0.70, StrainI},
		{0.84, StrainI},
		{0.85, StrainII},
		{0.94, StrainII},
		{0.95, StrainIII},
		{1.20, StrainIII},
	}
	for _, c := range cases {
		if got := Classify(c.pressure); got != c.want {
			t.Errorf("Classify(%.2f) = %s, want %s", c.pressure, got, c.want)
		}
	}
}

func TestPressureFrom(t *testing.T) {
	budgets := map[string]int{"System": 1500, "Rules": 2000}
	sections := []SectionTokens{{Section: "System", Used: 750}, {Section: "Rules", Used: 1750}}
	got := PressureFrom(sections, budgets)
	want := float64(750+1750) / float64(1500+2000)
	if got != want {
		t.Errorf("PressureFrom = %f, want %f", got, want)
	}
}

func TestPressureFrom_ZeroBudget(t *testing.T) {
	if got := PressureFrom(nil, map[string]int{}); got != 0 {
		t.Errorf("PressureFrom(empty) = %f, want 0", got)
	}
}
