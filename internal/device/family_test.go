package device

import "testing"

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(DefaultRules())

	tests := []struct {
		category string
		want     Family
	}{
		{"Sanitizer-X", FamilySanitizer},
		{"SANITIZER", FamilySanitizer},
		{"DigitalController", FamilyICL},
		{"Infinite Color Light", FamilyICL},
		{"icl-v2", FamilyICL},
		{"DCT sanitizer combo", FamilyICL},
		{"pump", FamilyUnknown},
		{"", FamilyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			if got := c.Classify(tt.category); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.category, got, tt.want)
			}
		})
	}
}

func TestNewClassifier_DropsEmptyRules(t *testing.T) {
	c := NewClassifier([]FamilyRule{
		{Family: FamilyUnknown, Keywords: []string{"x"}},
		{Family: "pump", Keywords: []string{"  ", ""}},
		{Family: "heater", Keywords: []string{" Heat "}},
	})

	fams := c.Families()
	if len(fams) != 1 || fams[0] != "heater" {
		t.Fatalf("Families() = %v, want [heater]", fams)
	}
	if got := c.Classify("GasHEATER"); got != "heater" {
		t.Errorf("Classify(GasHEATER) = %v, want heater", got)
	}
}

func TestFamily_String(t *testing.T) {
	if FamilyUnknown.String() != "unknown" {
		t.Errorf("FamilyUnknown.String() = %q, want unknown", FamilyUnknown.String())
	}
	if FamilySanitizer.String() != "sanitizer" {
		t.Errorf("FamilySanitizer.String() = %q, want sanitizer", FamilySanitizer.String())
	}
}
