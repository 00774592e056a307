package command

import (
	"testing"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/nerrad567/poolfleet/internal/schema/schematest"
)

func fieldOf(msg, name string) protoreflect.FieldDescriptor {
	return schematest.Message(msg).Fields().ByName(protoreflect.Name(name))
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		field  protoreflect.FieldDescriptor
		wantOK bool
		want   any
	}{
		{"int32", "42", fieldOf("SetOutputPercentage", "target_percentage"), true, int64(42)},
		{"int32 padded", " 42 ", fieldOf("SetOutputPercentage", "target_percentage"), true, int64(42)},
		{"int32 negative", "-5", fieldOf("SetOutputPercentage", "target_percentage"), true, int64(-5)},
		{"int32 overflow", "3000000000", fieldOf("SetOutputPercentage", "target_percentage"), false, nil},
		{"int32 decimal", "4.2", fieldOf("SetOutputPercentage", "target_percentage"), false, nil},
		{"int32 comma list", "1,2", fieldOf("SetOutputPercentage", "target_percentage"), false, nil},
		{"int32 empty", "", fieldOf("SetOutputPercentage", "target_percentage"), false, nil},
		{"int64", "-9000000000", fieldOf("ConfigureChannels", "offset"), true, int64(-9000000000)},
		{"sint32", "-3", fieldOf("ConfigureChannels", "trim"), true, int64(-3)},
		{"uint32", "7", fieldOf("SetTelemetryInterval", "interval_seconds"), true, uint64(7)},
		{"uint32 negative", "-1", fieldOf("SetTelemetryInterval", "interval_seconds"), false, nil},
		{"uint64", "18446744073709551615", fieldOf("ConfigureChannels", "counter"), true, uint64(18446744073709551615)},
		{"double", "3.14", fieldOf("ConfigureChannels", "gain"), true, 3.14},
		{"double garbage", "pi", fieldOf("ConfigureChannels", "gain"), false, nil},
		{"float", "0.5", fieldOf("ConfigureChannels", "ratio"), true, 0.5},
		{"bool yes", "yes", fieldOf("ConfigureChannels", "invert"), true, true},
		{"bool ON", "ON", fieldOf("ConfigureChannels", "invert"), true, true},
		{"bool 1", "1", fieldOf("ConfigureChannels", "invert"), true, true},
		{"bool no", "no", fieldOf("ConfigureChannels", "invert"), true, false},
		{"bool garbage", "maybe", fieldOf("ConfigureChannels", "invert"), true, false},
		{"bool comma list", "on,off", fieldOf("ConfigureChannels", "invert"), true, false},
		{"enum name", "MODE_CYCLE", fieldOf("ConfigureChannels", "mode"), true, protoreflect.EnumNumber(2)},
		{"enum number", "1", fieldOf("ConfigureChannels", "mode"), true, protoreflect.EnumNumber(1)},
		{"enum unknown", "MODE_STROBE", fieldOf("ConfigureChannels", "mode"), false, nil},
		{"string kept verbatim", " pool light ", fieldOf("SetDeviceName", "name"), true, " pool light "},
		{"string blank", "   ", fieldOf("SetDeviceName", "name"), false, nil},
		{"bytes", "tok", fieldOf("ConfigureChannels", "token"), true, "tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := Coerce(tt.raw, tt.field)
			if ok != tt.wantOK {
				t.Fatalf("Coerce(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if !ok {
				return
			}

			var got any
			switch w := tt.want.(type) {
			case int64:
				got = v.Int()
			case uint64:
				got = v.Uint()
			case float64:
				got = v.Float()
				if tt.field.Kind() == protoreflect.FloatKind {
					got = float64(float32(v.Float()))
					tt.want = float64(float32(w))
				}
			case bool:
				got = v.Bool()
			case protoreflect.EnumNumber:
				got = v.Enum()
			case string:
				if tt.field.Kind() == protoreflect.BytesKind {
					got = string(v.Bytes())
				} else {
					got = v.String()
				}
			}
			if got != tt.want {
				t.Errorf("Coerce(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"true", "TRUE", "1", "yes", "Yes", "on", " on "} {
		if !ParseBool(s) {
			t.Errorf("ParseBool(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"false", "0", "no", "off", "", "y", "on,off"} {
		if ParseBool(s) {
			t.Errorf("ParseBool(%q) = true, want false", s)
		}
	}
}

func TestSplitRepeated(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a, b ,,c", []string{"a", "b", "c"}},
		{"1,2,3", []string{"1", "2", "3"}},
		{"single", []string{"single"}},
		{"", nil},
		{" , ,", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SplitRepeated(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitRepeated(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("SplitRepeated(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}
