package schema

import "testing"

func TestParseScaled(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		scale   Scale
		want    int64
		wantErr bool
	}{
		{name: "integer", input: "50000", scale: 6, want: 50_000_000_000},
		{name: "fraction", input: "0.1", scale: 8, want: 10_000_000},
		{name: "negative", input: "-2.5", scale: 6, want: -2_500_000},
		{name: "trailing zeros past scale", input: "1.2300000000", scale: 6, want: 1_230_000},
		{name: "plus sign", input: "+7", scale: 2, want: 700},
		{name: "too many fraction digits", input: "0.1234567", scale: 6, wantErr: true},
		{name: "empty", input: "", scale: 6, wantErr: true},
		{name: "garbage", input: "1a.2", scale: 6, wantErr: true},
		{name: "bare dot", input: ".", scale: 6, wantErr: true},
		{name: "overflow", input: "9999999999999999999", scale: 6, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseScaled(tc.input, tc.scale)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScaled(%q): %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("ParseScaled(%q) = %d, want %d", tc.input, got, tc.want)
			}
		})
	}
}

func TestFormatScaledRoundTrip(t *testing.T) {
	cases := []struct {
		value int64
		scale Scale
		want  string
	}{
		{50_000_000_000, 6, "50000"},
		{10_000_000, 8, "0.1"},
		{-2_500_000, 6, "-2.5"},
		{1, 8, "0.00000001"},
		{0, 6, "0"},
	}
	for _, tc := range cases {
		got := FormatScaled(tc.value, tc.scale)
		if got != tc.want {
			t.Fatalf("FormatScaled(%d, %d) = %q, want %q", tc.value, tc.scale, got, tc.want)
		}
		back, err := ParseScaled(got, tc.scale)
		if err != nil {
			t.Fatalf("ParseScaled(%q): %v", got, err)
		}
		if back != tc.value {
			t.Fatalf("round trip %q = %d, want %d", got, back, tc.value)
		}
	}
}

func TestMulScaled(t *testing.T) {
	spec := DefaultScaleSpec()

	// 0.1 BTC at 50000 is a notional of 5000.
	notional, ok := MulScaled(Price(50_000_000_000), Quantity(10_000_000), spec)
	if !ok {
		t.Fatal("MulScaled reported overflow")
	}
	if notional != 5_000_000_000 {
		t.Fatalf("notional = %d, want 5000000000", notional)
	}

	// Non-round products truncate toward zero instead of failing.
	notional, ok = MulScaled(Price(1), Quantity(1), spec)
	if !ok || notional != 0 {
		t.Fatalf("tiny product = %d ok=%v, want 0 true", notional, ok)
	}

	if _, ok := MulScaled(Price(maxInt64), Quantity(maxInt64), spec); ok {
		t.Fatal("expected overflow")
	}
}

func TestRescale(t *testing.T) {
	if v, ok := Rescale(1_000_000, 6, 8); !ok || v != 100_000_000 {
		t.Fatalf("up rescale = %d ok=%v", v, ok)
	}
	if v, ok := Rescale(100_000_000, 8, 6); !ok || v != 1_000_000 {
		t.Fatalf("down rescale = %d ok=%v", v, ok)
	}
	if _, ok := Rescale(1, 8, 6); ok {
		t.Fatal("expected precision loss failure")
	}
	if _, ok := Rescale(maxInt64, 0, 6); ok {
		t.Fatal("expected overflow failure")
	}
}

func TestAddChecked(t *testing.T) {
	if v, ok := AddChecked(1, 2); !ok || v != 3 {
		t.Fatalf("AddChecked(1,2) = %d ok=%v", v, ok)
	}
	if _, ok := AddChecked(maxInt64, 1); ok {
		t.Fatal("expected overflow")
	}
	if _, ok := AddChecked(-maxInt64, -2); ok {
		t.Fatal("expected negative overflow")
	}
}
