package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"lower", "0x00000000000000000000000000000000000000aa", false},
		{"upper", "0X00000000000000000000000000000000000000AA", false},
		{"missing prefix", "00000000000000000000000000000000000000aa", true},
		{"short", "0xaa", true},
		{"bad hex", "0x00000000000000000000000000000000000000zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAddress(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.String() != "0x00000000000000000000000000000000000000aa" {
				t.Errorf("got %s", a)
			}
		})
	}
}

func TestAddressJSON(t *testing.T) {
	a := BytesToAddress([]byte{0xde, 0xad})
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"0x000000000000000000000000000000000000dead"` {
		t.Errorf("got %s", data)
	}

	var back Address
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != a {
		t.Errorf("round-trip mismatch: %s != %s", back, a)
	}
	if !ZeroAddress.IsZero() || a.IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestAmountFormat(t *testing.T) {
	tests := []struct {
		amount   Amount
		decimals uint8
		want     string
	}{
		{NewAmount(4900), 2, "49.00"},
		{NewAmount(5), 2, "0.05"},
		{NewAmount(100), 0, "100"},
		{Units(10, 18), 18, "10.000000000000000000"},
		{NewAmount(10500000), 6, "10.500000"},
	}

	for _, tt := range tests {
		if got := tt.amount.Format(tt.decimals); got != tt.want {
			t.Errorf("Format(%s, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
		}
	}
}

func TestAmountArithmetic(t *testing.T) {
	ceiling := MustParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")

	if _, overflow := ceiling.Add(NewAmount(1)); !overflow {
		t.Error("expected overflow adding to max")
	}
	if _, underflow := NewAmount(1).Sub(NewAmount(2)); !underflow {
		t.Error("expected underflow")
	}

	sum, overflow := NewAmount(40).Add(NewAmount(2))
	if overflow || sum.String() != "42" {
		t.Errorf("40+2 = %s (overflow=%v)", sum, overflow)
	}
	if NewAmount(1).Cmp(NewAmount(2)) != -1 {
		t.Error("Cmp mismatch")
	}
}

func TestAmountJSON(t *testing.T) {
	big := Units(123, 30)
	data, err := json.Marshal(big)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"123000000000000000000000000000000"` {
		t.Errorf("got %s", data)
	}

	var back Amount
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Cmp(big) != 0 {
		t.Errorf("round-trip mismatch: %s", back)
	}

	if _, err := ParseAmount("-1"); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestAmountScan(t *testing.T) {
	var a Amount
	if err := a.Scan("77"); err != nil || a.String() != "77" {
		t.Errorf("Scan(string) = %s, %v", a, err)
	}
	if err := a.Scan(int64(8)); err != nil || a.String() != "8" {
		t.Errorf("Scan(int64) = %s, %v", a, err)
	}
	if err := a.Scan(int64(-8)); err == nil {
		t.Error("expected error for negative int64")
	}
}

func TestSecond(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	in := time.Date(2024, 1, 1, 12, 0, 0, 999_000_000, loc)
	got := Second(in)
	if got.Nanosecond() != 0 || got.Location() != time.UTC || !got.Equal(in.Truncate(time.Second)) {
		t.Errorf("Second(%v) = %v", in, got)
	}
}
