package main

import "testing"

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues([]string{"focus=growth", "salary = 1500.5", "board_size=7"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["focus"] != "growth" || got["salary"] != 1500.5 || got["board_size"] != 7.0 {
		t.Fatalf("unexpected payload: %#v", got)
	}
	if _, err := parseKeyValues([]string{"novalue"}); err == nil {
		t.Fatalf("expected error for missing '='")
	}
}

func TestFormatMoney(t *testing.T) {
	tests := map[float64]string{
		0:           "$0.00",
		1234567.891: "$1,234,567.89",
		-50.5:       "-$50.50",
	}
	for in, want := range tests {
		if got := formatMoney(in); got != want {
			t.Fatalf("formatMoney(%v) got=%q want=%q", in, got, want)
		}
	}
}

func TestMarketKind(t *testing.T) {
	if k, err := marketKind("Commodity"); err != nil || k != "commodities" {
		t.Fatalf("commodity got=%q err=%v", k, err)
	}
	if k, err := marketKind("products"); err != nil || k != "products" {
		t.Fatalf("products got=%q err=%v", k, err)
	}
	if _, err := marketKind("stocks"); err == nil {
		t.Fatalf("expected error")
	}
}
