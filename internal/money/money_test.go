package money

import (
	"encoding/json"
	"testing"
)

func TestAmountJSON(t *testing.T) {
	var payload struct {
		Value Amount `json:"value"`
	}
	cases := map[string]int64{
		`{"value": 105}`:       10500,
		`{"value": 105.5}`:     10550,
		`{"value": "90.00"}`:   9000,
		`{"value": 0.005}`:     1,
		`{"value": 19.994}`:    1999,
		`{"value": null}`:      0,
		`{"value": "1234.56"}`: 123456,
	}
	for in, want := range cases {
		if err := json.Unmarshal([]byte(in), &payload); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if payload.Value.Cents() != want {
			t.Fatalf("%s: expected %d cents, got %d", in, want, payload.Value.Cents())
		}
	}

	payload.Value = 10500
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"value":105.00}` {
		t.Fatalf("unexpected json %s", out)
	}
}

func TestAmountRejectsGarbage(t *testing.T) {
	var a Amount
	if err := json.Unmarshal([]byte(`"abc"`), &a); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseAndFormat(t *testing.T) {
	a, err := Parse("99,90")
	if err != nil || a.Cents() != 9990 {
		t.Fatalf("Parse(99,90) = %d, %v", a, err)
	}
	a, err = Parse(" 15.00 ")
	if err != nil || a.Cents() != 1500 {
		t.Fatalf("Parse(15.00) = %d, %v", a, err)
	}
	if Format(10500) != "105.00" {
		t.Fatalf("unexpected format %s", Format(10500))
	}
	if Format(-250) != "-2.50" {
		t.Fatalf("unexpected negative format %s", Format(-250))
	}
}
