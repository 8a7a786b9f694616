// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package calc

import (
	"math"
	"testing"
)

func TestEval(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"2+2", 4},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-5 + 3", -2},
		{"--5", 5},
		{"-(2 + 3)", -5},
		{"1.5 * 2", 3},
		{"0.25 + .75", 1},
		{"  7  ", 7},
		{"1 - 2 - 3", -4},
		{"100 / 10 / 2", 5},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			got, err := Eval(test.input)
			if err != nil {
				t.Fatalf("Eval(%q): %v", test.input, err)
			}
			if math.Abs(got-test.want) > 1e-9 {
				t.Errorf("Eval(%q) = %v, want %v", test.input, got, test.want)
			}
		})
	}
}

func TestEvalRejects(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"two plus two",
		"2 + x",
		"pow(2, 3)",
		"1 +",
		"(1 + 2",
		"1 + 2)",
		"1 / 0",
		"2 ** 3",
		"1;2",
		"0x10",
		"1.2.3",
		"__import__",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			if got, err := Eval(input); err == nil {
				t.Errorf("Eval(%q) = %v, want error", input, got)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{4, "4"},
		{-12, "-12"},
		{2.5, "2.5"},
		{1.0 / 3.0, "0.3333333333"},
	}

	for _, test := range tests {
		if got := Format(test.value); got != test.want {
			t.Errorf("Format(%v) = %q, want %q", test.value, got, test.want)
		}
	}
}
