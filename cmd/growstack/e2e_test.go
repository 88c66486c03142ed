package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// E2ELoweringTestSpec is one end-to-end lowering test case
type E2ELoweringTestSpec struct {
	Name         string   `yaml:"name"`
	Args         []string `yaml:"args"`          // Flags passed before the input file
	Input        string   `yaml:"input"`         // YAML function definitions
	Expect       []string `yaml:"expect"`        // Strings that must appear in output
	ExpectOrder  []string `yaml:"expect_order"`  // Strings that must appear in this order
	ExpectUnique []string `yaml:"expect_unique"` // Strings that must appear exactly once
	ExpectNot    []string `yaml:"expect_not"`    // Strings that must NOT appear in output
	Skip         string   `yaml:"skip,omitempty"`
}

// E2ELoweringTestFile represents the lowering.yaml file structure
type E2ELoweringTestFile struct {
	Tests []E2ELoweringTestSpec `yaml:"tests"`
}

func TestE2ELowering(t *testing.T) {
	data, err := os.ReadFile("../../testdata/lowering.yaml")
	if err != nil {
		t.Fatalf("failed to read lowering.yaml: %v", err)
	}

	var testFile E2ELoweringTestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse lowering.yaml: %v", err)
	}
	if len(testFile.Tests) == 0 {
		t.Fatal("lowering.yaml has no tests")
	}

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}

			path := writeInput(t, tc.Input)

			resetFlags()
			var out, errOut bytes.Buffer
			cmd := newRootCmd(&out, &errOut)
			cmd.SetArgs(normalizeFlags(append(append([]string{}, tc.Args...), path)))
			if err := cmd.Execute(); err != nil {
				t.Fatalf("growstack failed: %v\nstderr: %s", err, errOut.String())
			}
			output := out.String()

			for _, exp := range tc.Expect {
				if !strings.Contains(output, exp) {
					t.Errorf("expected output to contain %q, got:\n%s", exp, output)
				}
			}

			pos := 0
			for _, exp := range tc.ExpectOrder {
				idx := strings.Index(output[pos:], exp)
				if idx < 0 {
					t.Errorf("expected %q after position %d, got:\n%s", exp, pos, output)
					break
				}
				pos += idx + len(exp)
			}

			for _, exp := range tc.ExpectUnique {
				if n := strings.Count(output, exp); n != 1 {
					t.Errorf("expected %q exactly once, found %d times in:\n%s", exp, n, output)
				}
			}

			for _, exp := range tc.ExpectNot {
				if strings.Contains(output, exp) {
					t.Errorf("expected output NOT to contain %q, got:\n%s", exp, output)
				}
			}
		})
	}
}
