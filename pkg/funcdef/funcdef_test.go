package funcdef

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raymyers/growstack/pkg/arch"
	"github.com/raymyers/growstack/pkg/ir"
	"github.com/raymyers/growstack/pkg/linkage"
)

const chooseYAML = `
functions:
  - name: choose
    params: [i32, i64]
    returns: [i64, i32, i32]
    body:
      if:
        cond: p0
        then: {return: [p1, 1, 2]}
        else: {return: [-1, p0, 0x10]}
  - name: floats
    params: []
    returns: [f64, f32, ptr]
    body:
      return: [1.5, 2, 4096]
`

func parse(t *testing.T, src string) *File {
	t.Helper()
	f, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	return f
}

func TestParse(t *testing.T) {
	f := parse(t, chooseYAML)
	if len(f.Functions) != 2 {
		t.Fatalf("len(Functions) = %d, want 2", len(f.Functions))
	}
	fn := f.Functions[0]
	if fn.Name != "choose" || fn.Body.If == nil || fn.Body.If.Cond != "p0" {
		t.Errorf("unexpected function: %+v", fn)
	}
	if got := fn.Body.If.Else.Return; len(got) != 3 || got[0] != "-1" || got[2] != "0x10" {
		t.Errorf("else return = %v", got)
	}
	sig, err := fn.Signature()
	if err != nil {
		t.Fatal(err)
	}
	if sig.String() != "(i32, i64) -> (i64, i32, i32)" {
		t.Errorf("Signature() = %s", sig)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bad yaml", "functions: [\n"},
		{"missing name", "functions:\n  - params: [i32]\n"},
		{"duplicate", "functions:\n  - name: f\n  - name: f\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.src)); !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("Parse() error = %v, want ErrInvalidDefinition", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.yaml")
	if err := os.WriteFile(path, []byte(chooseYAML), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Functions) != 2 {
		t.Errorf("len(Functions) = %d, want 2", len(f.Functions))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want ErrNotExist", err)
	}
}

func printGraph(g *ir.Graph) string {
	var buf bytes.Buffer
	ir.NewPrinter(&buf).PrintGraph(g)
	return buf.String()
}

func TestBuild64(t *testing.T) {
	f := parse(t, chooseYAML)
	g, err := Build(&f.Functions[0], arch.AMD64)
	if err != nil {
		t.Fatal(err)
	}
	if err := ir.Verify(g); err != nil {
		t.Fatal(err)
	}

	output := printGraph(g)
	expected := []string{
		"func choose(i32, i64) -> (i64, i32, i32) {",
		"v0 = Parameter 0 Word32",
		"v1 = Parameter 1 Word64",
		"Branch v0 ? B1 : B2",
		"Return pop v5 [v1, v3, v4]",
		"Word64Constant 18446744073709551615",
		"Word32Constant 16",
	}
	for _, exp := range expected {
		if !strings.Contains(output, exp) {
			t.Errorf("expected output to contain %q, got:\n%s", exp, output)
		}
	}

	rets := ir.OpsOfType[ir.Return](g)
	desc := linkage.ForTarget(g.Sig, arch.AMD64)
	for _, i := range rets {
		if n := len(g.Op(i).(ir.Return).Values); n != desc.ReturnCount() {
			t.Errorf("return has %d values, descriptor has %d", n, desc.ReturnCount())
		}
	}
}

func TestBuild32SplitsInt64(t *testing.T) {
	f := parse(t, chooseYAML)
	g, err := Build(&f.Functions[0], arch.IA32)
	if err != nil {
		t.Fatal(err)
	}
	if err := ir.Verify(g); err != nil {
		t.Fatal(err)
	}

	output := printGraph(g)
	for _, exp := range []string{
		"v1 = Parameter 1 Word32",
		"v2 = Parameter 2 Word32",
		"Word32Constant 4294967295",
	} {
		if !strings.Contains(output, exp) {
			t.Errorf("expected output to contain %q, got:\n%s", exp, output)
		}
	}
	if strings.Contains(output, "Word64") {
		t.Errorf("32-bit graph should not contain 64-bit values:\n%s", output)
	}

	desc := linkage.ForTarget(g.Sig, arch.IA32)
	for _, i := range ir.OpsOfType[ir.Return](g) {
		if n := len(g.Op(i).(ir.Return).Values); n != desc.ReturnCount() {
			t.Errorf("return has %d values, narrowed descriptor has %d", n, desc.ReturnCount())
		}
	}
}

func TestBuildFloatsAndPointers(t *testing.T) {
	f := parse(t, chooseYAML)
	for _, target := range []*arch.Target{arch.ARM64, arch.ARM} {
		g, err := Build(&f.Functions[1], target)
		if err != nil {
			t.Fatalf("%s: %v", target, err)
		}
		output := printGraph(g)
		want := "Word64Constant 4096"
		if target.Is32Bit() {
			want = "Word32Constant 4096"
		}
		for _, exp := range []string{"Float64Constant 1.5", "Float32Constant 2", want} {
			if !strings.Contains(output, exp) {
				t.Errorf("%s: expected output to contain %q, got:\n%s", target, exp, output)
			}
		}
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   Function
		want string
	}{
		{"bad type", Function{Name: "f", Params: []string{"i128"}}, "params"},
		{"empty body", Function{Name: "f"}, "needs a return or an if"},
		{"both", Function{Name: "f", Body: Body{Return: []string{}, If: &IfBody{Cond: "1"}}}, "both"},
		{"count", Function{Name: "f", Returns: []string{"i32"}, Body: Body{Return: []string{"1", "2"}}}, "2 values for 1 returns"},
		{"unknown param", Function{Name: "f", Returns: []string{"i32"}, Body: Body{Return: []string{"p3"}}}, `unknown parameter "p3"`},
		{"param type", Function{Name: "f", Params: []string{"i64"}, Returns: []string{"i32"}, Body: Body{Return: []string{"p0"}}}, "p0 is i64, want i32"},
		{"bad literal", Function{Name: "f", Returns: []string{"f64"}, Body: Body{Return: []string{"x"}}}, "bad f64 literal"},
		{"too wide", Function{Name: "f", Returns: []string{"i32"}, Body: Body{Return: []string{"0x100000000"}}}, "does not fit"},
		{"nested", Function{Name: "f", Returns: []string{"i32"}, Body: Body{If: &IfBody{
			Cond: "1",
			Then: Body{Return: []string{"1"}},
		}}}, "body.if.else"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(&tt.fn, arch.AMD64)
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("Build() error = %v, want ErrInvalidDefinition", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err, tt.want)
			}
		})
	}
}
