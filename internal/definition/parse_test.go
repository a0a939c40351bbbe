package definition

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"svcregistry/internal/record"
	"svcregistry/internal/registry"
)

type field struct {
	key   string
	value record.Value
}

func plist(fields ...field) record.Value {
	m := record.NewMapping()
	for _, f := range fields {
		m.Set(f.key, f.value)
	}
	return record.MappingValue(m)
}

func writeXML(t *testing.T, dir, name string, v record.Value) string {
	t.Helper()
	data, err := record.EncodeXML(v)
	if err != nil {
		t.Fatalf("EncodeXML: %v", err)
	}
	return writeRaw(t, dir, name, data)
}

func writeRaw(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func candidate(path string) registry.Candidate {
	return registry.Candidate{Path: path, Domain: registry.Global(), Kind: registry.KindDaemon}
}

func TestParse_ProgramArguments(t *testing.T) {
	dir := t.TempDir()
	path := writeXML(t, dir, "com.example.agent.plist", plist(
		field{KeyLabel, record.String("com.example.agent")},
		field{KeyProgramArguments, record.Array(record.String("/usr/local/bin/agent"), record.String("-v"))},
	))

	def, failure := Parse(context.Background(), nil, candidate(path))
	if failure != nil {
		t.Fatalf("Parse failed: %v", failure)
	}
	if def.Identifier() != "com.example.agent" {
		t.Errorf("Identifier = %q", def.Identifier())
	}
	if def.Executable() != "/usr/local/bin/agent" {
		t.Errorf("Executable = %q", def.Executable())
	}
	if got := def.Arguments(); len(got) != 2 || got[1] != "-v" {
		t.Errorf("Arguments = %v", got)
	}
	if def.Domain() != registry.Global() || def.Source() != path {
		t.Errorf("Domain/Source = %s/%s", def.Domain(), def.Source())
	}
	if def.RunPolicy() != OnDemand {
		t.Errorf("RunPolicy = %s, want OnDemand default", def.RunPolicy())
	}
}

func TestParse_ProgramWinsAndBinaryFormat(t *testing.T) {
	v := plist(
		field{KeyLabel, record.String("com.example.daemon")},
		field{KeyProgram, record.String("/usr/sbin/daemond")},
		field{KeyProgramArguments, record.Array(record.String("daemond"), record.String("--fg"))},
		field{KeyRunAtLoad, record.Bool(true)},
		field{KeyDisabled, record.Bool(true)},
	)
	data, err := record.EncodeBinary(v)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	path := writeRaw(t, t.TempDir(), "d.plist", data)

	def, failure := Parse(context.Background(), nil, candidate(path))
	if failure != nil {
		t.Fatalf("Parse failed: %v", failure)
	}
	if def.Executable() != "/usr/sbin/daemond" {
		t.Errorf("Executable = %q, want Program value", def.Executable())
	}
	if def.RunPolicy() != RunAtLoad {
		t.Errorf("RunPolicy = %s, want RunAtLoad", def.RunPolicy())
	}
	if !def.DeclaredDisabled() {
		t.Error("DeclaredDisabled = false, want true")
	}
	if !def.Record().Equal(v) {
		t.Error("raw record differs from the file contents")
	}
}

func TestParse_RunPolicy(t *testing.T) {
	cond := record.NewMapping()
	cond.Set("SuccessfulExit", record.Bool(false))

	tests := []struct {
		name  string
		extra []field
		want  RunPolicy
	}{
		{"absent", nil, OnDemand},
		{"run at load false", []field{{KeyRunAtLoad, record.Bool(false)}}, OnDemand},
		{"keep alive true", []field{{KeyKeepAlive, record.Bool(true)}}, KeepAlive},
		{"keep alive conditions", []field{{KeyKeepAlive, record.MappingValue(cond)}}, KeepAlive},
		{"keep alive beats run at load", []field{{KeyRunAtLoad, record.Bool(true)}, {KeyKeepAlive, record.Bool(true)}}, KeepAlive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := append([]field{
				{KeyLabel, record.String("l")},
				{KeyProgram, record.String("/bin/l")},
			}, tt.extra...)
			path := writeXML(t, t.TempDir(), "l.plist", plist(fields...))
			def, failure := Parse(context.Background(), nil, candidate(path))
			if failure != nil {
				t.Fatalf("Parse failed: %v", failure)
			}
			if def.RunPolicy() != tt.want {
				t.Errorf("RunPolicy = %s, want %s", def.RunPolicy(), tt.want)
			}
		})
	}
}

func TestParse_Failures(t *testing.T) {
	dir := t.TempDir()
	valid, err := record.EncodeBinary(plist(
		field{KeyLabel, record.String("x")},
		field{KeyProgram, record.String("/bin/x")},
	))
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	deep := record.String("leaf")
	for i := 0; i < record.DefaultMaxDepth+2; i++ {
		deep = record.Array(deep)
	}

	tests := []struct {
		name   string
		path   string
		reason Reason
	}{
		{"missing file", filepath.Join(dir, "absent.plist"), ReasonUnreadable},
		{"truncated", writeRaw(t, dir, "trunc.plist", valid[:len(valid)/2]), ReasonMalformed},
		{"root not mapping", writeXML(t, dir, "arr.plist", record.Array(record.String("a"))), ReasonMalformed},
		{"too deep", writeXML(t, dir, "deep.plist", plist(field{KeyLabel, deep})), ReasonDepthExceeded},
		{"no label", writeXML(t, dir, "nolabel.plist", plist(field{KeyProgram, record.String("/bin/x")})), ReasonMissingField},
		{"label wrong kind", writeXML(t, dir, "intlabel.plist", plist(
			field{KeyLabel, record.Integer(3)},
			field{KeyProgram, record.String("/bin/x")},
		)), ReasonMissingField},
		{"label out of byte range", writeXML(t, dir, "widelabel.plist", plist(
			field{KeyLabel, record.Array(record.Integer(72), record.Integer(300))},
			field{KeyProgram, record.String("/bin/x")},
		)), ReasonMissingField},
		{"empty data label", writeXML(t, dir, "emptylabel.plist", plist(
			field{KeyLabel, record.Data(nil)},
			field{KeyProgram, record.String("/bin/x")},
		)), ReasonMissingField},
		{"no executable", writeXML(t, dir, "noexe.plist", plist(field{KeyLabel, record.String("x")})), ReasonMissingField},
		{"empty arguments", writeXML(t, dir, "noargs.plist", plist(
			field{KeyLabel, record.String("x")},
			field{KeyProgramArguments, record.Array()},
		)), ReasonMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, failure := Parse(context.Background(), nil, candidate(tt.path))
			if def != nil {
				t.Fatalf("Parse returned a definition for %s", tt.path)
			}
			if failure == nil {
				t.Fatal("Parse returned neither definition nor failure")
			}
			if failure.Reason != tt.reason {
				t.Errorf("Reason = %s, want %s (%v)", failure.Reason, tt.reason, failure.Err)
			}
			if failure.Path != tt.path {
				t.Errorf("Path = %s, want %s", failure.Path, tt.path)
			}
		})
	}
}

func TestParse_FailureWrapsCause(t *testing.T) {
	path := writeRaw(t, t.TempDir(), "junk.plist", []byte("not a plist"))
	_, failure := Parse(context.Background(), nil, candidate(path))
	if failure == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(failure, record.ErrMalformedRecord) {
		t.Errorf("failure %v does not wrap ErrMalformedRecord", failure)
	}

	_, failure = Parse(context.Background(), nil, candidate(filepath.Join(t.TempDir(), "none.plist")))
	if failure == nil || !errors.Is(failure, fs.ErrNotExist) {
		t.Errorf("failure %v does not wrap ErrNotExist", failure)
	}
}

func TestParse_Cancelled(t *testing.T) {
	path := writeXML(t, t.TempDir(), "a.plist", plist(
		field{KeyLabel, record.String("a")},
		field{KeyProgram, record.String("/bin/a")},
	))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	def, failure := Parse(ctx, nil, candidate(path))
	if def != nil || failure == nil || failure.Reason != ReasonCancelled {
		t.Fatalf("got %v, %v; want cancelled failure", def, failure)
	}
	if !errors.Is(failure, context.Canceled) {
		t.Errorf("failure %v does not wrap context.Canceled", failure)
	}
}

func TestDefinitionText(t *testing.T) {
	path := writeXML(t, t.TempDir(), "t.plist", plist(
		field{KeyLabel, record.String("t")},
		field{KeyProgram, record.String("/bin/t")},
		field{"Comment", record.Array(record.Integer(72), record.Integer(105))},
		field{"Blob", record.Data([]byte("ok"))},
		field{"Count", record.Integer(3)},
	))
	def, failure := Parse(context.Background(), nil, candidate(path))
	if failure != nil {
		t.Fatalf("Parse failed: %v", failure)
	}

	if s, ok := def.Text("Comment"); !ok || s != "Hi" {
		t.Errorf("Text(Comment) = %q, %v", s, ok)
	}
	if s, ok := def.Text("Blob"); !ok || s != "ok" {
		t.Errorf("Text(Blob) = %q, %v", s, ok)
	}
	if _, ok := def.Text("Count"); ok {
		t.Error("Text(Count) converted an integer")
	}
	if _, ok := def.Text("Missing"); ok {
		t.Error("Text(Missing) reported a value")
	}
}

func TestParse_ByteEncodedText(t *testing.T) {
	hello := record.Array(record.Integer(104), record.Integer(101), record.Integer(108), record.Integer(108), record.Integer(111))

	tests := []struct {
		name      string
		label     record.Value
		program   record.Value
		wantLabel string
		wantExe   string
		wantNotes int
	}{
		{"data label", record.Data([]byte("com.example.blob")), record.String("/bin/x"), "com.example.blob", "/bin/x", 0},
		{"byte code label", hello, record.String("/bin/x"), "hello", "/bin/x", 0},
		{"data program", record.String("p"), record.Data([]byte("/usr/bin/p")), "p", "/usr/bin/p", 0},
		{"multi-byte data label", record.Data([]byte("caf\xc3\xa9")), record.String("/bin/x"), "cafÃ©", "/bin/x", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeXML(t, t.TempDir(), "b.plist", plist(
				field{KeyLabel, tt.label},
				field{KeyProgram, tt.program},
			))
			def, failure := Parse(context.Background(), nil, candidate(path))
			if failure != nil {
				t.Fatalf("Parse failed: %v", failure)
			}
			if def.Identifier() != tt.wantLabel {
				t.Errorf("Identifier = %q, want %q", def.Identifier(), tt.wantLabel)
			}
			if def.Executable() != tt.wantExe {
				t.Errorf("Executable = %q, want %q", def.Executable(), tt.wantExe)
			}
			if got := def.Notes(); len(got) != tt.wantNotes {
				t.Errorf("Notes = %v, want %d", got, tt.wantNotes)
			}
		})
	}
}

func TestParse_ByteEncodedArguments(t *testing.T) {
	path := writeXML(t, t.TempDir(), "a.plist", plist(
		field{KeyLabel, record.String("a")},
		field{KeyProgramArguments, record.Array(
			record.Array(record.Integer(47), record.Integer(98), record.Integer(105), record.Integer(110)),
			record.String("-v"),
		)},
	))
	def, failure := Parse(context.Background(), nil, candidate(path))
	if failure != nil {
		t.Fatalf("Parse failed: %v", failure)
	}
	if def.Executable() != "/bin" {
		t.Errorf("Executable = %q, want /bin", def.Executable())
	}
	if got := def.Arguments(); len(got) != 2 || got[0] != "/bin" {
		t.Errorf("Arguments = %v", got)
	}
}
