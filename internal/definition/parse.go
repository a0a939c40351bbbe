package definition

import (
	"context"
	"errors"
	"fmt"

	"svcregistry/internal/record"
	"svcregistry/internal/registry"
)

// Reason classifies why a definition file was rejected.
type Reason string

const (
	ReasonUnreadable    Reason = "Unreadable"
	ReasonMalformed     Reason = "MalformedRecord"
	ReasonDepthExceeded Reason = "DepthExceeded"
	ReasonMissingField  Reason = "MissingField"
	ReasonCancelled     Reason = "Cancelled"
)

// ParseFailure describes one definition file that could not be turned into
// a Definition. It never aborts the surrounding batch.
type ParseFailure struct {
	Path   string
	Domain registry.Domain
	Reason Reason
	Err    error
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("parse %s: %s: %v", f.Path, f.Reason, f.Err)
}

func (f *ParseFailure) Unwrap() error { return f.Err }

// Parser reads candidates from a filesystem and decodes them.
type Parser struct {
	fs      registry.FileSystem
	decoder *record.Decoder
}

// NewParser creates a parser. A nil fsys reads the host filesystem and a
// nil decoder uses record.DefaultMaxDepth.
func NewParser(fsys registry.FileSystem, decoder *record.Decoder) *Parser {
	if fsys == nil {
		fsys = registry.OSFileSystem{}
	}
	if decoder == nil {
		decoder = record.NewDecoder(record.DefaultMaxDepth)
	}
	return &Parser{fs: fsys, decoder: decoder}
}

// Parse reads one candidate with the default decoder.
func Parse(ctx context.Context, fsys registry.FileSystem, c registry.Candidate) (*Definition, *ParseFailure) {
	return NewParser(fsys, nil).Parse(ctx, c)
}

// Parse reads the candidate file and extracts its definition. Exactly one of
// the results is non-nil.
func (p *Parser) Parse(ctx context.Context, c registry.Candidate) (*Definition, *ParseFailure) {
	fail := func(reason Reason, err error) (*Definition, *ParseFailure) {
		return nil, &ParseFailure{Path: c.Path, Domain: c.Domain, Reason: reason, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(ReasonCancelled, err)
	}
	data, err := p.fs.ReadFile(c.Path)
	if err != nil {
		return fail(ReasonUnreadable, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(ReasonCancelled, err)
	}

	raw, err := p.decoder.Decode(data)
	if err != nil {
		if errors.Is(err, record.ErrDepthExceeded) {
			return fail(ReasonDepthExceeded, err)
		}
		return fail(ReasonMalformed, err)
	}
	if raw.Kind() != record.KindMapping {
		return fail(ReasonMalformed, fmt.Errorf("%w: root is %s, want mapping", record.ErrMalformedRecord, raw.Kind()))
	}

	var notes []string
	label, note, err := requiredText(raw, KeyLabel)
	if err != nil {
		return fail(ReasonMissingField, err)
	}
	notes = appendNote(notes, note)
	exe, args, exeNotes, err := executable(raw)
	if err != nil {
		return fail(ReasonMissingField, err)
	}
	notes = append(notes, exeNotes...)

	disabled, _ := lookupBool(raw, KeyDisabled)
	return &Definition{
		identifier: label,
		domain:     c.Domain,
		kind:       c.Kind,
		executable: exe,
		arguments:  args,
		source:     c.Path,
		policy:     runPolicy(raw),
		disabled:   disabled,
		notes:      notes,
		raw:        raw,
	}, nil
}

// text converts a String, Data blob or byte-code Array to a string. Blobs are
// read one byte per character; when that misrenders multi-byte text the
// returned note says so.
func text(v record.Value, name string) (string, string, error) {
	s, ok := record.DisplayString(v)
	if !ok {
		return "", "", fmt.Errorf("%s is %s, want string", name, v.Kind())
	}
	if v.Kind() == record.KindString {
		return s, "", nil
	}
	b, isData := v.AsData()
	if !isData {
		b, _ = v.ByteCodes()
	}
	if record.LooksMultiByte(b) {
		return s, fmt.Sprintf("%s is a %s holding multi-byte text, shown one character per byte", name, v.Kind()), nil
	}
	return s, "", nil
}

func requiredText(raw record.Value, key string) (string, string, error) {
	v, ok := raw.Lookup(key)
	if !ok {
		return "", "", fmt.Errorf("%s not set", key)
	}
	s, note, err := text(v, key)
	if err != nil {
		return "", "", err
	}
	if s == "" {
		return "", "", fmt.Errorf("%s is empty", key)
	}
	return s, note, nil
}

func appendNote(notes []string, note string) []string {
	if note == "" {
		return notes
	}
	return append(notes, note)
}

// executable resolves the program path: Program when set, otherwise the
// first element of ProgramArguments.
func executable(raw record.Value) (string, []string, []string, error) {
	var args, notes []string
	if v, ok := raw.Lookup(KeyProgramArguments); ok {
		if v.Kind() != record.KindArray {
			return "", nil, nil, fmt.Errorf("%s is %s, want array", KeyProgramArguments, v.Kind())
		}
		for i, item := range v.Items() {
			s, note, err := text(item, fmt.Sprintf("%s[%d]", KeyProgramArguments, i))
			if err != nil {
				return "", nil, nil, err
			}
			notes = appendNote(notes, note)
			args = append(args, s)
		}
	}

	if _, ok := raw.Lookup(KeyProgram); ok {
		prog, note, err := requiredText(raw, KeyProgram)
		if err != nil {
			return "", nil, nil, err
		}
		return prog, args, appendNote(notes, note), nil
	}
	if len(args) == 0 || args[0] == "" {
		return "", nil, nil, fmt.Errorf("neither %s nor %s names an executable", KeyProgram, KeyProgramArguments)
	}
	return args[0], args, notes, nil
}

// runPolicy maps RunAtLoad and KeepAlive to a policy. KeepAlive counts when
// it is true or a condition dictionary.
func runPolicy(raw record.Value) RunPolicy {
	if v, ok := raw.Lookup(KeyKeepAlive); ok {
		if b, isBool := v.AsBool(); (isBool && b) || v.Kind() == record.KindMapping {
			return KeepAlive
		}
	}
	if b, ok := lookupBool(raw, KeyRunAtLoad); ok && b {
		return RunAtLoad
	}
	return OnDemand
}

func lookupBool(raw record.Value, key string) (bool, bool) {
	v, ok := raw.Lookup(key)
	if !ok {
		return false, false
	}
	return v.AsBool()
}
