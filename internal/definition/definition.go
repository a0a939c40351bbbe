// Package definition turns a located service definition file into a
// ServiceDefinition.
package definition

import (
	"svcregistry/internal/record"
	"svcregistry/internal/registry"
)

// Keys read from a definition record.
const (
	KeyLabel            = "Label"
	KeyProgram          = "Program"
	KeyProgramArguments = "ProgramArguments"
	KeyRunAtLoad        = "RunAtLoad"
	KeyKeepAlive        = "KeepAlive"
	KeyDisabled         = "Disabled"
)

// RunPolicy is the declared start behaviour of a service.
type RunPolicy int

const (
	// OnDemand is the default when the record declares nothing.
	OnDemand RunPolicy = iota
	RunAtLoad
	KeepAlive
)

func (p RunPolicy) String() string {
	switch p {
	case RunAtLoad:
		return "RunAtLoad"
	case KeepAlive:
		return "KeepAlive"
	}
	return "OnDemand"
}

// Definition is a parsed service definition. It is immutable once returned
// by Parse.
type Definition struct {
	identifier string
	domain     registry.Domain
	kind       registry.ServiceKind
	executable string
	arguments  []string
	source     string
	policy     RunPolicy
	disabled   bool
	notes      []string
	raw        record.Value
}

// New builds a Definition directly. Intended for callers that already hold
// the fields, such as tests and alternative registries.
func New(identifier string, domain registry.Domain, executable, source string) *Definition {
	return &Definition{
		identifier: identifier,
		domain:     domain,
		executable: executable,
		source:     source,
		raw:        record.Null(),
	}
}

func (d *Definition) Identifier() string { return d.identifier }
func (d *Definition) Domain() registry.Domain { return d.domain }
func (d *Definition) Kind() registry.ServiceKind { return d.kind }
func (d *Definition) Executable() string { return d.executable }
func (d *Definition) Source() string { return d.source }
func (d *Definition) RunPolicy() RunPolicy { return d.policy }
func (d *Definition) DeclaredDisabled() bool { return d.disabled }
func (d *Definition) Record() record.Value { return d.raw }

// Arguments returns a copy of the declared program arguments.
func (d *Definition) Arguments() []string {
	out := make([]string, len(d.arguments))
	copy(out, d.arguments)
	return out
}

// Notes returns the limitations met while reading the definition, such as a
// byte blob whose text is multi-byte UTF-8.
func (d *Definition) Notes() []string {
	out := make([]string, len(d.notes))
	copy(out, d.notes)
	return out
}

// Text returns a top-level field as display text. Data blobs and byte-code
// arrays are converted one byte per character; see
// record.BlobToDisplayString.
func (d *Definition) Text(key string) (string, bool) {
	v, ok := d.raw.Lookup(key)
	if !ok {
		return "", false
	}
	return record.DisplayString(v)
}
