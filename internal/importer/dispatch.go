package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

// DefaultHeadLines is how many lines of a text document the probes read.
const DefaultHeadLines = 40

// Probe names the dispatcher step that bound a parser.
type Probe string

const (
	ProbeIBAN     Probe = "iban"
	ProbeBankCode Probe = "bank-code"
	ProbeContent  Probe = "content"
	ProbeFilename Probe = "filename"
	ProbeHint     Probe = "hint"
	ProbeForced   Probe = "forced"
)

// Binding is a parser bound to one document.
type Binding struct {
	Institution model.Institution
	Parser      Parser
	Probe       Probe
	Evidence    string // the IBAN, marker or pattern that matched
}

// Parse runs the bound parser and stamps institution and source metadata on
// the result.
func (b Binding) Parse(ctx context.Context, doc *document.Document) (*model.Statement, error) {
	stmt, err := b.Parser.Parse(ctx, doc, Options{Convention: b.Institution.Convention})
	if err != nil {
		return nil, err
	}
	if b.Institution.Name != "" {
		stmt.Institution = b.Institution.Name
	}
	if stmt.SourceFile == "" {
		stmt.SourceFile = doc.Name
	}
	stmt.Encoding = doc.Encoding
	return stmt, nil
}

// Dispatcher maps documents to parsers: IBAN probe, then content probe,
// then filename probe. A weaker probe never overrides a stronger one.
type Dispatcher struct {
	registry  *Registry
	headLines int
}

// NewDispatcher seals r and returns a dispatcher over it.
func NewDispatcher(r *Registry, headLines int) *Dispatcher {
	r.Seal()
	if headLines <= 0 {
		headLines = DefaultHeadLines
	}
	return &Dispatcher{registry: r, headLines: headLines}
}

// Registry returns the sealed registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Bind selects the parser for doc. hint is the institution configured for
// the document's source root, consulted only after the filename table.
func (d *Dispatcher) Bind(doc *document.Document, hint string) (Binding, error) {
	head := doc.Head(d.headLines)

	if b, ok := d.probeIBAN(head, doc.Kind); ok {
		return b, nil
	}
	if b, ok := d.probeContent(head, doc.Kind); ok {
		return b, nil
	}
	if b, ok := d.probeFilename(doc.Name, doc.Kind); ok {
		return b, nil
	}
	if hint != "" {
		if b, err := d.Force(hint, doc.Kind); err == nil {
			b.Probe = ProbeHint
			return b, nil
		}
	}
	return Binding{}, fmt.Errorf("%s: %w", doc.Name, ErrUnrecognizedStatement)
}

// Force binds by institution name or parser format, bypassing the probes.
func (d *Dispatcher) Force(name string, kind document.Kind) (Binding, error) {
	inst, ok := d.registry.Institution(name)
	if !ok {
		for _, candidate := range d.registry.institutions {
			if strings.EqualFold(candidate.Parser, name) {
				inst, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		return Binding{}, fmt.Errorf("unknown institution %q", name)
	}
	p := d.registry.parserFor(inst, kind)
	if p == nil {
		return Binding{}, fmt.Errorf("institution %s cannot read %s documents", name, kind)
	}
	return Binding{Institution: inst, Parser: p, Probe: ProbeForced, Evidence: name}, nil
}

func (d *Dispatcher) bind(inst model.Institution, kind document.Kind, probe Probe, evidence string) (Binding, bool) {
	p := d.registry.parserFor(inst, kind)
	if p == nil {
		return Binding{}, false
	}
	return Binding{Institution: inst, Parser: p, Probe: probe, Evidence: evidence}, true
}

func (d *Dispatcher) probeIBAN(head string, kind document.Kind) (Binding, bool) {
	hits := locale.FindGermanIBANs(head)
	for _, iban := range hits {
		if inst, ok := d.registry.InstitutionForIBAN(iban); ok {
			if b, ok := d.bind(inst, kind, ProbeIBAN, iban); ok {
				return b, true
			}
		}
	}
	// Counterparty IBANs in booking texts say nothing about the issuer, so
	// the bank code is only taken from the statement's own account.
	own := ownIBAN(head)
	code := locale.BankCode(own)
	if code == "" {
		return Binding{}, false
	}
	for _, inst := range d.registry.institutions {
		for _, c := range inst.BankCodes {
			if c == code {
				if b, ok := d.bind(inst, kind, ProbeBankCode, own); ok {
					return b, true
				}
			}
		}
	}
	return Binding{}, false
}

// ownIBAN applies the account IBAN rule of the parsers to raw head text.
func ownIBAN(head string) string {
	var ls []line
	for i, t := range strings.Split(head, "\n") {
		ls = append(ls, line{No: i + 1, Text: t})
	}
	return accountIBAN(ls, 0)
}

func (d *Dispatcher) probeContent(head string, kind document.Kind) (Binding, bool) {
	for _, inst := range d.registry.institutions {
		for _, m := range inst.Markers {
			if m != "" && strings.Contains(head, m) {
				if b, ok := d.bind(inst, kind, ProbeContent, m); ok {
					return b, true
				}
			}
		}
	}
	return Binding{}, false
}

func (d *Dispatcher) probeFilename(name string, kind document.Kind) (Binding, bool) {
	lower := strings.ToLower(name)
	for _, inst := range d.registry.institutions {
		for _, pat := range inst.FilenamePatterns {
			if matchFilename(lower, strings.ToLower(pat)) {
				if b, ok := d.bind(inst, kind, ProbeFilename, pat); ok {
					return b, true
				}
			}
		}
	}
	return Binding{}, false
}

// matchFilename treats a leading "^" as a prefix anchor; other patterns
// match as substrings.
func matchFilename(name, pattern string) bool {
	if p, ok := strings.CutPrefix(pattern, "^"); ok {
		return p != "" && strings.HasPrefix(name, p)
	}
	return pattern != "" && strings.Contains(name, pattern)
}
