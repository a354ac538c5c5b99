// Package importer binds statement documents to institution parsers and
// decodes them into canonical statements.
package importer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/locale"
	"github.com/cleared-dev/auszug/internal/model"
)

var (
	// ErrUnrecognizedStatement means no probe could bind a parser.
	ErrUnrecognizedStatement = errors.New("unrecognized statement")
	// ErrStatementParse means the document is too broken to yield a statement.
	ErrStatementParse = errors.New("statement parse error")
)

// Options carries per-institution decoding settings into a parser.
type Options struct {
	Convention model.Convention
}

// Parser converts one document into a Statement. Undecodable rows are
// reported in Statement.Errors; a returned error means the whole document
// failed and should wrap ErrStatementParse.
type Parser interface {
	Parse(ctx context.Context, doc *document.Document, opts Options) (*model.Statement, error)
	Format() string
	Kinds() []document.Kind
}

// Registry holds named parsers, institutions and the IBAN table. It is
// filled at startup and sealed when a Dispatcher is built from it.
type Registry struct {
	parsers      map[string]Parser
	institutions []model.Institution
	byName       map[string]int
	ibans        map[string]string
	byKind       map[document.Kind]string
	sealed       bool
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[string]Parser),
		byName:  make(map[string]int),
		ibans:   make(map[string]string),
		byKind:  make(map[document.Kind]string),
	}
}

func (r *Registry) mustBeOpen() {
	if r.sealed {
		panic("importer: registry modified after sealing")
	}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	r.mustBeOpen()
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
}

// SetKindDefault names the parser used for a document kind when the bound
// institution's own parser cannot read that kind (an MT940 export of a
// Sparkasse account, say).
func (r *Registry) SetKindDefault(kind document.Kind, format string) {
	r.mustBeOpen()
	r.byKind[kind] = strings.ToLower(format)
}

// AddInstitution registers or replaces an institution. Its parser must
// already be registered.
func (r *Registry) AddInstitution(inst model.Institution) error {
	r.mustBeOpen()
	if inst.Name == "" {
		return fmt.Errorf("institution has no name")
	}
	if r.Get(inst.Parser) == nil {
		return fmt.Errorf("institution %s: unknown parser %q", inst.Name, inst.Parser)
	}
	if inst.Convention == (model.Convention{}) {
		inst.Convention = model.GermanConvention
	}
	if i, ok := r.byName[inst.Name]; ok {
		r.institutions[i] = inst
		return nil
	}
	r.byName[inst.Name] = len(r.institutions)
	r.institutions = append(r.institutions, inst)
	return nil
}

// BindIBAN maps an account IBAN to the institution that issues its
// statements.
func (r *Registry) BindIBAN(iban, institution string) error {
	r.mustBeOpen()
	if _, ok := r.byName[institution]; !ok {
		return fmt.Errorf("binding %s: unknown institution %q", iban, institution)
	}
	r.ibans[locale.CompactIBAN(iban)] = institution
	return nil
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.parsers[strings.ToLower(format)]
}

// Institution returns the named institution.
func (r *Registry) Institution(name string) (model.Institution, bool) {
	i, ok := r.byName[name]
	if !ok {
		return model.Institution{}, false
	}
	return r.institutions[i], true
}

// Institutions returns all institutions in probe order.
func (r *Registry) Institutions() []model.Institution {
	return slices.Clone(r.institutions)
}

// InstitutionForIBAN looks up a registered account IBAN.
func (r *Registry) InstitutionForIBAN(iban string) (model.Institution, bool) {
	name, ok := r.ibans[locale.CompactIBAN(iban)]
	if !ok {
		return model.Institution{}, false
	}
	return r.Institution(name)
}

// parserFor returns the parser that reads kind for inst, or nil.
func (r *Registry) parserFor(inst model.Institution, kind document.Kind) Parser {
	if p := r.Get(inst.Parser); p != nil && slices.Contains(p.Kinds(), kind) {
		return p
	}
	if f, ok := r.byKind[kind]; ok {
		return r.Get(f)
	}
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() { r.sealed = true }

// DefaultRegistry returns a registry with all built-in parsers and
// institutions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&SparkasseParser{})
	r.Register(&HVBParser{})
	r.Register(&VRMonthlyParser{})
	r.Register(&LandauParser{})
	r.Register(&GenoOnlineParser{})
	r.Register(&MT940Parser{})
	r.SetKindDefault(document.KindMT940, FormatMT940)
	r.SetKindDefault(document.KindCSV, FormatGenoOnline)
	for _, inst := range DefaultInstitutions() {
		if err := r.AddInstitution(inst); err != nil {
			panic(err)
		}
	}
	return r
}
