package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
)

// definitionFile is the YAML shape of a workflow definition.
type definitionFile struct {
	Type        string           `yaml:"type"`
	Initial     string           `yaml:"initial"`
	Statuses    []string         `yaml:"statuses"`
	Terminal    []string         `yaml:"terminal"`
	SingleClaim bool             `yaml:"single_claim"`
	Transitions []transitionFile `yaml:"transitions"`
}

type transitionFile struct {
	From         stringList `yaml:"from"`
	Action       string     `yaml:"action"`
	To           string     `yaml:"to"`
	Requires     []string   `yaml:"requires"`
	RequireNote  bool       `yaml:"require_note"`
	Roles        []string   `yaml:"roles"`
	AssigneeOnly bool       `yaml:"assignee_only"`
	Claim        bool       `yaml:"claim"`
	Derive       []string   `yaml:"derive"`
}

// stringList accepts either a scalar or a sequence.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = stringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: expected a status or a list of statuses", node.Line)
	}
}

// LoadDefinitionsDir loads every *.yaml / *.yml file under dir.
func LoadDefinitionsDir(dir string) ([]*domainwf.Definition, error) {
	defs, err := LoadDefinitions(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
	}
	return defs, nil
}

// LoadDefinitions walks fsys in lexical order. A file may hold several
// YAML documents, one definition each.
func LoadDefinitions(fsys fs.FS) ([]*domainwf.Definition, error) {
	var defs []*domainwf.Definition

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(path.Ext(p))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		parsed, err := ParseDefinitions(data)
		if err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
		defs = append(defs, parsed...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// ParseDefinitions decodes every document in data and builds it.
func ParseDefinitions(data []byte) ([]*domainwf.Definition, error) {
	var defs []*domainwf.Definition

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	for {
		var file definitionFile
		err := dec.Decode(&file)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing definition: %w", err)
		}

		def, err := file.build()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (f definitionFile) build() (*domainwf.Definition, error) {
	b := domainwf.NewBuilder(f.Type).
		Initial(domainwf.Status(f.Initial))
	if f.SingleClaim {
		b.SingleClaim()
	}
	for _, s := range f.Statuses {
		b.Statuses(domainwf.Status(s))
	}
	for _, s := range f.Terminal {
		b.Terminal(domainwf.Status(s))
	}

	for i, t := range f.Transitions {
		opts, err := t.options()
		if err != nil {
			return nil, fmt.Errorf("%w %s: transition %d: %w", domainwf.ErrInvalidDefinition, f.Type, i, err)
		}
		if len(t.From) == 0 {
			return nil, fmt.Errorf("%w %s: transition %d (%s) has no source status", domainwf.ErrInvalidDefinition, f.Type, i, t.Action)
		}
		for _, from := range t.From {
			b.Configure(domainwf.Status(from)).
				Permit(domainwf.Action(t.Action), domainwf.Status(t.To), opts...)
		}
	}

	return b.Build()
}

func (t transitionFile) options() ([]domainwf.RuleOption, error) {
	var opts []domainwf.RuleOption
	if len(t.Requires) > 0 {
		opts = append(opts, domainwf.Requires(t.Requires...))
	}
	if t.RequireNote {
		opts = append(opts, domainwf.RequiresNote())
	}
	if len(t.Roles) > 0 {
		opts = append(opts, domainwf.RestrictTo(t.Roles...))
	}
	if t.AssigneeOnly {
		opts = append(opts, domainwf.AssigneeOnly())
	}
	if t.Claim {
		opts = append(opts, domainwf.Claims())
	}
	for _, spec := range t.Derive {
		d, err := domainwf.ParseDerivation(spec)
		if err != nil {
			return nil, err
		}
		opts = append(opts, domainwf.Derives(d))
	}
	return opts, nil
}

// NewRegistry registers the built-in definitions followed by extra ones.
// An extra definition reusing a built-in tag is rejected.
func NewRegistry(extra ...*domainwf.Definition) (*domainwf.Registry, error) {
	return domainwf.NewRegistry(append(BuiltinDefinitions(), extra...)...)
}
