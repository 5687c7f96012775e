// Package manifest reads and writes the project manifest (agpm.toml): the
// source table and the per-type dependency tables a project declares
// directly. Grounded in the teacher's manifest.go/toml.go pair — same
// raw/cooked struct split and same "a dependency can be a bare string or a
// table with extra properties" shorthand — but using TOML via
// github.com/pelletier/go-toml/v2 instead of the teacher's JSON, since
// spec.md §3 specifies a TOML manifest the way Cargo/`dep`'s later
// Gopkg.toml format do.
package manifest

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/resource"
)

// FileName is the manifest's canonical filename within a project directory.
const FileName = "agpm.toml"

// SourceSpec is one entry in the manifest's [sources] table.
type SourceSpec struct {
	Name string
	URL  string
}

// Manifest is the cooked, in-memory form of agpm.toml.
type Manifest struct {
	Sources      map[string]string // name -> git URL
	Dependencies map[resource.Type]map[string]resource.DependencySpec
}

// New returns an empty Manifest with every type's dependency table
// initialized, so callers never need a nil check before indexing by type.
func New() *Manifest {
	m := &Manifest{
		Sources:      make(map[string]string),
		Dependencies: make(map[resource.Type]map[string]resource.DependencySpec),
	}
	for _, t := range resource.AllTypes {
		m.Dependencies[t] = make(map[string]resource.DependencySpec)
	}
	return m
}

// rawManifest is the on-disk TOML shape. Each per-type table is
// map[alias]rawDependency; a raw dependency may be declared as a bare
// string ("agents/helper.md"), shorthand for a local {path = "..."}, so
// rawDependency implements TOML's text-unmarshaler-like duck type by hand
// in UnmarshalTOML.
type rawManifest struct {
	Sources map[string]string `toml:"sources"`

	Agents     map[string]rawDependency `toml:"agents"`
	Snippets   map[string]rawDependency `toml:"snippets"`
	Commands   map[string]rawDependency `toml:"commands"`
	Scripts    map[string]rawDependency `toml:"scripts"`
	Hooks      map[string]rawDependency `toml:"hooks"`
	MCPServers map[string]rawDependency `toml:"mcp-servers"`
	Skills     map[string]rawDependency `toml:"skills"`
}

type rawDependency struct {
	Source     string         `toml:"source"`
	Path       string         `toml:"path"`
	Version    string         `toml:"version"`
	Tool       string         `toml:"tool"`
	Name       string         `toml:"name"`
	Vars       map[string]any `toml:"vars"`
	Install    *bool          `toml:"install"`
	Flatten    bool           `toml:"flatten"`
	Templating *bool          `toml:"templating"`

	// shorthand holds the value when the TOML entry was a bare string
	// rather than a table; populated by UnmarshalTOML.
	shorthand string
	isTable   bool
}

// UnmarshalTOML implements the shorthand-or-table duck type go-toml/v2
// dispatches to for values it cannot map directly onto the struct (spec.md
// §3: a dependency may be written as a bare local path string).
func (d *rawDependency) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		d.shorthand = v
		return nil
	case map[string]any:
		d.isTable = true
		b, err := toml.Marshal(v)
		if err != nil {
			return err
		}
		type alias rawDependency
		var a alias
		if err := toml.Unmarshal(b, &a); err != nil {
			return err
		}
		*d = rawDependency(a)
		d.isTable = true
		return nil
	default:
		return fmt.Errorf("unsupported dependency entry type %T", value)
	}
}

// Load reads and parses the manifest file at path.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading manifest %s", path)
	}
	return Parse(b)
}

// Parse decodes raw TOML bytes into a cooked Manifest.
func Parse(b []byte) (*Manifest, error) {
	var raw rawManifest
	if err := toml.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing manifest")
	}

	m := New()
	m.Sources = raw.Sources

	tables := map[resource.Type]map[string]rawDependency{
		resource.TypeAgent:     raw.Agents,
		resource.TypeSnippet:   raw.Snippets,
		resource.TypeCommand:   raw.Commands,
		resource.TypeScript:    raw.Scripts,
		resource.TypeHook:      raw.Hooks,
		resource.TypeMCPServer: raw.MCPServers,
		resource.TypeSkill:     raw.Skills,
	}

	for t, table := range tables {
		for alias, rd := range table {
			spec, err := toDependencySpec(alias, t, rd)
			if err != nil {
				return nil, err
			}
			m.Dependencies[t][alias] = spec
		}
	}

	return m, nil
}

func toDependencySpec(alias string, t resource.Type, rd rawDependency) (resource.DependencySpec, error) {
	spec := resource.DependencySpec{
		Type:          t,
		ManifestAlias: alias,
		RequiredBy:    "manifest",
		Install:       true,
		Templating:    true,
	}

	if !rd.isTable {
		// Shorthand: a bare string is a local path relative to the project.
		spec.Path = rd.shorthand
		return spec, nil
	}

	spec.Source = rd.Source
	spec.Path = rd.Path
	if spec.Path == "" {
		spec.Path = alias
	}
	spec.Version = rd.Version
	spec.Tool = rd.Tool
	spec.CustomName = rd.Name
	spec.Vars = rd.Vars
	spec.Flatten = rd.Flatten
	if rd.Install != nil {
		spec.Install = *rd.Install
	}
	if rd.Templating != nil {
		spec.Templating = *rd.Templating
	}

	if spec.Source == "" && spec.Version != "" {
		return resource.DependencySpec{}, errors.Errorf("dependency %q: version constraint requires a source", alias)
	}

	return spec, nil
}

// Save writes the manifest back out as TOML, in a deterministic key order
// (sources and each per-type table sorted by alias), so re-saving an
// unmodified manifest produces a byte-identical file.
func Save(path string, m *Manifest) error {
	raw := rawManifest{
		Sources:    m.Sources,
		Agents:     toRawTable(m.Dependencies[resource.TypeAgent]),
		Snippets:   toRawTable(m.Dependencies[resource.TypeSnippet]),
		Commands:   toRawTable(m.Dependencies[resource.TypeCommand]),
		Scripts:    toRawTable(m.Dependencies[resource.TypeScript]),
		Hooks:      toRawTable(m.Dependencies[resource.TypeHook]),
		MCPServers: toRawTable(m.Dependencies[resource.TypeMCPServer]),
		Skills:     toRawTable(m.Dependencies[resource.TypeSkill]),
	}

	b, err := toml.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "encoding manifest")
	}
	return os.WriteFile(path, b, 0o644)
}

func toRawTable(deps map[string]resource.DependencySpec) map[string]rawDependency {
	out := make(map[string]rawDependency, len(deps))
	for alias, spec := range deps {
		out[alias] = rawDependency{
			Source:     spec.Source,
			Path:       spec.Path,
			Version:    spec.Version,
			Tool:       spec.Tool,
			Name:       spec.CustomName,
			Vars:       spec.Vars,
			Install:    &spec.Install,
			Flatten:    spec.Flatten,
			Templating: &spec.Templating,
			isTable:    true,
		}
	}
	return out
}

// AllSpecs returns every declared dependency across all types, sorted by
// (Type, ManifestAlias) for deterministic downstream processing.
func (m *Manifest) AllSpecs() []resource.DependencySpec {
	var out []resource.DependencySpec
	for _, t := range resource.AllTypes {
		for _, spec := range m.Dependencies[t] {
			out = append(out, spec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ManifestAlias < out[j].ManifestAlias
	})
	return out
}

// Validate reports the first structural error found (spec.md §3): every
// non-local dependency's Source must exist in the manifest's source table.
func (m *Manifest) Validate() error {
	for _, spec := range m.AllSpecs() {
		if spec.IsLocal() {
			continue
		}
		if _, ok := m.Sources[spec.Source]; !ok {
			return errs.Wrap(errs.ErrSourceNotFound, "dependency %q references undeclared source %q", spec.ManifestAlias, spec.Source)
		}
	}
	return nil
}
