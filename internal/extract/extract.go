// Package extract implements spec.md's C4 transitive extractor: reading a
// resource file out of a worktree, parsing its metadata (YAML frontmatter
// for markdown resources, a root JSON object for config-shaped ones), and
// returning the DependencySpecs it declares. Grounded in
// original_source/src/templating/mod.rs's documented frontmatter shape
// (`dependencies: { <type_plural>: [ {path, name, version, ...} ] }`) and in
// the teacher's toml.go mapper style of "collect errors across nested
// fields, bail once at the end" error handling.
package extract

import (
	"bytes"
	"encoding/json"
	"path"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/resource"
)

// MetadataRenderer performs the pre-parse templating pass spec.md §4.4
// requires ("apply templating to the metadata region using the resource's
// variant-input JSON") so that conditional dependency declarations
// (`{% if %}`) are resolved before YAML/JSON parsing sees them. It is a
// narrow slice of the full C10 renderer — no agpm.deps context exists yet
// at extraction time, only the resource's own variant inputs — so it is
// expressed as its own small interface rather than importing the template
// package wholesale.
type MetadataRenderer interface {
	RenderMetadata(raw string, variantInputs map[string]any) (string, error)
}

// rawDependencyEntry is one item in a frontmatter `dependencies.<type>[]`
// list.
type rawDependencyEntry struct {
	Source     string         `yaml:"source" json:"source"`
	Path       string         `yaml:"path" json:"path"`
	Version    string         `yaml:"version" json:"version"`
	Tool       string         `yaml:"tool" json:"tool"`
	Name       string         `yaml:"name" json:"name"`
	Vars       map[string]any `yaml:"vars" json:"vars"`
	Install    *bool          `yaml:"install" json:"install"`
	Flatten    bool           `yaml:"flatten" json:"flatten"`
	Templating *bool          `yaml:"templating" json:"templating"`
}

type dependencyTable map[string][]rawDependencyEntry

type mdFrontmatter struct {
	Dependencies dependencyTable `yaml:"dependencies"`
	Agpm         struct {
		Dependencies dependencyTable `yaml:"dependencies"`
	} `yaml:"agpm"`
}

type jsonMetadata struct {
	Dependencies dependencyTable `json:"dependencies"`
	Agpm         struct {
		Dependencies dependencyTable `json:"dependencies"`
	} `json:"agpm"`
}

// pluralToType inverts resource.Type.Plural for parsing dependency tables.
var pluralToType = func() map[string]resource.Type {
	m := make(map[string]resource.Type, len(resource.AllTypes))
	for _, t := range resource.AllTypes {
		m[t.Plural()] = t
	}
	return m
}()

// Extract reads content (the full bytes of a resource file as checked out
// in a worktree), parses its frontmatter/metadata per the file's resource
// type, and returns the transitive DependencySpecs it declares. parentPath
// is the resource's own source-relative path, used to resolve relative
// dependency paths (spec.md §4.4's path semantics); requiredBy is the
// canonical reference recorded on each returned spec's RequiredBy field.
func Extract(renderer MetadataRenderer, parentPath string, parentType resource.Type, content []byte, variantInputs map[string]any, requiredBy string) ([]resource.DependencySpec, error) {
	region, err := metadataRegion(parentType, content)
	if err != nil {
		return nil, err
	}
	if region == "" {
		return nil, nil
	}

	rendered, err := renderer.RenderMetadata(region, variantInputs)
	if err != nil {
		return nil, errs.Wrap(errs.ErrFrontmatterParse, "rendering metadata for %s", parentPath)
	}

	table, err := parseDependencyTable(parentType, rendered)
	if err != nil {
		return nil, errs.Wrap(errs.ErrFrontmatterParse, "parsing dependencies for %s: %v", parentPath, err)
	}

	var specs []resource.DependencySpec
	for plural, entries := range table {
		t, ok := pluralToType[plural]
		if !ok {
			return nil, errs.Wrap(errs.ErrInvalidDependencyRef, "%s: unknown dependency type %q", parentPath, plural)
		}
		for _, e := range entries {
			spec, err := toDependencySpec(parentPath, t, e, requiredBy)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
	}

	return specs, nil
}

// metadataRegion isolates the YAML frontmatter (between `---` fences) for
// markdown resources, or returns the whole document for JSON-shaped ones
// (mcp-server, hook), which carry their "dependencies" key at the root
// alongside their functional config.
func metadataRegion(t resource.Type, content []byte) (string, error) {
	if t.Extension() == ".json" {
		return string(content), nil
	}

	s := string(content)
	if !strings.HasPrefix(s, "---\n") && !strings.HasPrefix(s, "---\r\n") {
		return "", nil
	}
	rest := s[4:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return "", errs.Wrap(errs.ErrFrontmatterParse, "unterminated frontmatter fence")
	}
	return rest[:end], nil
}

func parseDependencyTable(t resource.Type, region string) (dependencyTable, error) {
	merged := make(dependencyTable)

	if t.Extension() == ".json" {
		var meta jsonMetadata
		if err := json.NewDecoder(bytes.NewReader([]byte(region))).Decode(&meta); err != nil {
			return nil, errors.Wrap(err, "decoding JSON metadata")
		}
		mergeDependencyTables(merged, meta.Dependencies)
		mergeDependencyTables(merged, meta.Agpm.Dependencies)
		return merged, nil
	}

	var fm mdFrontmatter
	if err := yaml.Unmarshal([]byte(region), &fm); err != nil {
		return nil, errors.Wrap(err, "decoding YAML frontmatter")
	}
	mergeDependencyTables(merged, fm.Dependencies)
	mergeDependencyTables(merged, fm.Agpm.Dependencies)
	return merged, nil
}

func mergeDependencyTables(dst, src dependencyTable) {
	for k, v := range src {
		dst[k] = append(dst[k], v...)
	}
}

func toDependencySpec(parentPath string, t resource.Type, e rawDependencyEntry, requiredBy string) (resource.DependencySpec, error) {
	if e.Path == "" {
		return resource.DependencySpec{}, errs.Wrap(errs.ErrInvalidDependencyRef, "%s: dependency entry missing path", parentPath)
	}

	spec := resource.DependencySpec{
		Source:     e.Source,
		Path:       normalizePath(parentPath, e.Path),
		Version:    e.Version,
		Type:       t,
		Tool:       e.Tool,
		CustomName: e.Name,
		Vars:       e.Vars,
		Install:    true,
		Flatten:    e.Flatten,
		Templating: true,
		RequiredBy: requiredBy,
	}
	if e.Install != nil {
		spec.Install = *e.Install
	}
	if e.Templating != nil {
		spec.Templating = *e.Templating
	}

	spec.Path = resource.CanonicalName(spec.Path, t)
	return spec, nil
}

// normalizePath implements spec.md §4.4's path semantics: a dependency path
// starting with "./" or "../" is explicitly relative and is resolved
// against the directory containing the parent's own source-relative path;
// any other path (bare, or absolute) is already source-relative (or
// filesystem-absolute for local dependencies) and passes through unchanged.
func normalizePath(parentPath, depPath string) string {
	if !strings.HasPrefix(depPath, "./") && !strings.HasPrefix(depPath, "../") {
		return depPath
	}
	dir := path.Dir(parentPath)
	if dir == "." {
		return path.Clean(depPath)
	}
	return path.Clean(path.Join(dir, depPath))
}
