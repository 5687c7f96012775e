// Package resource defines the shared identity and specification types used
// across the resolver, extractor, lockfile, template, and installer
// packages: resource types, the canonical ResourceId, and the
// DependencySpec a manifest entry or a parent resource's frontmatter can
// declare.
package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Type enumerates the resource kinds a manifest can declare dependencies on.
type Type string

const (
	TypeAgent     Type = "agent"
	TypeSnippet   Type = "snippet"
	TypeCommand   Type = "command"
	TypeScript    Type = "script"
	TypeHook      Type = "hook"
	TypeMCPServer Type = "mcp-server"
	TypeSkill     Type = "skill"
)

// AllTypes lists every recognized resource type, in a fixed order used
// anywhere output must be deterministic (manifest tables, lockfile arrays).
var AllTypes = []Type{TypeAgent, TypeSnippet, TypeCommand, TypeScript, TypeHook, TypeMCPServer, TypeSkill}

// Plural returns the pluralized form used as a manifest table name and as
// the agpm.deps context key (§4.9).
func (t Type) Plural() string {
	switch t {
	case TypeAgent:
		return "agents"
	case TypeSnippet:
		return "snippets"
	case TypeCommand:
		return "commands"
	case TypeScript:
		return "scripts"
	case TypeHook:
		return "hooks"
	case TypeMCPServer:
		return "mcp-servers"
	case TypeSkill:
		return "skills"
	default:
		return string(t) + "s"
	}
}

// Extension returns the canonical file extension for the type. MCP servers
// and hooks are config-shaped and use JSON; everything else is markdown
// with YAML frontmatter.
func (t Type) Extension() string {
	switch t {
	case TypeMCPServer, TypeHook:
		return ".json"
	default:
		return ".md"
	}
}

// Valid reports whether t is one of the recognized resource types.
func (t Type) Valid() bool {
	for _, k := range AllTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Id is the canonical identity of a resolved resource: two Ids that compare
// equal must, by §3's invariant, produce byte-identical installed content.
// Two Ids that differ are distinct resources even when their source path is
// the same, because a different variant of template-variable overrides
// changes VariantHash.
type Id struct {
	Name        string
	Source      string // empty for local dependencies
	Tool        string
	Type        Type
	VariantHash string
}

// Key renders a stable, map-safe string for use as a concurrent-map key.
// Field order matches the tuple order in spec.md §3 so the key is legible
// in logs and trace output.
func (id Id) Key() string {
	return id.Name + "\x00" + id.Source + "\x00" + id.Tool + "\x00" + string(id.Type) + "\x00" + id.VariantHash
}

// VariantHash derives the stable digest of a merged template-variable
// override object that forms the last field of an Id. A nil or empty map
// hashes to the empty string so that resources with no overrides share the
// zero-variant identity rather than each getting an arbitrary hash.
func VariantHash(vars map[string]any) string {
	if len(vars) == 0 {
		return ""
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, vars[k])
	}

	// json.Marshal of a []any with deterministic key order gives a stable
	// byte sequence to hash; a map would not, since Go randomizes map
	// iteration order on every run.
	b, err := json.Marshal(ordered)
	if err != nil {
		// Values here are always frontmatter- or manifest-sourced JSON
		// scalars/maps/slices, which always marshal; a failure here means
		// a caller smuggled in something unmarshalable, which is a bug.
		panic("resource: variant inputs not json-marshalable: " + err.Error())
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// DependencySpec is what a manifest entry, or a parent resource's
// frontmatter, requests of a single dependency (spec.md §3).
type DependencySpec struct {
	Source        string         // manifest source name; empty means local
	Path          string         // source-relative or local path
	Version       string         // constraint string; empty means unconstrained/HEAD
	Type          Type           // resource type this dependency is resolved as
	Tool          string         // target tool; empty means derive from parent/type default
	ManifestAlias string         // display name from the manifest table key
	CustomName    string         // alternate template-lookup key from frontmatter `name:`
	Vars          map[string]any // template-variable overrides
	Install       bool           // false => content-only, not written to disk
	Flatten       bool           // strip intermediate directories on install
	Templating    bool           // false => content passes through rendering untouched

	// RequiredBy identifies the requester for conflict tracking: "manifest"
	// for direct manifest entries, or the parent resource's canonical
	// reference string for transitive dependencies.
	RequiredBy string
}

// IsLocal reports whether the dependency has no Git source.
func (d DependencySpec) IsLocal() bool {
	return d.Source == ""
}

// CanonicalName strips the resource's canonical extension from its path to
// produce its lookup name, per §4.4's "Extensions are stripped to form
// canonical names."
func CanonicalName(path string, t Type) string {
	ext := t.Extension()
	if len(path) > len(ext) && path[len(path)-len(ext):] == ext {
		return path[:len(path)-len(ext)]
	}
	return path
}
