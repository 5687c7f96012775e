package resource

import "time"

// LockedSource records a resolved source repository (spec.md §3).
type LockedSource struct {
	Name         string    `toml:"name"`
	URL          string    `toml:"url"`
	ResolvedRev  string    `toml:"resolved_commit"`
	FetchedAt    time.Time `toml:"fetched_at"`
}

// LockedResource is the authoritative, installable record for one resolved
// resource (spec.md §3). Dependencies are stored as canonicalized reference
// strings, not nested structs, so the lockfile stays a flat array.
type LockedResource struct {
	Type             Type           `toml:"-"`
	Name             string         `toml:"name"`
	Source           string         `toml:"source,omitempty"`
	URL              string         `toml:"url,omitempty"`
	Path             string         `toml:"path"`
	Version          string         `toml:"version,omitempty"`
	ResolvedRev      string         `toml:"resolved_commit,omitempty"`
	Checksum         string         `toml:"checksum"`
	InstallPath      string         `toml:"install_path"`
	Dependencies     []string       `toml:"dependencies,omitempty"`
	Tool             string         `toml:"tool"`
	ManifestAlias    string         `toml:"manifest_alias,omitempty"`
	ContextChecksum  string         `toml:"context_checksum,omitempty"`
	AppliedPatches   map[string]any `toml:"applied_patches,omitempty"`
	Install          *bool          `toml:"install,omitempty"`
	VariantInputs    map[string]any `toml:"template_vars,omitempty"`
	Templating       bool           `toml:"templating"`
	IsPrivate        bool           `toml:"-"`
}

// Id builds the canonical Id for this entry, using name/source/tool/type
// plus the variant hash derived from VariantInputs.
func (r LockedResource) Id() Id {
	return Id{
		Name:        r.Name,
		Source:      r.Source,
		Tool:        r.Tool,
		Type:        r.Type,
		VariantHash: VariantHash(r.VariantInputs),
	}
}

// InstallEligible reports whether this entry should be written to disk.
// Install defaults to true; only an explicit false opts a resource out.
func (r LockedResource) InstallEligible() bool {
	return r.Install == nil || *r.Install
}
