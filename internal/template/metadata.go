package template

import (
	"github.com/flosch/pongo2/v6"

	"github.com/aig787/agpm-sub002/internal/errs"
)

// MetadataRenderer implements internal/extract.MetadataRenderer: the narrow
// pre-parse templating pass spec.md §4.4 requires over a resource's own
// frontmatter/metadata region, before any dependency is known to exist. At
// this point in the pipeline there is no agpm.deps context yet (that
// requires a resolved lockfile), only the resource's own variant-input
// overrides, so this is a standalone pongo2 evaluation rather than a method
// on Renderer.
type MetadataRenderer struct{}

// RenderMetadata renders raw (the frontmatter/metadata region, before
// YAML/JSON parsing) against variantInputs, so that conditional dependency
// declarations are resolved before the extractor parses the result.
func (MetadataRenderer) RenderMetadata(raw string, variantInputs map[string]any) (string, error) {
	protected, placeholders := protectLiteralRegions(raw)

	tmpl, err := pongo2.FromString(protected)
	if err != nil {
		return "", errs.Wrap(errs.ErrTemplateSyntax, "parsing metadata template: %v", err)
	}

	ctx := pongo2.Context{}
	for k, v := range variantInputs {
		ctx[k] = v
	}

	out, err := tmpl.Execute(ctx)
	if err != nil {
		return "", errs.Wrap(errs.ErrTemplateSyntax, "rendering metadata template: %v", err)
	}

	return restoreLiteralRegions(out, placeholders), nil
}
