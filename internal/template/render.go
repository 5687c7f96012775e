package template

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/lockfile"
	"github.com/aig787/agpm-sub002/internal/resource"
)

// MaxRenderDepth bounds the multi-pass re-render loop (spec.md §4.10).
const MaxRenderDepth = 10

// MaxContentFilterFileBytes bounds how large a file the `content` filter
// may read, so a misconfigured project-file reference cannot pull
// arbitrarily large data into rendered output.
const MaxContentFilterFileBytes = 10 << 20 // 10 MiB

// ContentSource reads the raw bytes of a resource's own file, decoupling
// the renderer from the Git cache / local-path resolution the caller
// already performed to materialize a worktree (mirrors the TagLister
// decoupling pattern in internal/resolve).
type ContentSource interface {
	ReadResourceFile(r resource.LockedResource) ([]byte, error)
}

type cacheKey struct {
	path        string
	resType     resource.Type
	tool        string
	variantHash string
	resolvedRev string
}

// Renderer implements C10: a pongo2-based renderer with literal-block
// protection, multi-pass re-render, depth-limited recursive dependency
// rendering, and a render cache. It also implements ContentProvider so the
// Builder can ask it to render a dependency's content on demand.
type Renderer struct {
	lock        *lockfile.LockFile
	ctxBuilder  *Builder
	source      ContentSource
	projectDir  string
	aliasLookup func(r resource.LockedResource) map[string]string
	set         *pongo2.TemplateSet

	cacheMu sync.Mutex
	cache   map[cacheKey]string
}

// NewRenderer constructs a Renderer. aliasLookup supplies each resource's
// declared `name:` aliases (gathered during extraction) on demand; nil is
// treated as "no aliases for any resource".
//
// Each Renderer owns its own pongo2.TemplateSet rather than registering the
// `content` filter globally, so the filter closes over this Renderer's
// projectDir and multiple Renderers (e.g. one per test) never race on
// pongo2's global filter registry. The include, extends, import and ssi
// tags are banned on the set, so a template that uses any of them fails to
// parse and the `content` filter is the only way to pull in another file
// (spec.md §4.10: "no file inclusion other than the content filter").
func NewRenderer(lock *lockfile.LockFile, source ContentSource, projectDir string, aliasLookup func(r resource.LockedResource) map[string]string) *Renderer {
	if aliasLookup == nil {
		aliasLookup = func(resource.LockedResource) map[string]string { return nil }
	}
	r := &Renderer{
		lock:        lock,
		ctxBuilder:  NewBuilder(lock),
		source:      source,
		projectDir:  projectDir,
		aliasLookup: aliasLookup,
		cache:       make(map[cacheKey]string),
	}
	r.set = pongo2.NewSet("agpm-resource", pongo2.MustNewLocalFileSystemLoader(""))
	for _, tag := range []string{"include", "extends", "import", "ssi"} {
		_ = r.set.BanTag(tag)
	}
	_ = r.set.RegisterFilter("content", r.ContentFilter)
	return r
}

// RenderedContent implements ContentProvider for the context builder: it
// renders id's resource (recursing as needed) and returns the result.
func (r *Renderer) RenderedContent(id resource.Id) (string, error) {
	return r.Render(id, make(map[resource.Id]bool))
}

// Render produces the final rendered content for id, consulting the render
// cache first. renderingStack is the set of resource Ids currently being
// rendered on this call chain, used to detect cycles (spec.md §4.10:
// "depth-limited recursion ... a rendering-in-progress set detects
// cycles").
func (r *Renderer) Render(id resource.Id, renderingStack map[resource.Id]bool) (string, error) {
	lr, ok := r.ctxBuilder.byID[id]
	if !ok {
		return "", errs.Wrap(errs.ErrMissingVariable, "resource %s not found in lockfile", id.Key())
	}

	key := cacheKey{path: lr.Path, resType: lr.Type, tool: lr.Tool, variantHash: id.VariantHash, resolvedRev: lr.ResolvedRev}
	r.cacheMu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.cacheMu.Unlock()
		return cached, nil
	}
	r.cacheMu.Unlock()

	if renderingStack[id] {
		chain := make([]string, 0, len(renderingStack)+1)
		for seen := range renderingStack {
			chain = append(chain, seen.Key())
		}
		chain = append(chain, id.Key())
		return "", errs.Wrap(errs.ErrCircularDependencyWhileRender, "%s", strings.Join(chain, " -> "))
	}
	renderingStack[id] = true
	defer delete(renderingStack, id)

	raw, err := r.source.ReadResourceFile(lr)
	if err != nil {
		return "", err
	}
	body := stripFrontmatter(lr.Type, raw)

	if !lr.Templating {
		rendered := body
		r.cacheMu.Lock()
		r.cache[key] = rendered
		r.cacheMu.Unlock()
		return rendered, nil
	}

	ctx, err := r.ctxBuilder.Build(lr, rendererContentProvider{r: r, stack: renderingStack}, r.aliasLookup(lr))
	if err != nil {
		return "", err
	}

	rendered, err := r.renderMultiPass(body, ctx.ToMap())
	if err != nil {
		return "", err
	}

	r.cacheMu.Lock()
	r.cache[key] = rendered
	r.cacheMu.Unlock()
	return rendered, nil
}

// rendererContentProvider adapts Renderer.Render to the ContentProvider
// interface Builder.Build expects, threading the same renderingStack
// through recursive calls.
type rendererContentProvider struct {
	r     *Renderer
	stack map[resource.Id]bool
}

func (p rendererContentProvider) RenderedContent(id resource.Id) (string, error) {
	return p.r.Render(id, p.stack)
}

// fencedCodeBlock matches a fenced code block (``` ... ```), used both to
// find/restore literal regions and to exclude rendered-example output from
// the "needs another pass" scan.
var fencedCodeBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\n.*?\\n```")

var literalFence = regexp.MustCompile("(?s)```literal\\n(.*?)\\n```")

const literalGuardStart = "__AGPM_LITERAL_RAW_START__"
const literalGuardEnd = "__AGPM_LITERAL_RAW_END__"

// templateVarRef matches an `agpm.vars.<name>` reference anywhere in a
// template body, used by renderMultiPass to reject undeclared variables
// before handing the body to pongo2 — which would otherwise resolve a
// missing map key to a silent empty string rather than an error.
var templateVarRef = regexp.MustCompile(`agpm\.vars\.([A-Za-z_][A-Za-z0-9_]*)`)

// missingVariables returns, in first-seen order, every distinct name
// referenced as agpm.vars.<name> in body that is absent from vars.
func missingVariables(body string, vars map[string]any) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, m := range templateVarRef.FindAllStringSubmatch(body, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// renderMultiPass implements spec.md §4.10's literal protection + multi-pass
// rendering: protect literal regions with placeholders, reject references to
// undeclared `agpm.vars.*` entries, render through pongo2, re-render while
// the output still contains unrendered template syntax outside fenced code
// blocks (bounded by MaxRenderDepth), then restore the literal regions.
func (r *Renderer) renderMultiPass(body string, context map[string]any) (string, error) {
	protected, placeholders := protectLiteralRegions(body)

	vars, _ := context["vars"].(map[string]any)
	if missing := missingVariables(protected, vars); len(missing) > 0 {
		return "", errs.Wrap(errs.ErrMissingVariable, "undeclared template variable(s): %s", strings.Join(missing, ", "))
	}

	rendered := protected
	for depth := 0; ; depth++ {
		if depth >= MaxRenderDepth {
			return "", errs.Wrap(errs.ErrRenderDepthExceeded, "exceeded %d render passes", MaxRenderDepth)
		}

		tpl, err := r.set.FromString(rendered)
		if err != nil {
			return "", errs.Wrap(errs.ErrTemplateSyntax, "%v", err)
		}

		out, err := tpl.Execute(pongo2.Context{"agpm": context})
		if err != nil {
			return "", errs.Wrap(errs.ErrTemplateSyntax, "%v", err)
		}

		rendered = out
		if !needsAnotherPass(rendered) {
			break
		}
	}

	return restoreLiteralRegions(rendered, placeholders), nil
}

// needsAnotherPass scans rendered for {{, {%, or {# outside fenced code
// blocks (spec.md §4.10: "so rendered examples do not cause rediving").
func needsAnotherPass(s string) bool {
	stripped := fencedCodeBlock.ReplaceAllStringFunc(s, func(m string) string {
		return strings.Repeat("\x00", len(m))
	})
	return strings.Contains(stripped, "{{") || strings.Contains(stripped, "{%") || strings.Contains(stripped, "{#")
}

// literalPlaceholder records one protected region's content and whether it
// should be restored wrapped in a plain code fence (a `literal` block) or
// bare (an internal raw guard).
type literalPlaceholder struct {
	content string
	fenced  bool
}

// protectLiteralRegions replaces both kinds of literal region — `literal`
// fences and internal __AGPM_LITERAL_RAW_START__/END__ guards — with unique
// placeholders so pongo2 never sees their contents.
func protectLiteralRegions(body string) (string, map[string]literalPlaceholder) {
	placeholders := make(map[string]literalPlaceholder)
	n := 0
	next := func(content string, fenced bool) string {
		token := fmt.Sprintf("\x00AGPM_LITERAL_%d\x00", n)
		n++
		placeholders[token] = literalPlaceholder{content: content, fenced: fenced}
		return token
	}

	out := literalFence.ReplaceAllStringFunc(body, func(m string) string {
		sub := literalFence.FindStringSubmatch(m)
		return next(sub[1], true)
	})

	for {
		start := strings.Index(out, literalGuardStart)
		if start == -1 {
			break
		}
		end := strings.Index(out[start:], literalGuardEnd)
		if end == -1 {
			break
		}
		end += start
		inner := out[start+len(literalGuardStart) : end]
		token := next(inner, false)
		out = out[:start] + token + out[end+len(literalGuardEnd):]
	}

	return out, placeholders
}

// restoreLiteralRegions puts protected content back: `literal`-fence
// placeholders are restored wrapped in a plain fence (for display); guard
// placeholders are restored bare (their content ends up literal but
// un-fenced), per spec.md §4.10.
func restoreLiteralRegions(rendered string, placeholders map[string]literalPlaceholder) string {
	for token, p := range placeholders {
		replacement := p.content
		if p.fenced {
			replacement = "```\n" + p.content + "\n```"
		}
		rendered = strings.ReplaceAll(rendered, token, replacement)
	}
	return rendered
}

// stripFrontmatter returns the body of a resource file with its YAML
// frontmatter fence removed (markdown types) or the content unchanged
// (JSON-shaped types have no separate body to render beyond their config).
func stripFrontmatter(t resource.Type, raw []byte) string {
	s := string(raw)
	if t.Extension() == ".json" {
		return s
	}
	if !strings.HasPrefix(s, "---\n") && !strings.HasPrefix(s, "---\r\n") {
		return s
	}
	rest := s[4:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return s
	}
	afterFence := rest[end+4:]
	return strings.TrimPrefix(afterFence, "\n")
}

// ContentFilter implements pongo2's `content` filter: reads a project-local
// file whose path must resolve within projectDir, bounded to
// MaxContentFilterFileBytes.
func (r *Renderer) ContentFilter(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	rel := in.String()
	full := filepath.Join(r.projectDir, rel)

	cleanProject, err := filepath.Abs(r.projectDir)
	if err != nil {
		return nil, &pongo2.Error{Sender: "content", OrigError: err}
	}
	cleanFull, err := filepath.Abs(full)
	if err != nil {
		return nil, &pongo2.Error{Sender: "content", OrigError: err}
	}
	if !strings.HasPrefix(cleanFull, cleanProject+string(filepath.Separator)) {
		return nil, &pongo2.Error{Sender: "content", OrigError: errs.Wrap(errs.ErrContentFilterPathEscape, "%s", rel)}
	}

	info, err := os.Stat(cleanFull)
	if err != nil {
		return nil, &pongo2.Error{Sender: "content", OrigError: err}
	}
	if info.Size() > MaxContentFilterFileBytes {
		return nil, &pongo2.Error{Sender: "content", OrigError: errs.Wrap(errs.ErrContentFilterFileTooLarge, "%s is %d bytes", rel, info.Size())}
	}

	b, err := os.ReadFile(cleanFull)
	if err != nil {
		return nil, &pongo2.Error{Sender: "content", OrigError: err}
	}
	return pongo2.AsValue(string(b)), nil
}

// checksum computes spec.md §4.11's sha256:<hex> checksum of rendered
// content.
func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ContextChecksum digests the inputs that produced a resource's rendered
// content: its own path/version/resolved-commit plus the checksums of every
// direct dependency it embedded, so a change in any input invalidates it
// even when the parent's own file bytes did not change.
func ContextChecksum(r resource.LockedResource, depChecksums []string) string {
	h := sha256.New()
	h.Write([]byte(r.Path))
	h.Write([]byte(r.Version))
	h.Write([]byte(r.ResolvedRev))
	for _, c := range depChecksums {
		h.Write([]byte(c))
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Checksum exposes the package-level checksum helper for callers outside
// this file (the installer computes it on final rendered bytes).
func Checksum(content string) string { return checksum(content) }
