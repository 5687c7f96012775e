// Package agpm implements spec.md's top-level orchestration: the single
// Install entry point that wires the manifest parser, Git cache, version
// resolver, transitive extractor, conflict tracker, backtracking engine,
// dependency graph, lockfile builder, and installer into one pipeline.
// Grounded in the teacher's project.go/project_manager.go (the "Ctx +
// Project, no package globals" top-level driver that calls into gps's
// solver and then into its own writer), generalized from a single-manifest
// vendor sync onto spec.md's typed, multi-resource pipeline.
package agpm

import (
	"context"
	"path"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aig787/agpm-sub002/internal/config"
	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/extract"
	"github.com/aig787/agpm-sub002/internal/gitcache"
	"github.com/aig787/agpm-sub002/internal/installer"
	"github.com/aig787/agpm-sub002/internal/lockfile"
	"github.com/aig787/agpm-sub002/internal/manifest"
	"github.com/aig787/agpm-sub002/internal/resolve"
	"github.com/aig787/agpm-sub002/internal/resource"
	"github.com/aig787/agpm-sub002/internal/template"
	"github.com/aig787/agpm-sub002/internal/toolsettings"
)

// Outcome bundles everything a top-level caller (cmd/agpm) needs to report
// back to the user after a run.
type Outcome struct {
	Lock     *lockfile.LockFile
	Private  *lockfile.LockFile
	Install  *installer.Result
	Updates  []resolve.VersionUpdate // backtracking repairs applied, in order
}

// Install runs the full pipeline against the manifest at
// cfg.ProjectDir/agpm.toml: resolve, extract, backtrack to a conflict-free
// graph, build agpm.lock, then render and write every resource to disk.
func Install(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Outcome, error) {
	man, err := manifest.Load(path.Join(cfg.ProjectDir, manifest.FileName))
	if err != nil {
		return nil, err
	}
	if err := man.Validate(); err != nil {
		return nil, err
	}
	return install(ctx, cfg, log, man)
}

func install(ctx context.Context, cfg config.Config, log zerolog.Logger, man *manifest.Manifest) (*Outcome, error) {
	cache := gitcache.New(cfg, log)
	p := newPipeline(ctx, cfg, log, man, cache)

	if err := p.discover(); err != nil {
		return nil, err
	}
	// TopoSort is the cheapest way to surface a circular dependency
	// (spec.md §4.7) before the backtracking engine spends any time on a
	// graph that can never converge to an installable lockfile. The order
	// itself is discarded; the installer recomputes install order from the
	// lockfile (lockfile.InstallOrder).
	if _, err := p.graph.TopoSort(); err != nil {
		return nil, err
	}

	engine := resolve.NewEngine(cfg.MaxBacktrackIterations, cfg.BacktrackTimeout, log)
	updates, err := engine.Run(ctx, p.tracker, &repairer{p: p})
	if err != nil {
		return nil, err
	}

	lock, err := p.buildLockFile()
	if err != nil {
		return nil, err
	}
	public, private := lock.SplitByPrivacy()

	in := installer.New(cfg, log)
	res, err := in.Install(public, cache, p.aliasLookup)
	if err != nil {
		return nil, err
	}
	if len(private.AllResources()) > 0 {
		if _, err := in.Install(private, cache, p.aliasLookup); err != nil {
			return nil, err
		}
	}

	if err := lockfile.Save(path.Join(cfg.ProjectDir, lockfile.FileName), public); err != nil {
		return nil, err
	}
	if len(private.AllResources()) > 0 {
		if err := lockfile.Save(path.Join(cfg.ProjectDir, lockfile.PrivateFileName), private); err != nil {
			return nil, err
		}
	}

	return &Outcome{Lock: public, Private: private, Install: res, Updates: updates}, nil
}

// node is the pipeline's working record for one resolved resource identity,
// mutated in place by the backtracking Repairer as it applies version
// updates. Every other structure the pipeline produces (the tracker's
// requirements, the final LockFile) is derived fresh from the node map once
// the engine converges, rather than threaded through incrementally — which
// is what lets RewriteLockEntries (see repair.go) be a no-op: there is
// nothing downstream of a node to rewrite until buildLockFile runs.
type node struct {
	id   resource.Id
	spec resource.DependencySpec

	resolvedSHA string
	resolvedTag string
	mode        resolve.ResolutionMode

	worktreePath string // "" for local dependencies
	content      []byte

	deps     []resource.DependencySpec // this node's own extracted dependencies
	childIDs []resource.Id             // resolved identities of deps, same order

	aliases map[string]string // declared `name:` aliases gathered from deps' CustomName
}

func (n *node) canonicalRef() string {
	ref := string(n.spec.Type) + ":" + n.spec.Path
	if v := n.versionString(); v != "" {
		ref += "@" + v
	}
	if n.spec.Source != "" {
		ref = n.spec.Source + "/" + ref
	}
	return ref
}

func (n *node) versionString() string {
	if n.resolvedTag != "" {
		return n.resolvedTag
	}
	return n.spec.Version
}

// pipeline holds the mutable state threaded through discovery and repair.
// It deliberately runs single-threaded: the backtracking engine mutates
// nodes referenced by resource.Id, and a worker pool fanning out over the
// same map would need the same synchronization this already-serial walk
// gets for free. cfg.Concurrency is not read here or by the Git cache, so
// fetches, worktree checkouts, extraction and rendering all run one at a
// time.
type pipeline struct {
	ctx context.Context
	cfg config.Config
	log zerolog.Logger

	man     *manifest.Manifest
	sources map[string]resolve.Source

	cache *gitcache.Cache
	vcs   *vcsAdapter
	vr    *resolve.VersionResolver
	meta  template.MetadataRenderer

	tracker *resolve.Tracker
	graph   *resolve.Graph

	nodes    map[resource.Id]*node
	refIndex map[string]*node // canonicalRef() -> node, for the Repairer's parent lookups
}

func newPipeline(ctx context.Context, cfg config.Config, log zerolog.Logger, man *manifest.Manifest, cache *gitcache.Cache) *pipeline {
	sources := make(map[string]resolve.Source, len(man.Sources))
	for name, url := range man.Sources {
		sources[name] = resolve.Source{Name: name, URL: url}
	}
	vcs := newVCSAdapter(ctx, cache)
	return &pipeline{
		ctx:     ctx,
		cfg:     cfg,
		log:     log,
		man:     man,
		sources: sources,
		cache:   cache,
		vcs:     vcs,
		vr:      resolve.NewVersionResolver(vcs),
		tracker: resolve.NewTracker(),
		graph:    resolve.NewGraph(),
		nodes:    make(map[resource.Id]*node),
		refIndex: make(map[string]*node),
	}
}

func (p *pipeline) sourceLookup(name string) (resolve.Source, bool) {
	s, ok := p.sources[name]
	return s, ok
}

// discover walks the manifest's direct dependencies and every transitive
// dependency they declare, in breadth-first order, populating p.nodes,
// p.tracker, and p.graph (spec.md §4.3/§4.4/§4.5/§4.7).
func (p *pipeline) discover() error {
	type queued struct {
		spec       resource.DependencySpec
		parentNode *node // nil for manifest-level specs
	}

	var queue []queued
	for _, spec := range p.man.AllSpecs() {
		queue = append(queue, queued{spec: spec})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		n, alreadyVisited, err := p.resolveNode(item.spec, item.parentNode)
		if err != nil {
			return err
		}

		if item.parentNode != nil {
			item.parentNode.childIDs = append(item.parentNode.childIDs, n.id)
			p.graph.AddEdge(item.parentNode.id, n.id)
			p.tracker.RecordParent(item.parentNode.id, n.id)
		} else {
			p.graph.AddNode(n.id)
		}

		if alreadyVisited {
			continue
		}

		for _, dep := range n.deps {
			queue = append(queue, queued{spec: dep, parentNode: n})
		}
	}

	return nil
}

// resolveNode resolves spec to its resource.Id, materializes its content
// (local read or Git worktree checkout), extracts its own transitive
// dependencies, and records it in p.nodes. If the identity was already
// resolved by an earlier queue entry (e.g. two resources both depending on
// the same snippet), the existing node is returned with alreadyVisited
// true and its dependency list is not walked again.
func (p *pipeline) resolveNode(spec resource.DependencySpec, parent *node) (*node, bool, error) {
	tool := spec.Tool
	if tool == "" {
		if parent != nil && parent.spec.Tool != "" {
			tool = parent.spec.Tool
		} else {
			tool = toolsettings.DefaultTool
		}
	}

	variantInputs := spec.Vars

	var resolvedSHA, resolvedTag string
	mode := resolve.ModeSemver

	if spec.Source != "" {
		rv, err := p.resolveConstraint(spec.Source, spec.Version)
		if err != nil {
			return nil, false, err
		}
		resolvedSHA, resolvedTag, mode = rv.SHA, rv.Tag, rv.Mode
	}

	id := resource.Id{
		Name:        resource.CanonicalName(spec.Path, spec.Type),
		Source:      spec.Source,
		Tool:        tool,
		Type:        spec.Type,
		VariantHash: resource.VariantHash(variantInputs),
	}

	if existing, ok := p.nodes[id]; ok {
		return existing, true, nil
	}

	n := &node{
		id:          id,
		spec:        spec,
		resolvedSHA: resolvedSHA,
		resolvedTag: resolvedTag,
		mode:        mode,
	}
	n.spec.Tool = tool
	n.spec.Path = resource.CanonicalName(spec.Path, spec.Type)

	requiredBy := spec.RequiredBy
	if parent != nil {
		requiredBy = parent.canonicalRef()
	}

	if spec.Source != "" {
		p.tracker.Track(resolve.TrackedRequirement{
			ResourceIdentity: id,
			RequiredBy:       requiredBy,
			DeclaredName:     spec.CustomName,
			Constraint:       spec.Version,
			ResolvedSHA:      resolvedSHA,
			Mode:             mode,
		})

		wt, err := p.vcs.worktree(p.sources[spec.Source], resolvedSHA, id.Key())
		if err != nil {
			return nil, false, err
		}
		n.worktreePath = wt
	}

	content, err := p.readContent(n)
	if err != nil {
		return nil, false, err
	}
	n.content = content

	deps, err := extract.Extract(p.meta, n.spec.Path, n.spec.Type, content, variantInputs, n.canonicalRef())
	if err != nil {
		return nil, false, err
	}
	n.deps = deps

	n.aliases = make(map[string]string)
	for _, d := range deps {
		if d.CustomName != "" {
			n.aliases[path.Base(d.Path)] = d.CustomName
		}
	}

	p.nodes[id] = n
	p.refIndex[n.canonicalRef()] = n
	return n, false, nil
}

func (p *pipeline) resolveConstraint(sourceName, constraint string) (resolve.Resolved, error) {
	p.vr.Collect(sourceName, constraint)
	if _, err := p.vr.ResolveAll(p.sourceLookup); err != nil {
		return resolve.Resolved{}, err
	}
	rv, ok := p.vr.Lookup(sourceName, constraint)
	if !ok {
		return resolve.Resolved{}, errs.Wrap(errs.ErrNoMatchingTag, "source %q constraint %q did not resolve", sourceName, constraint)
	}
	return rv, nil
}

func (p *pipeline) readContent(n *node) ([]byte, error) {
	if n.spec.Source == "" {
		return readProjectFile(p.cfg.ProjectDir, n.spec.Path, n.spec.Type)
	}
	return readSourceFile(n.worktreePath, n.spec.Path, n.spec.Type)
}

// aliasLookup implements the template package's declaredAliases callback
// (spec.md §9's custom-alias open question): the set of `name:` overrides a
// resource's own frontmatter declared for its direct dependencies.
func (p *pipeline) aliasLookup(r resource.LockedResource) map[string]string {
	n, ok := p.nodes[r.Id()]
	if !ok {
		return nil
	}
	return n.aliases
}

// buildLockFile assembles the final LockFile from the converged node map,
// computing each entry's install path and canonical Dependencies refs.
func (p *pipeline) buildLockFile() (*lockfile.LockFile, error) {
	b := lockfile.NewBuilder()

	for name, url := range p.man.Sources {
		if n := p.sourceNodeSHA(name); n != "" {
			b.AddSource(resource.LockedSource{Name: name, URL: url, ResolvedRev: n})
		}
	}

	ids := make([]resource.Id, 0, len(p.nodes))
	for id := range p.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })

	for _, id := range ids {
		n := p.nodes[id]

		deps := make([]string, 0, len(n.childIDs))
		for _, cid := range n.childIDs {
			if c, ok := p.nodes[cid]; ok {
				deps = append(deps, c.canonicalRef())
			}
		}
		sort.Strings(deps)

		install := n.spec.Install
		lr := resource.LockedResource{
			Type:            n.spec.Type,
			Name:            n.spec.Path,
			Source:          n.spec.Source,
			Path:            n.spec.Path,
			Version:         n.versionString(),
			ResolvedRev:     n.resolvedSHA,
			InstallPath:     installPathFor(n.spec.Tool, n.spec.Type, n.spec.Path, n.spec.Flatten),
			Dependencies:    deps,
			Tool:            n.spec.Tool,
			ManifestAlias:   n.spec.ManifestAlias,
			Install:         &install,
			VariantInputs:   n.spec.Vars,
			Templating:      n.spec.Templating,
		}
		if n.spec.Source != "" {
			lr.URL = p.sources[n.spec.Source].URL
		}
		b.AddResource(lr)
	}

	return b.Build()
}

func (p *pipeline) sourceNodeSHA(sourceName string) string {
	for _, n := range p.nodes {
		if n.spec.Source == sourceName && n.resolvedSHA != "" {
			return n.resolvedSHA
		}
	}
	return ""
}

func installPathFor(tool string, t resource.Type, relPath string, flatten bool) string {
	name := relPath
	if flatten {
		name = path.Base(relPath)
	}
	return path.Join(toolsettings.InstallRoot(tool, t), name+t.Extension())
}
