// Package toolsettings consolidates spec.md §9's Open Question about
// per-tool install layout and settings-file conventions into a single
// table, so the packages that need it (lockfile install ordering, the
// template context builder, pkg/agpm's tool defaulting and install paths,
// installer settings-file updates) read from one place
// instead of re-deriving "where does a snippet for tool X install" logic
// independently.
package toolsettings

import "github.com/aig787/agpm-sub002/internal/resource"

// Defaults describes one tool's install conventions.
type Defaults struct {
	// InstallRoot maps a resource type to its default install directory,
	// relative to the project root.
	InstallRoot map[resource.Type]string

	// SettingsFile is the path (relative to the project root) of the
	// tool-specific settings file the installer updates for MCP-server and
	// hook entries (spec.md §4.11 step 4).
	SettingsFile string
}

// Table maps a tool name to its Defaults. Only "claude-code" is populated;
// adding a second tool means adding one entry here, not touching any other
// package (spec.md §9's Open Question decision, recorded in DESIGN.md).
var Table = map[string]Defaults{
	"claude-code": {
		InstallRoot: map[resource.Type]string{
			resource.TypeAgent:     ".claude/agents",
			resource.TypeSnippet:   ".claude/snippets",
			resource.TypeCommand:   ".claude/commands",
			resource.TypeScript:    ".claude/scripts",
			resource.TypeHook:      ".claude/hooks",
			resource.TypeMCPServer: ".claude/mcp-servers",
			resource.TypeSkill:     ".claude/skills",
		},
		SettingsFile: ".claude/settings.local.json",
	},
}

// DefaultTool is used whenever a DependencySpec/LockedResource leaves Tool
// unset and no parent tool can be inherited.
const DefaultTool = "claude-code"

// InstallRoot returns the install directory for (tool, type), falling back
// to DefaultTool's table entry if tool is unknown.
func InstallRoot(tool string, t resource.Type) string {
	def, ok := Table[tool]
	if !ok {
		def = Table[DefaultTool]
	}
	if root, ok := def.InstallRoot[t]; ok {
		return root
	}
	return Table[DefaultTool].InstallRoot[t]
}

// SettingsFile returns the tool's settings file path, falling back to
// DefaultTool's.
func SettingsFile(tool string) string {
	if def, ok := Table[tool]; ok {
		return def.SettingsFile
	}
	return Table[DefaultTool].SettingsFile
}
