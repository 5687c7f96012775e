// Command agpm installs and manages AI-assistant resource dependencies
// (agents, snippets, commands, scripts, hooks, MCP servers, skills) declared
// in a project's agpm.toml manifest.
package main

func main() {
	Execute()
}
