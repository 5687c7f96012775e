package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub002/internal/lockfile"
)

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the dependency tree recorded in agpm.lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := buildConfig()
			lock, err := lockfile.Load(filepath.Join(cfg.ProjectDir, lockfile.FileName))
			if err != nil {
				return fmt.Errorf("loading agpm.lock: %w (run \"agpm install\" first)", err)
			}

			byRef := make(map[string]string) // canonical ref -> display line
			childrenOf := make(map[string][]string)
			roots := make(map[string]bool)

			for _, r := range lock.AllResources() {
				ref := lockfile.CanonicalRef(r)
				byRef[ref] = fmt.Sprintf("%s:%s (%s)", r.Type, r.Name, displayVersion(r.Version))
				childrenOf[ref] = r.Dependencies
				roots[ref] = true
			}
			for _, children := range childrenOf {
				for _, c := range children {
					roots[c] = false
				}
			}

			for _, r := range lock.AllResources() {
				ref := lockfile.CanonicalRef(r)
				if roots[ref] {
					printTreeNode(ref, byRef, childrenOf, "", map[string]bool{})
				}
			}
			return nil
		},
	}
}

func displayVersion(v string) string {
	if v == "" {
		return "HEAD"
	}
	return v
}

func printTreeNode(ref string, byRef map[string]string, childrenOf map[string][]string, prefix string, visiting map[string]bool) {
	label, ok := byRef[ref]
	if !ok {
		label = ref
	}
	fmt.Println(prefix + label)

	if visiting[ref] {
		fmt.Println(prefix + "  (cycle)")
		return
	}
	visiting[ref] = true
	defer delete(visiting, ref)

	children := childrenOf[ref]
	for _, c := range children {
		printTreeNode(c, byRef, childrenOf, prefix+"  ", visiting)
	}
}
