// Package schema renders the command tree as structured data so agents can
// discover the surface without scraping help text.
package schema

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Command struct {
	Path        string    `json:"path"`
	Use         string    `json:"use"`
	Short       string    `json:"short"`
	Aliases     []string  `json:"aliases,omitempty"`
	Flags       []Flag    `json:"flags,omitempty"`
	GlobalFlags []Flag    `json:"global_flags,omitempty"`
	Subcommands []Command `json:"subcommands,omitempty"`
}

type Flag struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
}

// Describe walks from root to the named command and serializes it together
// with its visible subcommands. An empty path describes the whole tree.
func Describe(root *cobra.Command, commandPath string) (Command, error) {
	cmd, err := locate(root, commandPath)
	if err != nil {
		return Command{}, err
	}
	out := serialize(cmd)
	if cmd == root {
		out.GlobalFlags = collect(root.PersistentFlags())
	}
	return out, nil
}

func locate(root *cobra.Command, commandPath string) (*cobra.Command, error) {
	cmd := root
	for _, part := range strings.Fields(strings.TrimSpace(commandPath)) {
		next := findChild(cmd, part)
		if next == nil {
			return nil, fmt.Errorf("command not found: %s", commandPath)
		}
		cmd = next
	}
	return cmd, nil
}

func findChild(cmd *cobra.Command, name string) *cobra.Command {
	for _, child := range cmd.Commands() {
		if child.Name() == name {
			return child
		}
		for _, alias := range child.Aliases {
			if alias == name {
				return child
			}
		}
	}
	return nil
}

func serialize(cmd *cobra.Command) Command {
	out := Command{
		Path:    strings.TrimSpace(cmd.CommandPath()),
		Use:     cmd.Use,
		Short:   cmd.Short,
		Aliases: cmd.Aliases,
		Flags:   collect(cmd.NonInheritedFlags()),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		out.Subcommands = append(out.Subcommands, serialize(sub))
	}
	return out
}

func collect(set *pflag.FlagSet) []Flag {
	items := []Flag{}
	set.VisitAll(func(f *pflag.Flag) {
		items = append(items, Flag{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  f.Annotations[cobra.BashCompOneRequiredFlag] != nil,
		})
	})
	return items
}
