package permission

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ShellCommand is one parsed command from a shell invocation.
type ShellCommand struct {
	Name       string   // Command name (e.g., "nmap", "git")
	Args       []string // Command arguments
	Subcommand string   // First non-flag argument (e.g., "clone" in "git clone")
}

// ParseShellCommand parses a shell command line into the individual
// commands it runs, including those behind pipes, && chains, and
// subshells.
func ParseShellCommand(command string) ([]ShellCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []ShellCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			cmd := extractCommand(n)
			if cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

// extractCommand extracts command name and arguments from a CallExpr.
func extractCommand(call *syntax.CallExpr) *ShellCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &ShellCommand{}

	cmd.Name = wordToString(call.Args[0])
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		argStr := wordToString(arg)
		cmd.Args = append(cmd.Args, argStr)

		// Find first non-flag argument as subcommand
		if cmd.Subcommand == "" && !strings.HasPrefix(argStr, "-") {
			cmd.Subcommand = argStr
		}
	}

	return cmd
}

// wordToString converts a syntax.Word to a string.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			// Variable expansion - return placeholder
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			// Command substitution - ignore the content, mark as dynamic
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// groupCommands have subcommands worth scoping approvals to, so that
// "git clone" and "git push" can carry different standing approvals.
var groupCommands = map[string]bool{
	"git":     true,
	"apt":     true,
	"apt-get": true,
	"apk":     true,
	"docker":  true,
	"podman":  true,
	"kubectl": true,
	"pip":     true,
	"pip3":    true,
	"npm":     true,
	"go":      true,
	"cargo":   true,
}

// CommandKeys derives the permission keys for every command in a shell
// line. Keys take the form "shell:<name>", or "shell:<name>:<subcommand>"
// for command groups like git. Dynamic names (variable expansion, command
// substitution) collapse to the bare "shell" key so they can only be
// covered by an explicit wildcard approval. "cd" produces no key.
func CommandKeys(command string) ([]string, error) {
	commands, err := ParseShellCommand(command)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var keys []string
	add := func(key string) {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	for _, cmd := range commands {
		if cmd.Name == "cd" {
			continue
		}
		if strings.Contains(cmd.Name, "$") {
			add("shell")
			continue
		}
		if groupCommands[cmd.Name] && cmd.Subcommand != "" && !strings.Contains(cmd.Subcommand, "$") {
			add("shell:" + cmd.Name + ":" + cmd.Subcommand)
			continue
		}
		add("shell:" + cmd.Name)
	}

	return keys, nil
}

// DestructiveCommands destroy data or disrupt the sandbox itself; requests
// running them get flagged so the operator can spot them in the queue.
var DestructiveCommands = map[string]bool{
	"rm":       true,
	"rmdir":    true,
	"mv":       true,
	"dd":       true,
	"mkfs":     true,
	"shred":    true,
	"chmod":    true,
	"chown":    true,
	"kill":     true,
	"pkill":    true,
	"reboot":   true,
	"shutdown": true,
	"halt":     true,
	"iptables": true,
}

// IsDestructive checks if a command is in the destructive list.
func IsDestructive(name string) bool {
	return DestructiveCommands[name]
}

// DestructiveMembers returns the destructive command names appearing in a
// shell line, pipeline and chain members included. An unparseable line
// yields nil.
func DestructiveMembers(command string) []string {
	commands, err := ParseShellCommand(command)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, cmd := range commands {
		if IsDestructive(cmd.Name) && !seen[cmd.Name] {
			seen[cmd.Name] = true
			names = append(names, cmd.Name)
		}
	}
	return names
}
