package shell

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Dialect describes how to frame commands for a particular interpreter.
type Dialect interface {
	// Echo returns a statement that prints text verbatim on its own line.
	Echo(text string) string
	// Validate rejects commands that would leave the interpreter waiting for
	// more input, which would swallow the end marker.
	Validate(command string) error
}

// DialectFor picks a dialect from the interpreter path.
func DialectFor(path string) Dialect {
	// Both separators are honored so a Windows path resolves on any host.
	base := strings.ToLower(path[strings.LastIndexAny(path, `/\`)+1:])
	base = strings.TrimSuffix(base, ".exe")
	switch base {
	case "powershell", "pwsh":
		return powerShell{}
	case "sh", "dash", "ash":
		return posixShell{lang: syntax.LangPOSIX}
	case "mksh":
		return posixShell{lang: syntax.LangMirBSDKorn}
	default:
		return posixShell{lang: syntax.LangBash}
	}
}

type posixShell struct {
	lang syntax.LangVariant
}

func (posixShell) Echo(text string) string {
	return "echo '" + text + "'"
}

func (d posixShell) Validate(command string) error {
	parser := syntax.NewParser(syntax.Variant(d.lang))
	if _, err := parser.Parse(strings.NewReader(command), ""); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

type powerShell struct{}

func (powerShell) Echo(text string) string {
	return "Write-Output '" + text + "'"
}

func (powerShell) Validate(command string) error {
	return nil
}
