package agentloop

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"
	"time"
)

const basePrompt = `You are a terminal agent running on %s, equipped with a persistent %s session and a send_command tool that runs one command in it and returns its output. Help the user to the best of your ability.
- The session is stateful: the working directory, environment variables and shell functions persist between commands.
- If a command fails, read the error and retry with a different command until the task is done.
- Use current, idiomatic %s commands.
- You are a highly intelligent and fast terminal assistant agent.
- Often you have already performed an action correctly. Check the command output before deciding to repeat it.
- When asked to create a .gitignore file, list the directory first and choose entries suited to the languages the file extensions reveal.
- Never run interactive programs that wait for input; pass flags that make them non-interactive.
- Do not repeat or restate the user's input in your response unless explicitly asked.
- When the task is complete, answer with a short summary and do not call the tool again.`

// Environment describes where commands run, for the system prompt.
type Environment struct {
	Platform    string
	Interpreter string
	WorkDir     string
}

// DefaultEnvironment describes the current host with the given interpreter.
func DefaultEnvironment(interpreter string) Environment {
	wd, _ := os.Getwd()
	return Environment{
		Platform:    runtime.GOOS,
		Interpreter: interpreter,
		WorkDir:     wd,
	}
}

func (e Environment) shellName() string {
	base := path.Base(strings.ReplaceAll(e.Interpreter, `\`, "/"))
	name := strings.TrimSuffix(base, path.Ext(base))
	switch strings.ToLower(name) {
	case "", ".":
		return "shell"
	case "powershell", "pwsh":
		return "PowerShell"
	}
	return name
}

func (e Environment) platformName() string {
	switch e.Platform {
	case "windows":
		return "a Windows operating system"
	case "darwin":
		return "a macOS operating system"
	case "":
		return "an unknown operating system"
	}
	return fmt.Sprintf("a %s operating system", e.Platform)
}

// BuildSystemPrompt renders the static instruction sent before every
// conversation.
func BuildSystemPrompt(env Environment) string {
	shell := env.shellName()
	var sb strings.Builder
	fmt.Fprintf(&sb, basePrompt, env.platformName(), shell, shell)
	sb.WriteString("\n\n<environment>\n")
	if env.WorkDir != "" {
		fmt.Fprintf(&sb, "Initial working directory: %s\n", env.WorkDir)
	}
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform)
	fmt.Fprintf(&sb, "Shell: %s\n", shell)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	sb.WriteString("</environment>")
	return sb.String()
}
