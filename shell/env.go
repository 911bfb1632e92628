package shell

import (
	"os"
	"strings"
)

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that are never passed to the child shell.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true,
	"USERPROFILE": true, "SYSTEMROOT": true, "COMSPEC": true, "PATHEXT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns environ without secrets, followed by extra.
func filterEnvironment(environ []string, extra map[string]string) []string {
	var filtered []string
	for _, env := range environ {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[strings.ToUpper(name)] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	for k, v := range extra {
		filtered = append(filtered, k+"="+v)
	}
	return filtered
}

func processEnvironment(extra map[string]string) []string {
	return filterEnvironment(os.Environ(), extra)
}
