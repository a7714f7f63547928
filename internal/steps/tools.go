package steps

import (
	"fmt"
	"strings"
)

// RequiredTools must be on PATH before any command runs.
var RequiredTools = []string{"docker", "npm"}

// ResolveTool returns the argv prefix for invoking a named tool, or nil if
// lookPath cannot find it.
func ResolveTool(lookPath func(string) (string, error), name string) []string {
	toolPath, err := lookPath(name)
	if err != nil {
		return nil
	}
	return []string{toolPath}
}

// toolInfo holds install metadata for a known tool.
type toolInfo struct {
	// Install is a command or URL that installs the tool.
	Install string
	// Note is an optional follow-up hint.
	Note string
}

// knownTools maps tool binary names to their install metadata.
var knownTools = map[string]toolInfo{
	"docker":         {Install: "https://docs.docker.com/get-docker/"},
	"docker-compose": {Install: "https://docs.docker.com/compose/install/", Note: "the 'docker compose' plugin is used when docker-compose is absent."},
	"npm":            {Install: "https://nodejs.org/en/download", Note: "npm ships with Node.js."},
	"pyright":        {Install: "uv pip install pyright"},
	"uv":             {Install: "https://docs.astral.sh/uv/getting-started/installation/", Note: "python is used when uv is absent."},
}

// ErrToolUnavailable is returned when a required tool is not installed.
// It includes actionable install instructions when the tool is known.
type ErrToolUnavailable struct {
	Name string
	Info *toolInfo
}

func NewErrToolUnavailable(name string) ErrToolUnavailable {
	e := ErrToolUnavailable{Name: name}
	if info, ok := knownTools[name]; ok {
		e.Info = &info
	}
	return e
}

func (e ErrToolUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required but not installed.", e.Name)
	if e.Info == nil {
		return b.String()
	}
	fmt.Fprintf(&b, "\nInstall: %s", e.Info.Install)
	if e.Info.Note != "" {
		fmt.Fprintf(&b, "\nNote: %s", e.Info.Note)
	}
	return b.String()
}

// MissingTools returns an ErrToolUnavailable for each name lookPath cannot
// resolve, in argument order.
func MissingTools(lookPath func(string) (string, error), names ...string) []ErrToolUnavailable {
	var missing []ErrToolUnavailable
	for _, n := range names {
		if ResolveTool(lookPath, n) == nil {
			missing = append(missing, NewErrToolUnavailable(n))
		}
	}
	return missing
}

// MissingTools reports the RequiredTools the catalog cannot find.
func (c *Catalog) MissingTools() []ErrToolUnavailable {
	return MissingTools(c.lookPath(), RequiredTools...)
}
