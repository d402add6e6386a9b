package toolserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/agentd/internal/config"
	"github.com/abdul-hamid-achik/agentd/internal/secrets"
	"github.com/abdul-hamid-achik/agentd/internal/tools"
)

// safeEnvKeys are the only parent variables a child process inherits.
var safeEnvKeys = []string{
	"PATH", "HOME", "USER", "SHELL", "LANG", "LC_ALL", "LC_CTYPE",
	"TMPDIR", "TEMP", "TMP", "NODE_PATH", "NODE_OPTIONS",
	"npm_config_cache", "NPM_CONFIG_PREFIX", "XDG_CONFIG_HOME",
	"XDG_DATA_HOME", "XDG_CACHE_HOME", "VIRTUAL_ENV",
	"UV_CACHE_DIR", "UV_PYTHON",
}

// LaunchSpec is how to start one tool-server process.
type LaunchSpec struct {
	Command string
	Args    []string
	Env     []string // KEY=VALUE, sorted
}

// Factory turns instance configuration into launch specs.
type Factory struct {
	secrets     secrets.Provider
	resolvePath func(string) string
	environ     func() []string
}

// NewFactory creates a factory that resolves credentials through p and
// relative directories through resolvePath (nil leaves them as-is).
func NewFactory(p secrets.Provider, resolvePath func(string) string) *Factory {
	if resolvePath == nil {
		resolvePath = func(s string) string { return s }
	}
	return &Factory{secrets: p, resolvePath: resolvePath, environ: os.Environ}
}

// Spec builds the launch spec for an instance.
func (f *Factory) Spec(ctx context.Context, inst config.InstanceConfig) (tools.ServerType, LaunchSpec, error) {
	typ, err := tools.ParseServerType(inst.Type)
	if err != nil {
		return "", LaunchSpec{}, err
	}

	env := f.baseEnv()
	var spec LaunchSpec

	switch typ {
	case tools.ServerGmail:
		if inst.CredentialsDir == "" {
			return "", LaunchSpec{}, fmt.Errorf("gmail: credentials_dir is required")
		}
		dir := f.resolvePath(inst.CredentialsDir)
		env["GMAIL_OAUTH_PATH"] = filepath.Join(dir, "credentials.json")
		env["GMAIL_CREDENTIALS_PATH"] = filepath.Join(dir, "token.json")
		spec = LaunchSpec{Command: "npx", Args: []string{"-y", "@gongrzhe/server-gmail-autoauth-mcp"}}

	case tools.ServerCalendar:
		if inst.CredentialsDir != "" {
			dir := f.resolvePath(inst.CredentialsDir)
			env["GOOGLE_OAUTH_CREDENTIALS"] = filepath.Join(dir, "credentials.json")
			env["GOOGLE_CALENDAR_MCP_TOKEN_PATH"] = filepath.Join(dir, "calendar_tokens.json")
		} else {
			f.passThrough(env, "GOOGLE_OAUTH_CREDENTIALS", "GOOGLE_CALENDAR_MCP_TOKEN_PATH")
		}
		if inst.AccountID != "" {
			env["CALENDAR_ACCOUNT"] = inst.AccountID
		}
		spec = LaunchSpec{Command: "npx", Args: []string{"-y", "@cocal/google-calendar-mcp"}}

	case tools.ServerTelegram:
		if err := f.resolveSecrets(ctx, env, map[string]string{
			"TELEGRAM_API_ID":         inst.APIIDSecret,
			"TELEGRAM_API_HASH":       inst.APIHashSecret,
			"TELEGRAM_SESSION_STRING": inst.SessionSecret,
		}); err != nil {
			return "", LaunchSpec{}, err
		}
		if inst.ServerDir != "" {
			spec = LaunchSpec{Command: "uv", Args: []string{"--directory", f.resolvePath(inst.ServerDir), "run", "main.py"}}
		} else {
			spec = LaunchSpec{Command: "uvx", Args: []string{"telegram-mcp"}}
		}

	case tools.ServerWhatsApp:
		if inst.ServerDir == "" {
			return "", LaunchSpec{}, fmt.Errorf("whatsapp: server_dir is required")
		}
		spec = LaunchSpec{Command: "node", Args: []string{filepath.Join(f.resolvePath(inst.ServerDir), "src", "main.ts")}}

	case tools.ServerSlack:
		if err := f.resolveSecrets(ctx, env, map[string]string{
			"SLACK_MCP_XOXP_TOKEN": inst.TokenSecret,
		}); err != nil {
			return "", LaunchSpec{}, err
		}
		env["SLACK_MCP_ADD_MESSAGE_TOOL"] = "true"
		spec = LaunchSpec{Command: "npx", Args: []string{"-y", "slack-mcp-server@latest", "--transport", "stdio"}}

	case tools.ServerConfluence, tools.ServerJira:
		if inst.SiteName != "" {
			env["ATLASSIAN_SITE_NAME"] = inst.SiteName
		}
		if inst.UserEmail != "" {
			env["ATLASSIAN_USER_EMAIL"] = inst.UserEmail
		}
		if err := f.resolveSecrets(ctx, env, map[string]string{
			"ATLASSIAN_API_TOKEN": inst.APITokenSecret,
		}); err != nil {
			return "", LaunchSpec{}, err
		}
		pkg := "@aashari/mcp-server-atlassian-confluence"
		if typ == tools.ServerJira {
			pkg = "@aashari/mcp-server-atlassian-jira"
		}
		spec = LaunchSpec{Command: "npx", Args: []string{"-y", pkg}}

	default:
		return "", LaunchSpec{}, fmt.Errorf("no launcher for server type %q", typ)
	}

	if inst.Command != "" {
		spec.Command = inst.Command
		spec.Args = slices.Clone(inst.Args)
	}
	spec.Env = flattenEnv(env)
	return typ, spec, nil
}

func (f *Factory) baseEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range f.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && slices.Contains(safeEnvKeys, key) {
			env[key] = value
		}
	}
	return env
}

// passThrough copies named parent variables that are set.
func (f *Factory) passThrough(env map[string]string, keys ...string) {
	for _, kv := range f.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && value != "" && slices.Contains(keys, key) {
			env[key] = value
		}
	}
}

// resolveSecrets maps child variables to secret keys. Unset keys are
// skipped; a missing secret becomes an empty variable.
func (f *Factory) resolveSecrets(ctx context.Context, env map[string]string, vars map[string]string) error {
	for envKey, secretKey := range vars {
		if secretKey == "" {
			continue
		}
		value, err := secrets.Lookup(ctx, f.secrets, secretKey)
		if err != nil {
			return fmt.Errorf("resolve secret %q: %w", secretKey, err)
		}
		env[envKey] = value
	}
	return nil
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
