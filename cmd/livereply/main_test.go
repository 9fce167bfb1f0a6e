package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"livereply/internal/transport/nativemsg"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	resetFlags()
	t.Cleanup(resetFlags)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags undoes earlier Execute calls; cobra keeps flag state on the
// package-level commands.
func resetFlags() {
	cfgPath, envFile = "", ".env"
	classifyKind, classifyAuthor = "system", ""
	hostPath, extensionIDs, manifestDir = "", nil, ""
	for _, c := range append(rootCmd.Commands(), rootCmd) {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
		c.PersistentFlags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	}
}

func TestClassifyCommand(t *testing.T) {
	t.Setenv("LIVEREPLY_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	out, err := execute(t, "Alice joined\n\nsomething else\nBob liked 3 times\n", "classify")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("output:\n%s", out)
	}
	if !strings.HasPrefix(lines[0], "enter\tenter:Alice\t") || lines[1] != "-" || !strings.HasPrefix(lines[2], "likeN\tlikeN:Bob:3\t") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestClassifyUsesConfiguredRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	cfg := `
classifier:
  rules:
    - name: raid
      kind: system
      patterns: ['^(?P<name>\S+) raided$']
      key: 'raid:{name}'
      reply: 'Thanks for the raid, {name}!'
`
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "carol raided\nAlice joined\n", "classify", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if out != "raid\traid:carol\tThanks for the raid, carol!\n-\n" {
		t.Fatalf("output = %q", out)
	}

	if _, err := execute(t, "", "classify", "--config", filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing explicit config accepted")
	}
	if _, err := execute(t, "", "classify", "--kind", "shout"); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestInstallHost(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "livereply")
	out, err := execute(t, "", "install-host", "--dir", dir, "--path", exe, "--extension-id", "abc", "--extension-id", "def")
	if err != nil {
		t.Fatal(err)
	}
	written := strings.TrimSpace(out)
	if written != filepath.Join(dir, nativemsg.HostName+".json") {
		t.Fatalf("written = %q", written)
	}
	b, err := os.ReadFile(written)
	if err != nil {
		t.Fatal(err)
	}
	var m nativemsg.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m.Path != exe || len(m.AllowedOrigins) != 2 || m.AllowedOrigins[1] != "chrome-extension://def/" {
		t.Fatalf("manifest = %+v", m)
	}

	if _, err := execute(t, "", "install-host", "--dir", dir); err == nil {
		t.Fatal("install without extension id accepted")
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("LIVEREPLY_CONFIG", "/etc/livereply/config.yaml")
	if got := configPath(); got != "/etc/livereply/config.yaml" {
		t.Fatalf("configPath = %q", got)
	}
	cfgPath = "./local.json"
	defer func() { cfgPath = "" }()
	if got := configPath(); got != "./local.json" {
		t.Fatalf("configPath = %q", got)
	}
}
