package theme

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tailscale/hujson"

	"github.com/onnwee/chatqueue/backend/dispatch"
)

func setup(t *testing.T, settings string, themes ...string) (*VSCode, string) {
	t.Helper()
	dir := t.TempDir()
	themeDir := filepath.Join(dir, "themes")
	if err := os.Mkdir(themeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, n := range themes {
		if err := os.WriteFile(filepath.Join(themeDir, n), []byte("body{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	settingsPath := filepath.Join(dir, "settings.json")
	if settings != "" {
		if err := os.WriteFile(settingsPath, []byte(settings), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return New(settingsPath, themeDir, ""), settingsPath
}

func readImports(t *testing.T, path string) ([]string, string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		t.Fatalf("settings no longer parse: %v\n%s", err, raw)
	}
	var doc map[string]any
	if err := json.Unmarshal(std, &doc); err != nil {
		t.Fatal(err)
	}
	var out []string
	if list, ok := doc[ImportsKey].([]any); ok {
		for _, v := range list {
			out = append(out, v.(string))
		}
	}
	return out, string(raw)
}

func TestApplyRewritesImportsKeepingComments(t *testing.T) {
	settings := `{
	// editor font
	"editor.fontSize": 14,
	"vscode_custom_css.imports": ["file:///old/monokai.css"],
}`
	v, path := setup(t, settings, "dracula.css", "monokai.css")
	var reloaded string
	v.ReloadCmd = "code --reload"
	v.Exec = func(_ context.Context, script string) error { reloaded = script; return nil }

	if err := v.Apply(context.Background(), " dracula "); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	imports, raw := readImports(t, path)
	if len(imports) != 1 || !strings.HasPrefix(imports[0], "file://") || !strings.HasSuffix(imports[0], "/themes/dracula.css") {
		t.Fatalf("imports = %v", imports)
	}
	if !strings.Contains(raw, "\t// editor font\n\t\"editor.fontSize\": 14,\n") {
		t.Errorf("unrelated content lost:\n%s", raw)
	}
	if reloaded != "code --reload" {
		t.Errorf("reload command = %q", reloaded)
	}
}

func TestApplyCreatesMissingKeyAndFile(t *testing.T) {
	v, path := setup(t, "", "default.css")
	if err := v.Apply(context.Background(), "default"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	imports, _ := readImports(t, path)
	if len(imports) != 1 || !strings.HasSuffix(imports[0], "default.css") {
		t.Fatalf("imports = %v", imports)
	}
}

func TestApplyRejects(t *testing.T) {
	v, path := setup(t, `{"a": 1}`, "dracula.css")
	tests := []struct {
		name string
		want error
	}{
		{"../etc/passwd", ErrInvalidName},
		{"dracula.css", ErrInvalidName},
		{"", ErrInvalidName},
		{"solarized", ErrUnknownTheme},
	}
	for _, tt := range tests {
		err := v.Apply(context.Background(), tt.name)
		if !errors.Is(err, tt.want) || !dispatch.IsClientError(err, "theme") {
			t.Errorf("Apply(%q) = %v, want %v", tt.name, err, tt.want)
		}
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != `{"a": 1}` {
		t.Errorf("settings modified on rejected theme: %s", raw)
	}
}

func TestApplyReloadFailure(t *testing.T) {
	v, _ := setup(t, `{}`, "dracula.css")
	v.ReloadCmd = "false"
	if err := v.Apply(context.Background(), "dracula"); !dispatch.IsClientError(err, "theme") {
		t.Fatalf("expected theme client error, got %v", err)
	}
}

func TestList(t *testing.T) {
	v, _ := setup(t, "", "zen.css", "dracula.css", "notes.txt", "bad name.css")
	got, err := v.List()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "dracula,zen" {
		t.Errorf("List = %v", got)
	}
}
