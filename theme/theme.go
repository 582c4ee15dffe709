// Package theme switches the VS Code custom CSS theme shown on stream.
//
// The settings file is JSON with comments; it is edited with hujson so user
// comments and formatting survive the rewrite.
package theme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/onnwee/chatqueue/backend/dispatch"
)

// ImportsKey is the settings key read by the Custom CSS extension.
const ImportsKey = "vscode_custom_css.imports"

var (
	// ErrInvalidName rejects names that are not a bare file stem.
	ErrInvalidName = errors.New("invalid theme name")
	// ErrUnknownTheme means no <name>.css exists in the theme directory.
	ErrUnknownTheme = errors.New("unknown theme")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// VSCode applies themes by rewriting the settings file and running a reload command.
type VSCode struct {
	SettingsPath string
	Dir          string
	// ReloadCmd is run with "sh -c" after a successful rewrite; empty skips it.
	ReloadCmd string
	// Exec runs ReloadCmd; nil uses sh -c.
	Exec func(ctx context.Context, script string) error

	log *slog.Logger
}

// New returns a VSCode theme switcher.
func New(settingsPath, dir, reloadCmd string) *VSCode {
	return &VSCode{
		SettingsPath: settingsPath,
		Dir:          dir,
		ReloadCmd:    reloadCmd,
		log:          slog.Default().With(slog.String("component", "theme")),
	}
}

// Apply points the custom CSS import at <Dir>/<name>.css and triggers a reload.
func (v *VSCode) Apply(ctx context.Context, name string) error {
	if err := v.apply(ctx, strings.TrimSpace(name)); err != nil {
		return dispatch.Client("theme", err)
	}
	return nil
}

func (v *VSCode) apply(ctx context.Context, name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	cssPath, err := filepath.Abs(filepath.Join(v.Dir, name+".css"))
	if err != nil {
		return err
	}
	if _, err := os.Stat(cssPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrUnknownTheme, name)
		}
		return err
	}
	if err := v.rewrite("file://" + filepath.ToSlash(cssPath)); err != nil {
		return fmt.Errorf("rewrite settings: %w", err)
	}
	v.logger().Info("theme applied", slog.String("theme", name), slog.String("css", cssPath))

	if v.ReloadCmd == "" {
		return nil
	}
	run := v.Exec
	if run == nil {
		run = shell
	}
	if err := run(ctx, v.ReloadCmd); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// rewrite sets ImportsKey to a single import, keeping the rest of the file intact.
func (v *VSCode) rewrite(importURL string) error {
	raw, err := os.ReadFile(v.SettingsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = []byte("{}")
	}
	doc, err := hujson.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", v.SettingsPath, err)
	}
	patch, err := json.Marshal([]map[string]any{{
		"op":    "add",
		"path":  "/" + escapePointer(ImportsKey),
		"value": []string{importURL},
	}})
	if err != nil {
		return err
	}
	if err := doc.Patch(patch); err != nil {
		return fmt.Errorf("patch %s: %w", ImportsKey, err)
	}
	return writeAtomic(v.SettingsPath, doc.Pack())
}

// List returns the theme names available in Dir, sorted.
func (v *VSCode) List() ([]string, error) {
	entries, err := os.ReadDir(v.Dir)
	if err != nil {
		return nil, fmt.Errorf("read theme dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".css" {
			continue
		}
		if n := strings.TrimSuffix(e.Name(), ".css"); namePattern.MatchString(n) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (v *VSCode) logger() *slog.Logger {
	if v.log == nil {
		return slog.Default()
	}
	return v.log
}

func escapePointer(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}

func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func shell(ctx context.Context, script string) error {
	out, err := exec.CommandContext(ctx, "sh", "-c", script).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
