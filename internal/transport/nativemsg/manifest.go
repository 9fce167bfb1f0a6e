package nativemsg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const HostName = "com.livereply.host"

// Manifest is the JSON file Chrome reads to find a native messaging host.
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// NewManifest builds a stdio manifest for the executable at path, allowing
// the given extension ids.
func NewManifest(path string, extensionIDs []string) Manifest {
	origins := make([]string, 0, len(extensionIDs))
	for _, id := range extensionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !strings.HasPrefix(id, "chrome-extension://") {
			id = "chrome-extension://" + id + "/"
		}
		origins = append(origins, id)
	}
	return Manifest{
		Name:           HostName,
		Description:    "livereply auto-reply host",
		Path:           path,
		Type:           "stdio",
		AllowedOrigins: origins,
	}
}

func (m Manifest) Validate() error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("manifest: name required"))
	}
	if !filepath.IsAbs(m.Path) {
		errs = append(errs, fmt.Errorf("manifest: path %q must be absolute", m.Path))
	}
	if m.Type != "stdio" {
		errs = append(errs, fmt.Errorf("manifest: type %q must be stdio", m.Type))
	}
	if len(m.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("manifest: at least one allowed origin required"))
	}
	return errors.Join(errs...)
}

// UserManifestDir is Chrome's per-user NativeMessagingHosts directory.
// Windows has none: the manifest path is registered under
// HKCU\Software\Google\Chrome\NativeMessagingHosts\<name> instead.
func UserManifestDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "linux":
		return filepath.Join(home, ".config", "google-chrome", "NativeMessagingHosts"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Google", "Chrome", "NativeMessagingHosts"), nil
	default:
		return "", fmt.Errorf("nativemsg: no per-user manifest dir on %s; pass --dir and register it manually", runtime.GOOS)
	}
}

// WriteManifest validates m and writes <dir>/<name>.json, returning the path.
func WriteManifest(dir string, m Manifest) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, m.Name+".json")
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
