package infrastructure

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

const (
	gameConfigFile    = "config.ini"
	gameConfigSection = "General"
	gameVersionKey    = "game_version"
)

// GameFiles reads and writes the small state files a game client keeps in
// its install root
type GameFiles struct{}

// NewGameFiles creates a GameFiles
func NewGameFiles() *GameFiles {
	return &GameFiles{}
}

// ReadVersion returns game_version from <installPath>/config.ini, or an
// empty string when the file or key is absent
func (g *GameFiles) ReadVersion(installPath string) (string, error) {
	path := filepath.Join(installPath, gameConfigFile)
	cfg, err := ini.LoadSources(ini.LoadOptions{Loose: true, Insensitive: false}, path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(cfg.Section(gameConfigSection).Key(gameVersionKey).String()), nil
}

// WriteVersion sets game_version in config.ini, keeping other keys intact
func (g *GameFiles) WriteVersion(installPath, version string) error {
	path := filepath.Join(installPath, gameConfigFile)
	cfg, err := ini.LoadSources(ini.LoadOptions{Loose: true}, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg.Section(gameConfigSection).Key(gameVersionKey).SetValue(version)

	if err := os.MkdirAll(installPath, 0755); err != nil {
		return fmt.Errorf("failed to create install directory: %w", err)
	}
	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadAudioLanguages parses the audio scan file. Unknown lines are ignored;
// a missing file returns no languages and no error.
func (g *GameFiles) ReadAudioLanguages(path string) ([]domain.AudioLanguage, error) {
	lines, err := readLines(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audio scan file: %w", err)
	}

	var langs []domain.AudioLanguage
	seen := make(map[domain.AudioLanguage]bool)
	for _, line := range lines {
		for _, l := range domain.AudioLanguages {
			if strings.Contains(line, l.ScanName()) && !seen[l] {
				langs = append(langs, l)
				seen[l] = true
			}
		}
	}
	return langs, nil
}

// WriteAudioLanguages writes one scan name per line
func (g *GameFiles) WriteAudioLanguages(path string, langs []domain.AudioLanguage) error {
	var b strings.Builder
	for _, l := range langs {
		if name := l.ScanName(); name != "" {
			b.WriteString(name)
			b.WriteString("\r\n")
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write audio scan file: %w", err)
	}
	return nil
}
