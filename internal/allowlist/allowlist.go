package allowlist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"washbook/internal/models"
)

// DefaultEntry is written to a freshly created allowlist file.
const DefaultEntry = "admin@example.com"

// Provider answers whether an email may open a session.
type Provider interface {
	IsAllowed(email string) bool
}

// Set is an in-memory Provider.
type Set map[string]struct{}

// NewSet builds a Set from raw addresses.
func NewSet(emails ...string) Set {
	s := make(Set, len(emails))
	for _, e := range emails {
		if n := models.NormalizeEmail(e); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s Set) IsAllowed(email string) bool {
	n := models.NormalizeEmail(email)
	if n == "" {
		return false
	}
	_, ok := s[n]
	return ok
}

// FileProvider serves the allowlist stored in a plain-text file, one email
// per line. Blank lines and lines starting with # are ignored.
type FileProvider struct {
	path         string
	defaultEntry string
	logger       *zerolog.Logger

	mu      sync.RWMutex
	emails  Set
	modTime time.Time
}

func NewFileProvider(path, defaultEntry string, logger *zerolog.Logger) *FileProvider {
	if defaultEntry == "" {
		defaultEntry = DefaultEntry
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "allowlist").Logger()
	return &FileProvider{
		path:         path,
		defaultEntry: defaultEntry,
		logger:       &l,
		emails:       Set{},
	}
}

// Load reads the file, creating it with the default entry when absent, and
// replaces the in-memory set.
func (p *FileProvider) Load() (map[string]struct{}, error) {
	if err := p.ensureFile(); err != nil {
		return nil, err
	}

	info, err := os.Stat(p.path)
	if err != nil {
		return nil, fmt.Errorf("stat allowlist: %w", err)
	}

	emails, err := readFile(p.path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.emails = emails
	p.modTime = info.ModTime()
	p.mu.Unlock()

	p.logger.Info().Str("path", p.path).Int("entries", len(emails)).Msg("Allowlist loaded")

	out := make(map[string]struct{}, len(emails))
	for e := range emails {
		out[e] = struct{}{}
	}
	return out, nil
}

func (p *FileProvider) IsAllowed(email string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.emails.IsAllowed(email)
}

// Len returns the number of loaded entries.
func (p *FileProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.emails)
}

// Watch reloads the file whenever its modification time advances. A failed
// reload keeps the previous set.
func (p *FileProvider) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reloadIfChanged()
		}
	}
}

func (p *FileProvider) reloadIfChanged() {
	info, err := os.Stat(p.path)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Allowlist stat failed")
		return
	}

	p.mu.RLock()
	last := p.modTime
	p.mu.RUnlock()
	if !info.ModTime().After(last) {
		return
	}

	if _, err := p.Load(); err != nil {
		p.logger.Error().Err(err).Msg("Allowlist reload failed, keeping previous entries")
	}
}

func (p *FileProvider) ensureFile() error {
	_, err := os.Stat(p.path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat allowlist: %w", err)
	}

	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create allowlist directory: %w", err)
		}
	}
	if err := os.WriteFile(p.path, []byte(p.defaultEntry+"\n"), 0o644); err != nil {
		return fmt.Errorf("create allowlist: %w", err)
	}

	p.logger.Warn().Str("path", p.path).Str("entry", p.defaultEntry).Msg("Allowlist missing, created with default entry")
	return nil
}

func readFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open allowlist: %w", err)
	}
	defer f.Close()

	emails := Set{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		emails[models.NormalizeEmail(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read allowlist: %w", err)
	}
	return emails, nil
}
