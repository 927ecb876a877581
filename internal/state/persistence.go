package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmaliev/crypto/internal/risk"
	"github.com/vmaliev/crypto/internal/safety"
	"github.com/vmaliev/crypto/pkg/types"
)

// Version is written into every state file; files with another major layout are ignored
const Version = "1"

// Logger is the subset of the bot logger used by persistence
type Logger interface {
	Info(format string, args ...interface{})
	LogWarning(component, message string, args ...interface{})
}

// SystemState is everything the engine needs to resume after a restart
// without loosening its safety rails
type SystemState struct {
	Version     string          `json:"version"`
	Name        string          `json:"name"`
	LastUpdated time.Time       `json:"last_updated"`
	Safety      safety.Snapshot `json:"safety"`
	Risk        risk.Snapshot   `json:"risk"`
	Session     *types.Session  `json:"session,omitempty"`
	IntakeHalt  string          `json:"intake_halt,omitempty"`
}

// Persistence saves and loads SystemState as JSON with a backup copy
type Persistence struct {
	logger   Logger
	stateDir string
	name     string
	maxAge   time.Duration

	mu       sync.Mutex
	lastSave time.Time
	now      func() time.Time
}

// NewPersistence stores state under stateDir/<name>_state.json. States older
// than maxAge are ignored on load; zero means seven days.
func NewPersistence(logger Logger, stateDir, name string, maxAge time.Duration) *Persistence {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &Persistence{
		logger:   logger,
		stateDir: stateDir,
		name:     name,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// WithClock overrides the time source used for staleness checks
func (p *Persistence) WithClock(now func() time.Time) *Persistence {
	p.now = now
	return p
}

// Path returns the state file location
func (p *Persistence) Path() string {
	return filepath.Join(p.stateDir, fmt.Sprintf("%s_state.json", p.name))
}

func (p *Persistence) backupPath() string {
	return filepath.Join(p.stateDir, fmt.Sprintf("%s_state_backup.json", p.name))
}

// LastSave returns when state was last written, zero if never
func (p *Persistence) LastSave() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSave
}

// Load reads the saved state. It returns nil without error when no usable
// state exists: missing file, unreadable JSON, wrong owner or too old.
func (p *Persistence) Load() (*SystemState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.Path())
	if os.IsNotExist(err) {
		p.logger.Info("No existing state file found, starting with clean state")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st SystemState
	if err := json.Unmarshal(data, &st); err != nil {
		p.logger.LogWarning("State", "State file %s is corrupt: %v, using clean state", p.Path(), err)
		return nil, nil
	}
	if err := p.validate(&st); err != nil {
		p.logger.LogWarning("State Validation", "Loaded state has issues: %v, using clean state", err)
		return nil, nil
	}

	p.logger.Info("State loaded from %s (saved %s)", p.Path(), st.LastUpdated.Format(time.RFC3339))
	return &st, nil
}

// Save writes state atomically, keeping the previous file as a backup
func (p *Persistence) Save(st SystemState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(p.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	st.Version = Version
	st.Name = p.name
	st.LastUpdated = p.now()

	stateFile := p.Path()
	if _, err := os.Stat(stateFile); err == nil {
		if err := copyFile(stateFile, p.backupPath()); err != nil {
			p.logger.LogWarning("State Backup", "Failed to create backup: %v", err)
		}
	}

	data, err := json.MarshalIndent(&st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		return fmt.Errorf("failed to move state file: %w", err)
	}

	p.lastSave = st.LastUpdated
	return nil
}

func (p *Persistence) validate(st *SystemState) error {
	if st.Version != Version {
		return fmt.Errorf("unsupported state version %q", st.Version)
	}
	if st.Name != p.name {
		return fmt.Errorf("state name mismatch: expected %s, got %s", p.name, st.Name)
	}
	if age := p.now().Sub(st.LastUpdated); age > p.maxAge {
		return fmt.Errorf("state is too old: %v", st.LastUpdated)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
