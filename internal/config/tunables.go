package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Tunables are the scoring parameters operators may adjust at runtime without
// a restart. Every consumer reads them through a TunablesSource so edits to
// the tunables file take effect on the next query.
type Tunables struct {
	// ConfidenceCountWeight and ConfidenceRelevanceWeight split the
	// confidence score between result volume and average relevance.
	ConfidenceCountWeight     float64 `yaml:"confidence_count_weight" json:"confidence_count_weight"`
	ConfidenceRelevanceWeight float64 `yaml:"confidence_relevance_weight" json:"confidence_relevance_weight"`

	// RecencyDecayPerYear discounts the recency score per year of age.
	RecencyDecayPerYear float64 `yaml:"recency_decay_per_year" json:"recency_decay_per_year"`

	// AgentWeights holds the lexical/semantic fusion split per agent.
	AgentWeights map[string]FusionWeights `yaml:"agent_weights" json:"agent_weights"`
}

// FusionWeights is the lexical/semantic split used in score fusion.
type FusionWeights struct {
	Lexical  float64 `yaml:"lexical" json:"lexical"`
	Semantic float64 `yaml:"semantic" json:"semantic"`
}

// DefaultTunables returns the shipped parameter set.
func DefaultTunables() Tunables {
	return Tunables{
		ConfidenceCountWeight:     0.7,
		ConfidenceRelevanceWeight: 0.3,
		RecencyDecayPerYear:       0.1,
		AgentWeights: map[string]FusionWeights{
			"research": {Lexical: 0.3, Semantic: 0.7},
			"clinical": {Lexical: 0.4, Semantic: 0.6},
			"drug":     {Lexical: 0.5, Semantic: 0.5},
		},
	}
}

// WeightsFor returns the fusion weights for an agent, falling back to an
// even split when the agent has no entry.
func (t Tunables) WeightsFor(agent string) FusionWeights {
	if w, ok := t.AgentWeights[agent]; ok {
		return w
	}
	return FusionWeights{Lexical: 0.5, Semantic: 0.5}
}

func (t Tunables) validate() error {
	if t.ConfidenceCountWeight < 0 || t.ConfidenceRelevanceWeight < 0 {
		return fmt.Errorf("confidence weights must be non-negative")
	}
	if t.RecencyDecayPerYear < 0 || t.RecencyDecayPerYear > 1 {
		return fmt.Errorf("recency_decay_per_year must be in [0,1]")
	}
	for name, w := range t.AgentWeights {
		if w.Lexical < 0 || w.Semantic < 0 {
			return fmt.Errorf("agent %q: fusion weights must be non-negative", name)
		}
		// Fused scores stay in [0,1] only when the split sums to one.
		if math.Abs(w.Lexical+w.Semantic-1.0) > weightSumTolerance {
			return fmt.Errorf("agent %q: fusion weights must sum to 1.0, got %g", name, w.Lexical+w.Semantic)
		}
	}
	return nil
}

// weightSumTolerance absorbs float error in hand-edited weight splits.
const weightSumTolerance = 1e-6

// TunablesSource provides the current tunable parameters. Consumers call
// Current on every use rather than caching the result.
type TunablesSource interface {
	Current() Tunables
}

// StaticTunables is a TunablesSource with a fixed parameter set, used in
// tests and when no tunables file is configured.
type StaticTunables struct {
	T Tunables
}

func (s StaticTunables) Current() Tunables { return s.T }

// TunablesManager watches a YAML file and swaps in new parameters when it
// changes. An invalid or unparsable update is rejected and the previous
// parameters stay in effect.
type TunablesManager struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	stopCh  chan struct{}

	mu      sync.RWMutex
	current Tunables
}

// NewTunablesManager loads the file at path and starts watching its directory
// for changes. If path is empty, the manager serves defaults and does not
// watch anything.
func NewTunablesManager(path string, logger *zap.Logger) (*TunablesManager, error) {
	m := &TunablesManager{
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
		current: DefaultTunables(),
	}
	if path == "" {
		return m, nil
	}

	if err := m.reload(); err != nil {
		return nil, fmt.Errorf("load tunables: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save and
	// a watch on the old inode goes stale.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch tunables dir: %w", err)
	}
	m.watcher = watcher
	go m.watch()
	return m, nil
}

// Current returns the active parameter set.
func (m *TunablesManager) Current() Tunables {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Stop terminates the file watcher.
func (m *TunablesManager) Stop() {
	close(m.stopCh)
	if m.watcher != nil {
		m.watcher.Close()
	}
}

func (m *TunablesManager) watch() {
	// Debounce rapid write bursts from editors.
	var timer *time.Timer
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(100*time.Millisecond, func() {
				if err := m.reload(); err != nil {
					m.logger.Warn("tunables reload rejected, keeping previous values",
						zap.String("path", m.path),
						zap.Error(err),
					)
				} else {
					m.logger.Info("tunables reloaded", zap.String("path", m.path))
				}
			})
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("tunables watcher error", zap.Error(err))
		}
	}
}

func (m *TunablesManager) reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	t := DefaultTunables()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if err := t.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = t
	m.mu.Unlock()
	return nil
}
