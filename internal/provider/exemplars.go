package provider

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"chat2edit/internal/logging"
	"chat2edit/internal/types"
)

// DefaultLocale is used when a locale has no exemplars of its own.
const DefaultLocale = "en"

// Exemplar is a worked example conversation shown in the prompt.
type Exemplar struct {
	Name   string
	Cycles []types.ChatCycle
}

// exemplarFile is the YAML layout of one exemplar document.
type exemplarFile struct {
	Locale    string         `yaml:"locale"`
	Exemplars []exemplarYAML `yaml:"exemplars"`
}

type exemplarYAML struct {
	Name   string      `yaml:"name"`
	Cycles []cycleYAML `yaml:"cycles"`
}

type cycleYAML struct {
	Request messageYAML `yaml:"request"`
	Steps   []stepYAML  `yaml:"steps"`
}

type messageYAML struct {
	Text     string   `yaml:"text"`
	Varnames []string `yaml:"varnames"`
}

type stepYAML struct {
	Thinking string        `yaml:"thinking"`
	Commands string        `yaml:"commands"`
	Feedback *feedbackYAML `yaml:"feedback"`
	Response *messageYAML  `yaml:"response"`
}

type feedbackYAML struct {
	Status   string   `yaml:"status"`
	Text     string   `yaml:"text"`
	Varnames []string `yaml:"varnames"`
}

// ParseExemplars decodes one exemplar document. Every step needs thinking
// and commands, and exactly one of feedback and response.
func ParseExemplars(data []byte) (string, []Exemplar, error) {
	var doc exemplarFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("parse exemplars: %w", err)
	}
	locale := strings.TrimSpace(doc.Locale)
	if locale == "" {
		locale = DefaultLocale
	}

	out := make([]Exemplar, 0, len(doc.Exemplars))
	for i, ey := range doc.Exemplars {
		ex := Exemplar{Name: ey.Name}
		if ex.Name == "" {
			ex.Name = fmt.Sprintf("exemplar%d", i+1)
		}
		for j, cy := range ey.Cycles {
			cycle, err := cy.toCycle()
			if err != nil {
				return "", nil, fmt.Errorf("exemplar %s cycle %d: %w", ex.Name, j+1, err)
			}
			ex.Cycles = append(ex.Cycles, cycle)
		}
		out = append(out, ex)
	}
	return locale, out, nil
}

func (cy cycleYAML) toCycle() (types.ChatCycle, error) {
	cycle := types.ChatCycle{
		Request: types.Message{Text: cy.Request.Text, Varnames: cy.Request.Varnames},
	}
	if len(cy.Steps) == 0 {
		return cycle, errors.New("no steps")
	}
	for k, st := range cy.Steps {
		if strings.TrimSpace(st.Thinking) == "" || strings.TrimSpace(st.Commands) == "" {
			return cycle, fmt.Errorf("step %d: thinking and commands are required", k+1)
		}
		if (st.Feedback == nil) == (st.Response == nil) {
			return cycle, fmt.Errorf("step %d: exactly one of feedback and response is required", k+1)
		}
		if cycle.Response != nil {
			return cycle, fmt.Errorf("step %d: follows a response", k+1)
		}
		commands := splitCommands(st.Commands)
		exec := &types.ExecResult{Commands: commands}
		if st.Feedback != nil {
			status := types.Status(st.Feedback.Status)
			if !status.Valid() {
				return cycle, fmt.Errorf("step %d: invalid status %q", k+1, st.Feedback.Status)
			}
			exec.Status, exec.Text, exec.Varnames = status, st.Feedback.Text, st.Feedback.Varnames
		} else {
			resp := types.Message{Text: st.Response.Text, Varnames: st.Response.Varnames}
			exec.Status = types.StatusInfo
			exec.Response = &resp
			cycle.Response = &resp
		}
		cycle.PromptCycles = append(cycle.PromptCycles, &types.PromptCycle{
			Thinking: strings.TrimSpace(st.Thinking),
			Commands: commands,
			Exec:     exec,
		})
	}
	return cycle, nil
}

func splitCommands(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ExemplarSet holds exemplars per locale and is safe for concurrent reload.
type ExemplarSet struct {
	mu       sync.RWMutex
	byLocale map[string][]Exemplar
}

// NewExemplarSet creates an empty set.
func NewExemplarSet() *ExemplarSet {
	return &ExemplarSet{byLocale: make(map[string][]Exemplar)}
}

// Get returns the exemplars for locale, or the default locale's.
func (s *ExemplarSet) Get(locale string) []Exemplar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ex, ok := s.byLocale[locale]; ok {
		return ex
	}
	return s.byLocale[DefaultLocale]
}

// Locales returns the locales that have exemplars, sorted.
func (s *ExemplarSet) Locales() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byLocale))
	for l := range s.byLocale {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Replace sets the exemplars of one locale.
func (s *ExemplarSet) Replace(locale string, ex []Exemplar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byLocale[locale] = ex
}

// LoadFS reads every .yaml/.yml file under dir in fsys. Files of the same
// locale are concatenated in name order; each loaded locale replaces what
// the set held for it. Nothing changes if any file is invalid.
func (s *ExemplarSet) LoadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read exemplars dir: %w", err)
	}
	loaded := make(map[string][]Exemplar)
	for _, e := range entries {
		if e.IsDir() || !isExemplarFile(e.Name()) {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}
		locale, ex, err := ParseExemplars(data)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		loaded[locale] = append(loaded[locale], ex...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for locale, ex := range loaded {
		s.byLocale[locale] = ex
		logging.ProviderDebug("Loaded %d exemplars for locale %s", len(ex), locale)
	}
	return nil
}

// LoadDir reads exemplar files from a directory on disk.
func (s *ExemplarSet) LoadDir(dir string) error {
	return s.LoadFS(os.DirFS(dir), ".")
}

func isExemplarFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
