package candidate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the read-only candidate document extracted upstream.
// The pipeline never mutates it; Clone is used whenever a copy escapes.
type Profile struct {
	Name       string       `yaml:"name" json:"name"`
	Email      string       `yaml:"email" json:"email"`
	Phone      string       `yaml:"phone" json:"phone"`
	Location   string       `yaml:"location" json:"location"`
	Headline   string       `yaml:"headline" json:"headline"`
	Summary    string       `yaml:"summary" json:"summary"`
	Languages  []string     `yaml:"languages" json:"languages"`
	Skills     []string     `yaml:"skills" json:"skills"`
	Experience []Experience `yaml:"experience" json:"experience"`
	Education  []Education  `yaml:"education" json:"education"`
}

type Experience struct {
	Title      string   `yaml:"title" json:"title"`
	Company    string   `yaml:"company" json:"company"`
	StartDate  string   `yaml:"start_date" json:"start_date"`
	EndDate    string   `yaml:"end_date" json:"end_date"`
	Highlights []string `yaml:"highlights" json:"highlights"`
}

type Education struct {
	Degree      string `yaml:"degree" json:"degree"`
	Institution string `yaml:"institution" json:"institution"`
	Year        string `yaml:"year" json:"year"`
}

// LoadProfile reads a YAML or JSON profile document.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %q: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %q: %w", path, err)
	}

	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("profile %q: name is required", path)
	}

	return &p, nil
}

func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Languages = append([]string(nil), p.Languages...)
	c.Skills = append([]string(nil), p.Skills...)
	c.Education = append([]Education(nil), p.Education...)
	c.Experience = make([]Experience, len(p.Experience))
	for i, e := range p.Experience {
		e.Highlights = append([]string(nil), e.Highlights...)
		c.Experience[i] = e
	}
	return &c
}

func (p *Profile) FirstName() string {
	parts := strings.Fields(p.Name)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func (p *Profile) LastName() string {
	parts := strings.Fields(p.Name)
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}

// YearsOfExperience counts from the earliest start year. Profiles without
// dated experience fall back to half the skill count, at least one year.
func (p *Profile) YearsOfExperience(now time.Time) int {
	earliest := 0
	for _, e := range p.Experience {
		start := strings.TrimSpace(e.StartDate)
		if len(start) < 4 {
			continue
		}
		year, err := strconv.Atoi(start[:4])
		if err != nil {
			continue
		}
		if earliest == 0 || year < earliest {
			earliest = year
		}
	}

	if earliest > 0 {
		return max(1, now.Year()-earliest)
	}

	return max(1, len(p.Skills)/2)
}

// Excerpt renders the parts of the profile that generation requests need.
func (p *Profile) Excerpt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	if p.Headline != "" {
		fmt.Fprintf(&b, "Headline: %s\n", p.Headline)
	}
	if p.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", p.Location)
	}
	if p.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", p.Summary)
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(p.Skills, ", "))
	}
	if len(p.Languages) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(p.Languages, ", "))
	}
	for _, e := range p.Experience {
		fmt.Fprintf(&b, "Experience: %s at %s (%s - %s)\n", e.Title, e.Company, e.StartDate, orPresent(e.EndDate))
		for _, h := range e.Highlights {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
	}
	for _, e := range p.Education {
		fmt.Fprintf(&b, "Education: %s, %s %s\n", e.Degree, e.Institution, e.Year)
	}
	return strings.TrimSpace(b.String())
}

func orPresent(s string) string {
	if strings.TrimSpace(s) == "" {
		return "present"
	}
	return s
}

// Source resolves the profile of the candidate bound to ctx.
type Source interface {
	Profile(ctx context.Context) (*Profile, error)
}

// Profiles maps candidate ids to profile files and caches parsed documents.
// Re-ingestion replaces the file; Reload drops the cache.
type Profiles struct {
	mu     sync.Mutex
	paths  map[string]string
	dir    string
	loaded map[string]*Profile
}

// NewProfiles builds a Source from explicit paths plus an optional directory
// holding <candidate>.yaml documents.
func NewProfiles(paths map[string]string, dir string) *Profiles {
	cp := make(map[string]string, len(paths))
	for k, v := range paths {
		cp[k] = v
	}
	return &Profiles{paths: cp, dir: dir, loaded: make(map[string]*Profile)}
}

func (s *Profiles) Profile(ctx context.Context) (*Profile, error) {
	id, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.loaded[id]; ok {
		return p.Clone(), nil
	}

	path, ok := s.paths[id]
	if !ok {
		if s.dir == "" {
			return nil, fmt.Errorf("no profile configured for candidate %q", id)
		}
		path = filepath.Join(s.dir, filepath.Base(id)+".yaml")
	}

	p, err := LoadProfile(path)
	if err != nil {
		return nil, err
	}
	s.loaded[id] = p

	return p.Clone(), nil
}

func (s *Profiles) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = make(map[string]*Profile)
}

// Static serves a fixed profile to every candidate. Used by tests and
// single-candidate tooling.
type Static struct{ P *Profile }

func (s Static) Profile(context.Context) (*Profile, error) {
	if s.P == nil {
		return nil, fmt.Errorf("profile is not loaded")
	}
	return s.P.Clone(), nil
}
