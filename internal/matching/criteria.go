package matching

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/jobs"
)

// Criteria are the candidate's hard constraints. Empty lists disable the
// corresponding check.
type Criteria struct {
	Languages        []string `mapstructure:"languages"`
	Locations        []string `mapstructure:"locations"`
	RoleKeywords     []string `mapstructure:"role-keywords"`
	DealBreakers     []string `mapstructure:"deal-breakers"`
	ExperienceLevels []string `mapstructure:"experience-levels"`
}

func DefaultCriteria() Criteria {
	return Criteria{
		Languages:        []string{"english"},
		Locations:        []string{"berlin", "remote"},
		RoleKeywords:     []string{"data", "ai", "analytics", "it"},
		ExperienceLevels: []string{"junior", "mid"},
	}
}

const (
	LanguageEnglish = "english"
	LanguageGerman  = "german"

	LevelJunior = "junior"
	LevelMid    = "mid"
	LevelSenior = "senior"
)

var (
	remoteKeywords = []string{"remote", "work from home", "wfh", "distributed", "anywhere"}
	germanKeywords = []string{"deutsch", "deutschkenntnisse", "muttersprache", "fließend deutsch"}
	seniorKeywords = []string{"senior", "5+ years", "7+ years", "lead", "principal", "staff engineer"}
	juniorKeywords = []string{"junior", "entry level", "entry-level", "graduate", "0-2 years", "trainee", "werkstudent"}
)

// DetectLanguage guesses the working language of a posting.
func DetectLanguage(text string) string {
	if containsWord(strings.ToLower(text), germanKeywords) {
		return LanguageGerman
	}
	return LanguageEnglish
}

func DetectRemote(text string) bool {
	return containsWord(strings.ToLower(text), remoteKeywords)
}

// DetectLevel classifies seniority from the title first, then the description.
func DetectLevel(title, description string) string {
	for _, text := range []string{title, description} {
		lower := strings.ToLower(text)
		switch {
		case containsWord(lower, seniorKeywords):
			return LevelSenior
		case containsWord(lower, juniorKeywords):
			return LevelJunior
		}
	}
	return LevelMid
}

type constraints struct {
	languages []string
	locations []string
}

// effective fills unset criteria from the profile so a candidate without
// explicit configuration is still checked against their own document.
func (c Criteria) effective(profile *candidate.Profile) constraints {
	out := constraints{
		languages: lowerAll(c.Languages),
		locations: lowerAll(c.Locations),
	}
	if profile == nil {
		return out
	}
	if len(out.languages) == 0 {
		out.languages = lowerAll(profile.Languages)
	}
	if len(out.locations) == 0 {
		city, _, _ := strings.Cut(profile.Location, ",")
		if city = strings.ToLower(strings.TrimSpace(city)); city != "" {
			out.locations = []string{city}
		}
	}
	return out
}

type verdict struct {
	languageOK bool
	locationOK bool
	reason     string
}

func (v verdict) filtered() bool { return v.reason != "" }

func (c Criteria) check(job *jobs.Job, profile *candidate.Profile) verdict {
	eff := c.effective(profile)
	text := job.Title + "\n" + job.Description
	lowerText := strings.ToLower(text)

	language := strings.ToLower(strings.TrimSpace(job.Language))
	if language == "" {
		language = DetectLanguage(text)
	}
	remote := job.RemoteOK || DetectRemote(job.Location)
	level := strings.ToLower(strings.TrimSpace(job.ExperienceLevel))
	if level == "" {
		level = DetectLevel(job.Title, job.Description)
	}

	v := verdict{languageOK: true, locationOK: true}
	var reasons []string

	if len(eff.languages) > 0 && !contains(eff.languages, language) {
		v.languageOK = false
		reasons = append(reasons, fmt.Sprintf("Language mismatch: %s", language))
	}

	if len(eff.locations) > 0 && !remote && strings.TrimSpace(job.Location) != "" {
		if !locationAllowed(job.Location, eff.locations) {
			v.locationOK = false
			reasons = append(reasons, fmt.Sprintf("Location not allowed: %s", job.Location))
		}
	}

	for _, kw := range c.DealBreakers {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && containsWord(lowerText, []string{kw}) {
			reasons = append(reasons, fmt.Sprintf("Deal-breaker keyword: %s", kw))
			break
		}
	}

	if kws := lowerAll(c.RoleKeywords); len(kws) > 0 && !containsWord(strings.ToLower(job.Title), kws) {
		reasons = append(reasons, "Role not relevant (no matching keywords)")
	}

	if levels := lowerAll(c.ExperienceLevels); len(levels) > 0 && !contains(levels, level) {
		reasons = append(reasons, fmt.Sprintf("Experience level mismatch: %s", level))
	}

	v.reason = strings.Join(reasons, "; ")
	return v
}

func locationAllowed(location string, allowed []string) bool {
	lower := strings.ToLower(location)
	for _, a := range allowed {
		if a == "remote" {
			continue
		}
		if strings.Contains(lower, a) {
			return true
		}
	}
	return false
}

var (
	patternsMu   sync.Mutex
	wordPatterns = map[string]*regexp.Regexp{}
)

// containsWord matches keywords on word boundaries so "it" does not match
// inside "with".
func containsWord(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if keywordPattern(kw).MatchString(lower) {
			return true
		}
	}
	return false
}

func keywordPattern(kw string) *regexp.Regexp {
	patternsMu.Lock()
	defer patternsMu.Unlock()
	if re, ok := wordPatterns[kw]; ok {
		return re
	}
	re := regexp.MustCompile(`(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(kw) + `(?:$|[^\p{L}\p{N}])`)
	wordPatterns[kw] = re
	return re
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
