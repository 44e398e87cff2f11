package assistant

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spigell/job-pilot/internal/candidate"
)

// Answer sources.
const (
	SourceProfile    = "profile"
	SourceBook       = "answer_book"
	SourceExperience = "experience"
	SourceConsent    = "consent"
	SourceResume     = "resume"
)

// Questions containing these are left to the operator.
var sensitiveKeywords = []string{
	"salary",
	"compensation",
	"visa",
	"work authorization",
	"relocation",
	"notice period",
	"citizenship",
}

var consentKeywords = []string{"terms", "agree", "acknowledge"}

// bookMatchThreshold is the minimum token overlap for an answer book entry
// to be used for a differently worded question.
const bookMatchThreshold = 0.8

type Answer struct {
	Value     string
	Source    string
	Sensitive bool
}

// Answerer decides field values from the candidate profile and the
// operator's answer book.
type Answerer struct {
	profile *candidate.Profile
	book    map[string]string
	resume  string
	now     func() time.Time
}

func NewAnswerer(profile *candidate.Profile, book map[string]string, resumePath string) *Answerer {
	normalized := make(map[string]string, len(book))
	for q, a := range book {
		if key := normalizeLabel(q); key != "" && a != "" {
			normalized[key] = a
		}
	}
	return &Answerer{profile: profile, book: normalized, resume: resumePath, now: time.Now}
}

// Sensitive reports whether a question must never be answered automatically.
func Sensitive(label string) bool {
	l := strings.ToLower(label)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(l, kw) {
			return true
		}
	}
	return false
}

// Answer returns the value to put into f. ok is false when the field has to
// be left alone; Answer.Sensitive then tells whether it was skipped on purpose.
func (a *Answerer) Answer(f Field) (Answer, bool) {
	if Sensitive(f.Label) {
		return Answer{Sensitive: true}, false
	}

	switch f.Kind {
	case FieldFile:
		if a.resume == "" || !isResumeInput(f) {
			return Answer{}, false
		}
		return Answer{Value: a.resume, Source: SourceResume}, true
	case FieldCheckbox:
		if containsAny(strings.ToLower(f.Label), consentKeywords) {
			return Answer{Value: "true", Source: SourceConsent}, true
		}
		if v, ok := a.fromBook(f.Label); ok && isYes(v) {
			return Answer{Value: "true", Source: SourceBook}, true
		}
		return Answer{}, false
	}

	value, source := a.raw(f.Label)
	if value == "" {
		return Answer{}, false
	}

	if f.Kind == FieldSelect || f.Kind == FieldRadio {
		option, ok := pickOption(f.Options, value)
		if !ok {
			return Answer{}, false
		}
		value = option
	}
	return Answer{Value: value, Source: source}, true
}

func (a *Answerer) raw(label string) (string, string) {
	if v := a.fromProfile(label); v != "" {
		return v, SourceProfile
	}
	if v, ok := a.fromBook(label); ok {
		return v, SourceBook
	}
	l := strings.ToLower(label)
	if a.profile != nil && strings.Contains(l, "years") && strings.Contains(l, "experience") {
		return strconv.Itoa(a.profile.YearsOfExperience(a.now())), SourceExperience
	}
	return "", ""
}

func (a *Answerer) fromProfile(label string) string {
	p := a.profile
	if p == nil {
		return ""
	}
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "phone"), strings.Contains(l, "mobile"):
		return p.Phone
	case strings.Contains(l, "email"):
		return p.Email
	case strings.Contains(l, "first name"):
		return p.FirstName()
	case strings.Contains(l, "last name"):
		return p.LastName()
	case strings.Contains(l, "city"):
		city, _, _ := strings.Cut(p.Location, ",")
		return strings.TrimSpace(city)
	}
	return ""
}

func (a *Answerer) fromBook(label string) (string, bool) {
	key := normalizeLabel(label)
	if key == "" {
		return "", false
	}
	if v, ok := a.book[key]; ok {
		return v, true
	}

	best, bestScore := "", 0.0
	for q, v := range a.book {
		if s := overlap(key, q); s > bestScore {
			best, bestScore = v, s
		}
	}
	if bestScore >= bookMatchThreshold {
		return best, true
	}
	return "", false
}

func isResumeInput(f Field) bool {
	l := strings.ToLower(f.Label)
	if strings.Contains(l, "resume") || containsWord(normalizeLabel(f.Label), "cv") {
		return true
	}
	accept := strings.ToLower(f.Accept)
	return strings.Contains(accept, "pdf") || strings.Contains(accept, "doc")
}

// pickOption returns the option that equals value, or failing that the
// first one containing it or contained in it.
func pickOption(options []string, value string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, o := range options {
		if strings.ToLower(strings.TrimSpace(o)) == v {
			return o, true
		}
	}
	for _, o := range options {
		lo := strings.ToLower(strings.TrimSpace(o))
		if lo == "" {
			continue
		}
		if strings.Contains(lo, v) || strings.Contains(v, lo) {
			return o, true
		}
	}
	return "", false
}

func normalizeLabel(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// overlap is the Dice coefficient of the word sets of two normalized labels.
func overlap(a, b string) float64 {
	wa, wb := strings.Fields(a), strings.Fields(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(wa))
	for _, w := range wa {
		set[w] = struct{}{}
	}
	seen := make(map[string]struct{}, len(wb))
	common := 0
	for _, w := range wb {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := set[w]; ok {
			common++
		}
	}
	return 2 * float64(common) / float64(len(set)+len(seen))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func containsWord(normalized, word string) bool {
	for _, w := range strings.Fields(normalized) {
		if w == word {
			return true
		}
	}
	return false
}

func isYes(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "y", "1":
		return true
	}
	return false
}
