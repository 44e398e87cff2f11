package matching

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type skill struct {
	name    string
	aliases []string
	// ambiguous skills collide with plain English words and are only
	// detected in free text by their exact spelling or an alias.
	ambiguous bool
}

var vocabulary = []skill{
	{name: "Python"},
	{name: "Java"},
	{name: "JavaScript", aliases: []string{"js", "ecmascript"}},
	{name: "TypeScript"},
	{name: "C++", aliases: []string{"cpp"}},
	{name: "C#", aliases: []string{"csharp", "c sharp"}},
	{name: "Ruby"},
	{name: "Go", aliases: []string{"golang"}, ambiguous: true},
	{name: "Rust"},
	{name: "SQL"},
	{name: "NoSQL"},
	{name: "PostgreSQL", aliases: []string{"postgres", "psql"}},
	{name: "MySQL"},
	{name: "MongoDB", aliases: []string{"mongo"}},
	{name: "Redis"},
	{name: "React", aliases: []string{"react.js", "reactjs"}},
	{name: "Vue", aliases: []string{"vue.js", "vuejs"}},
	{name: "Angular", aliases: []string{"angularjs", "angular.js"}},
	{name: "Node.js", aliases: []string{"nodejs"}},
	{name: "Django"},
	{name: "Flask"},
	{name: "FastAPI"},
	{name: "AWS", aliases: []string{"amazon web services"}},
	{name: "Azure", aliases: []string{"microsoft azure"}},
	{name: "GCP", aliases: []string{"google cloud", "google cloud platform"}},
	{name: "Docker"},
	{name: "Kubernetes", aliases: []string{"k8s"}},
	{name: "Terraform"},
	{name: "Machine Learning", aliases: []string{"ml"}},
	{name: "Deep Learning"},
	{name: "NLP", aliases: []string{"natural language processing"}},
	{name: "Computer Vision"},
	{name: "AI", aliases: []string{"artificial intelligence"}, ambiguous: true},
	{name: "Data Analysis", aliases: []string{"data analytics"}},
	{name: "Data Science"},
	{name: "Data Engineering"},
	{name: "Statistics"},
	{name: "Tableau"},
	{name: "Power BI", aliases: []string{"powerbi"}},
	{name: "Git"},
	{name: "CI/CD", aliases: []string{"cicd", "ci cd"}},
	{name: "Agile"},
	{name: "Scrum"},
	{name: "Jira"},
	{name: "Pandas"},
	{name: "NumPy"},
	{name: "scikit-learn", aliases: []string{"sklearn", "scikit learn"}},
	{name: "TensorFlow"},
	{name: "PyTorch"},
	{name: "Spark", aliases: []string{"apache spark", "pyspark"}},
	{name: "Hadoop"},
	{name: "Airflow", aliases: []string{"apache airflow"}},
	{name: "Kafka", aliases: []string{"apache kafka"}},
	{name: "REST API", aliases: []string{"rest apis", "restful", "restful api"}},
	{name: "GraphQL"},
	{name: "Microservices"},
	{name: "Excel"},
	{name: "R", ambiguous: true},
	{name: "MATLAB"},
	{name: "SAS", ambiguous: true},
}

type skillPattern struct {
	canonical string
	// loose is matched against case-folded text, strict against the raw text.
	loose  []*regexp.Regexp
	strict *regexp.Regexp
}

var (
	canonicalByKey map[string]string
	patterns       []skillPattern
)

func init() {
	canonicalByKey = make(map[string]string)
	for _, s := range vocabulary {
		canonicalByKey[normalize(s.name)] = s.name
		for _, a := range s.aliases {
			canonicalByKey[normalize(a)] = s.name
		}

		p := skillPattern{canonical: s.name}
		terms := s.aliases
		if s.ambiguous {
			p.strict = termPattern(s.name)
		} else {
			terms = append([]string{s.name}, terms...)
		}
		for _, term := range terms {
			p.loose = append(p.loose, termPattern(normalize(term)))
		}
		patterns = append(patterns, p)
	}
}

// termPattern matches term as a whole token. Boundaries are explicit
// character classes because \b does not work around "+", "#" or ".".
func termPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^\p{L}\p{N}+#.&])` + regexp.QuoteMeta(term) + `(?:$|[^\p{L}\p{N}+#&])`)
}

var foldChain = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalize folds case, strips diacritics and collapses whitespace.
func normalize(s string) string {
	stripped, _, err := transform.String(foldChain, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)
	return strings.Join(strings.Fields(folded), " ")
}

// Canonical maps a skill spelling to its display name. Skills outside the
// vocabulary keep their own trimmed spelling.
func Canonical(raw string) string {
	key := normalize(raw)
	if name, ok := canonicalByKey[key]; ok {
		return name
	}
	return strings.Join(strings.Fields(raw), " ")
}

// SkillKey is the comparison key of a skill: two spellings of the same skill
// share a key.
func SkillKey(raw string) string {
	return normalize(Canonical(raw))
}

// skillSet is keyed by normalized canonical name and keeps display names.
type skillSet map[string]string

func newSkillSet(skills []string) skillSet {
	set := make(skillSet, len(skills))
	for _, raw := range skills {
		name := Canonical(raw)
		if name == "" {
			continue
		}
		set[normalize(name)] = name
	}
	return set
}

func (s skillSet) has(name string) bool {
	_, ok := s[normalize(name)]
	return ok
}

func (s skillSet) sorted() []string {
	out := make([]string, 0, len(s))
	for _, name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var (
	optionalMarkers = []string{"nice to have", "nice-to-have", "preferred", "bonus", "a plus", "is a plus", "optional", "desirable"}
	requiredMarkers = []string{"required", "requirements", "must have", "must-have", "essential", "what you bring", "qualifications"}
)

// ExtractSkills finds vocabulary skills in a job text and splits them into
// required and optional. A skill is optional when it only appears on lines
// or under headings that mark it as a nice-to-have.
func ExtractSkills(text string) (required, optional []string) {
	req := skillSet{}
	opt := skillSet{}

	section := ""
	for _, line := range strings.Split(text, "\n") {
		raw := strings.TrimSpace(line)
		if raw == "" {
			continue
		}
		folded := normalize(raw)

		if isHeading(raw) {
			switch {
			case containsAny(folded, optionalMarkers):
				section = "optional"
			case containsAny(folded, requiredMarkers):
				section = "required"
			default:
				section = ""
			}
		}

		lineOptional := containsAny(folded, optionalMarkers) || (section == "optional" && !containsAny(folded, requiredMarkers))

		for _, p := range patterns {
			if !p.matches(raw, folded) {
				continue
			}
			if lineOptional {
				opt[normalize(p.canonical)] = p.canonical
			} else {
				req[normalize(p.canonical)] = p.canonical
			}
		}
	}

	for key := range req {
		delete(opt, key)
	}
	return req.sorted(), opt.sorted()
}

func (p skillPattern) matches(raw, folded string) bool {
	if p.strict != nil && p.strict.MatchString(raw) {
		return true
	}
	for _, re := range p.loose {
		if re.MatchString(folded) {
			return true
		}
	}
	return false
}

func isHeading(line string) bool {
	trimmed := strings.TrimLeft(line, "#*- ")
	if strings.HasSuffix(trimmed, ":") {
		return true
	}
	return strings.HasPrefix(line, "#") && len(strings.Fields(trimmed)) <= 6
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
