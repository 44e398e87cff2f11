package materials

import (
	"math"
	"slices"
	"strings"

	"github.com/spigell/job-pilot/internal/ai"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/matching"
)

// Tailoring is the deterministic part of a tailored CV.
type Tailoring struct {
	CV       ai.TailoredCV
	Keywords []string
	Found    []string
	Missing  []string
	ATSScore int
}

// Tailor reorders the profile for a job description using only what the
// profile already contains. Bullets move up by the number of job keywords
// they mention and matching skills move to the front.
func Tailor(title, description string, profile *candidate.Profile) Tailoring {
	required, optional := matching.ExtractSkills(title + "\n" + description)
	keywords := append(append([]string{}, required...), optional...)

	have := make(map[string]struct{}, len(profile.Skills))
	for _, s := range profile.Skills {
		have[matching.SkillKey(s)] = struct{}{}
	}
	wanted := make(map[string]struct{}, len(keywords))
	var found, missing []string
	for _, k := range keywords {
		key := matching.SkillKey(k)
		wanted[key] = struct{}{}
		if _, ok := have[key]; ok {
			found = append(found, k)
		} else {
			missing = append(missing, k)
		}
	}

	var matchedSkills, otherSkills []string
	for _, s := range profile.Skills {
		if _, ok := wanted[matching.SkillKey(s)]; ok {
			matchedSkills = append(matchedSkills, s)
		} else {
			otherSkills = append(otherSkills, s)
		}
	}

	experience := make([]candidate.Experience, len(profile.Experience))
	for i, e := range profile.Experience {
		e.Highlights = rankBullets(e.Highlights, wanted)
		experience[i] = e
	}

	return Tailoring{
		CV: ai.TailoredCV{
			Headline:        profile.Headline,
			Summary:         profile.Summary,
			Skills:          append(matchedSkills, otherSkills...),
			Experience:      experience,
			MatchedKeywords: found,
			MissingKeywords: missing,
		},
		Keywords: keywords,
		Found:    found,
		Missing:  missing,
		ATSScore: atsScore(len(found), len(missing)),
	}
}

// atsScore is found / (found + missing) as a percentage, 0 without keywords.
func atsScore(found, missing int) int {
	if found+missing == 0 {
		return 0
	}
	return int(math.Round(100 * float64(found) / float64(found+missing)))
}

func rankBullets(bullets []string, wanted map[string]struct{}) []string {
	type ranked struct {
		text string
		hits int
	}
	out := make([]ranked, 0, len(bullets))
	for _, b := range bullets {
		req, opt := matching.ExtractSkills(b)
		hits := 0
		for _, s := range append(req, opt...) {
			if _, ok := wanted[matching.SkillKey(s)]; ok {
				hits++
			}
		}
		out = append(out, ranked{text: b, hits: hits})
	}
	slices.SortStableFunc(out, func(a, b ranked) int { return b.hits - a.hits })

	texts := make([]string, len(out))
	for i, r := range out {
		texts[i] = r.text
	}
	return texts
}

// refine merges generated wording into the deterministic CV. Skills the
// profile does not have and rewritten experience are ignored, so the result
// never claims anything the profile does not.
func refine(base ai.TailoredCV, generated *ai.TailoredCV, profile *candidate.Profile) ai.TailoredCV {
	if generated == nil {
		return base
	}
	out := base
	if h := strings.TrimSpace(generated.Headline); h != "" {
		out.Headline = h
	}
	if s := strings.TrimSpace(generated.Summary); s != "" {
		out.Summary = s
	}

	own := make(map[string]string, len(profile.Skills))
	for _, s := range profile.Skills {
		own[matching.SkillKey(s)] = s
	}
	var skills []string
	seen := make(map[string]struct{})
	for _, s := range append(append([]string{}, generated.Skills...), base.Skills...) {
		key := matching.SkillKey(s)
		name, ok := own[key]
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		skills = append(skills, name)
	}
	out.Skills = skills
	return out
}

// asProfile overlays a tailored CV on the profile for cover letter requests.
func asProfile(profile *candidate.Profile, cv *ai.TailoredCV) *candidate.Profile {
	p := profile.Clone()
	if cv == nil {
		return p
	}
	if cv.Headline != "" {
		p.Headline = cv.Headline
	}
	if cv.Summary != "" {
		p.Summary = cv.Summary
	}
	if len(cv.Skills) > 0 {
		p.Skills = append([]string(nil), cv.Skills...)
	}
	if len(cv.Experience) > 0 {
		p.Experience = append([]candidate.Experience(nil), cv.Experience...)
	}
	return p
}
