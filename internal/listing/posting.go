package listing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/job-pilot/internal/jobs"
)

// Field names accepted by Exclude.
const (
	FieldURL     = "URL"
	FieldCompany = "Company"
)

// Exclusion actors recorded in the exclude file.
const (
	ExcludeActorUser = "user"
	ExcludeActorAI   = "ai"
)

// Posting is a job posting seen on a search page or listing before it is
// ingested into the job store.
type Posting struct {
	URL         string `json:"url"`
	ExternalID  string `json:"external_id,omitempty"`
	Title       string `json:"title"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	RemoteOK    bool   `json:"remote_ok,omitempty"`
	IsEasyApply bool   `json:"is_easy_apply,omitempty"`
	PostedAt    string `json:"posted_at,omitempty"`

	AI *Assessment `json:"ai,omitempty"`
}

// Assessment is the pre-ingest fit verdict attached by the ai_fit filter.
type Assessment struct {
	Fit    bool    `json:"fit"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Fields converts the posting into job store fields.
func (p *Posting) Fields() jobs.Fields {
	return jobs.Fields{
		Title:       p.Title,
		Company:     p.Company,
		Location:    p.Location,
		Description: p.Description,
		Source:      p.Source,
		RemoteOK:    p.RemoteOK,
		IsEasyApply: p.IsEasyApply,
	}
}

func (p *Posting) field(name string) string {
	switch name {
	case FieldURL:
		return p.URL
	case FieldCompany:
		return p.Company
	default:
		return ""
	}
}

type Postings struct {
	Items []*Posting
}

func (v *Postings) Len() int {
	return len(v.Items)
}

func (v *Postings) FindByURL(url string) *Posting {
	for _, p := range v.Items {
		if p.URL == url {
			return p
		}
	}
	return nil
}

// Exclude removes every posting whose field equals one of targets (case
// insensitive) and returns the urls of the removed postings. Order of the
// remaining postings is preserved.
func (v *Postings) Exclude(name string, targets []string) []string {
	if len(targets) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			set[t] = struct{}{}
		}
	}

	return v.Drop(func(p *Posting) bool {
		_, hit := set[strings.ToLower(strings.TrimSpace(p.field(name)))]
		return hit
	})
}

// Drop removes postings matching pred and returns their urls.
func (v *Postings) Drop(pred func(*Posting) bool) []string {
	var removed []string
	kept := v.Items[:0]
	for _, p := range v.Items {
		if pred(p) {
			removed = append(removed, p.URL)
			continue
		}
		kept = append(kept, p)
	}
	clear(v.Items[len(kept):])
	v.Items = kept
	return removed
}

func (v *Postings) URLs() []string {
	urls := make([]string, 0, len(v.Items))
	for _, p := range v.Items {
		urls = append(urls, p.URL)
	}
	return urls
}

// ReportByCompany groups postings by company for review before ingest.
func (v *Postings) ReportByCompany() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, p := range v.Items {
		key := p.Company
		if key == "" {
			key = "unknown company"
		}
		entry := map[string]string{
			"title":    p.Title,
			"url":      p.URL,
			"location": p.Location,
		}
		if p.AI != nil {
			if p.AI.Error != "" {
				entry["ai_error"] = p.AI.Error
			} else {
				entry["ai_fit"] = strconv.FormatBool(p.AI.Fit)
				entry["ai_score"] = strconv.FormatFloat(p.AI.Score, 'f', -1, 64)
				entry["ai_reason"] = p.AI.Reason
			}
		}
		report[key] = append(report[key], entry)
	}
	return report
}

func (v *Postings) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "postings_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return file.Name(), nil
}

func (v *Postings) ToExcluded(actor, reason string) *Excluded {
	excluded := &Excluded{}
	now := time.Now().UTC()
	for _, p := range v.Items {
		excluded.Items = append(excluded.Items, &ExcludedPosting{
			URL:        p.URL,
			Title:      p.Title,
			Company:    p.Company,
			Actor:      actor,
			Reason:     reason,
			ExcludedAt: now,
		})
	}
	return excluded
}

// Excluded is the on-disk list of postings the candidate never wants to see again.
type Excluded struct {
	Items []*ExcludedPosting
}

type ExcludedPosting struct {
	URL        string
	Title      string
	Company    string
	Actor      string
	Reason     string `json:",omitempty"`
	ExcludedAt time.Time
}

// LoadExcluded reads an exclude file. A missing or empty file is an empty list.
func LoadExcluded(path string) (*Excluded, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Excluded{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() == 0 {
		return &Excluded{}, nil
	}

	var excluded Excluded
	if err := json.NewDecoder(file).Decode(&excluded); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &excluded, nil
}

func (e *Excluded) Append(s *Excluded) {
	e.Items = append(e.Items, s.Items...)
}

func (e *Excluded) URLs() []string {
	urls := make([]string, 0, len(e.Items))
	for _, p := range e.Items {
		urls = append(urls, p.URL)
	}
	return urls
}

func (e *Excluded) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

// AppendToFile adds postings to the exclude file at path.
func AppendToFile(path string, postings *Postings, actor, reason string) error {
	excluded, err := LoadExcluded(path)
	if err != nil {
		return fmt.Errorf("load excluded postings: %w", err)
	}
	excluded.Append(postings.ToExcluded(actor, reason))
	if err := excluded.ToFile(path); err != nil {
		return fmt.Errorf("write excluded postings: %w", err)
	}
	return nil
}
