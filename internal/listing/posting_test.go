package listing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func samplePostings() *Postings {
	return &Postings{Items: []*Posting{
		{URL: "https://jobs.example.com/1", Title: "Go Developer", Company: "Acme", Location: "Berlin",
			AI: &Assessment{Fit: true, Score: 91, Reason: "Matches tech stack"}},
		{URL: "https://jobs.example.com/2", Title: "Python Developer", Company: "Globex",
			AI: &Assessment{Error: "quota exceeded"}},
		{URL: "https://jobs.example.com/3", Title: "Data Engineer", Company: "acme"},
		{URL: "https://jobs.example.com/4", Title: "Analyst"},
	}}
}

func TestReportByCompanyIncludesAIResults(t *testing.T) {
	report := samplePostings().ReportByCompany()

	entries, ok := report["Acme"]
	if !ok {
		t.Fatalf("expected company key in report")
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry["ai_fit"] != "true" {
		t.Fatalf("expected ai_fit true, got %q", entry["ai_fit"])
	}
	if entry["ai_score"] != "91" {
		t.Fatalf("expected ai_score 91, got %q", entry["ai_score"])
	}
	if entry["ai_reason"] != "Matches tech stack" {
		t.Fatalf("unexpected ai_reason: %q", entry["ai_reason"])
	}

	globex := report["Globex"]
	if len(globex) != 1 || globex[0]["ai_error"] != "quota exceeded" {
		t.Fatalf("unexpected globex entries: %v", globex)
	}
	if _, ok := globex[0]["ai_fit"]; ok {
		t.Fatalf("did not expect ai_fit for error case")
	}

	if len(report["unknown company"]) != 1 {
		t.Fatalf("expected posting without company under placeholder key")
	}
}

func TestDumpToTmpFile(t *testing.T) {
	filename, err := samplePostings().DumpToTmpFile()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	t.Cleanup(func() { os.Remove(filename) })

	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	var got Postings
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if got.Len() != 4 || got.Items[1].AI == nil || got.Items[1].AI.Error != "quota exceeded" {
		t.Fatalf("unexpected dump contents: %s", data)
	}
}

func TestExcludeRemovesEveryMatchAndKeepsOrder(t *testing.T) {
	v := samplePostings()

	removed := v.Exclude(FieldCompany, []string{"ACME", " "})
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed postings, got %v", removed)
	}
	if v.Len() != 2 {
		t.Fatalf("expected 2 postings left, got %d", v.Len())
	}
	if v.Items[0].URL != "https://jobs.example.com/2" || v.Items[1].URL != "https://jobs.example.com/4" {
		t.Fatalf("unexpected order after exclude: %v", v.URLs())
	}

	if got := v.Exclude(FieldURL, nil); got != nil {
		t.Fatalf("expected nothing removed for empty targets, got %v", got)
	}
	if got := v.Exclude(FieldURL, []string{"https://jobs.example.com/4"}); len(got) != 1 {
		t.Fatalf("expected url exclusion, got %v", got)
	}
}

func TestExcludeFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclude.json")

	empty, err := LoadExcluded(path)
	if err != nil {
		t.Fatalf("missing file must load as empty list: %v", err)
	}
	if len(empty.Items) != 0 {
		t.Fatalf("expected empty list, got %d", len(empty.Items))
	}

	first := &Postings{Items: samplePostings().Items[:2]}
	if err := AppendToFile(path, first, ExcludeActorUser, ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	second := &Postings{Items: samplePostings().Items[2:3]}
	if err := AppendToFile(path, second, ExcludeActorAI, "no overlap"); err != nil {
		t.Fatalf("append: %v", err)
	}

	loaded, err := LoadExcluded(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	urls := loaded.URLs()
	if len(urls) != 3 || urls[2] != "https://jobs.example.com/3" {
		t.Fatalf("unexpected urls: %v", urls)
	}
	if loaded.Items[2].Actor != ExcludeActorAI || loaded.Items[2].Reason != "no overlap" {
		t.Fatalf("unexpected excluded entry: %+v", loaded.Items[2])
	}
}

func TestFieldsCarriesPostingAttributes(t *testing.T) {
	p := &Posting{Title: "Dev", Company: "Acme", Source: "adzuna", RemoteOK: true, IsEasyApply: true}
	f := p.Fields()
	if f.Title != "Dev" || f.Company != "Acme" || f.Source != "adzuna" || !f.RemoteOK || !f.IsEasyApply {
		t.Fatalf("unexpected fields: %+v", f)
	}
}
