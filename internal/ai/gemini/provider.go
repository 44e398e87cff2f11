package gemini

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/ai"
	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/logger"
	"github.com/spigell/job-pilot/internal/utils"
)

const (
	providerName            = "gemini"
	defaultMaxLogLength     = 200
	maxUserInstructionRunes = 500
)

//go:embed prompts/*.md
var prompts embed.FS

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// Provider implements ai.Generator on top of a Gemini content generator.
type Provider struct {
	generator    contentGenerator
	logger       *zap.Logger
	maxLogLen    int
	instructions string
}

var _ ai.Generator = (*Provider)(nil)

func NewProvider(generator contentGenerator, maxLogLength int, log *zap.Logger) *Provider {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Provider{
		generator: generator,
		logger:    logger.Generation(log, providerName, generator.Model()),
		maxLogLen: maxLogLength,
	}
}

// SetInstructions sets advisory operator notes used when a request has none.
func (p *Provider) SetInstructions(instructions string) {
	p.instructions = instructions
}

func (p *Provider) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	instructions := req.Instructions
	if strings.TrimSpace(instructions) == "" {
		instructions = p.instructions
	}

	system, err := buildSystemPrompt(req.Kind, instructions)
	if err != nil {
		return nil, err
	}

	message, err := buildMessage(req)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("gemini generate content request",
		zap.String("kind", string(req.Kind)),
		zap.String("job_id", req.Job.ID),
		zap.Int("message_length", utf8.RuneCountInString(message)),
		zap.String("message_preview", utils.Preview(message, p.maxLogLen)),
	)

	raw, err := p.generator.GenerateContent(ctx, system, message)
	if err != nil {
		transient := IsTemporary(err) || errors.Is(err, context.DeadlineExceeded)
		return nil, apperr.ExternalCapability(fmt.Sprintf("gemini %s request failed", req.Kind), err, transient)
	}

	p.logger.Debug("gemini generate content response",
		zap.String("kind", string(req.Kind)),
		zap.String("job_id", req.Job.ID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.Preview(raw, p.maxLogLen)),
	)

	resp, err := parseResponse(req.Kind, raw)
	if err != nil {
		return nil, apperr.ExternalCapability(fmt.Sprintf("gemini %s response is malformed", req.Kind), err, false)
	}
	resp.Raw = raw

	return resp, nil
}

func buildSystemPrompt(kind ai.Kind, instructions string) (string, error) {
	system, err := prompts.ReadFile("prompts/system.md")
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	task, err := prompts.ReadFile("prompts/" + string(kind) + ".md")
	if err != nil {
		return "", fmt.Errorf("read %s prompt: %w", kind, err)
	}

	prompt := strings.ReplaceAll(string(system), "{{TASK}}", strings.TrimSpace(string(task)))
	prompt = strings.ReplaceAll(prompt, "{{USER_INSTRUCTIONS}}", sanitizeInstructions(instructions))
	return prompt, nil
}

// sanitizeInstructions renders operator notes as an indented list. Square
// brackets are replaced so notes cannot open a new prompt section.
func sanitizeInstructions(raw string) string {
	cleaned := strings.NewReplacer("[", "(", "]", ")", "\r", "").Replace(raw)

	lines := make([]string, 0)
	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}

	joined := strings.Join(lines, "\n")
	if utf8.RuneCountInString(joined) > maxUserInstructionRunes {
		joined = string([]rune(joined)[:maxUserInstructionRunes])
	}
	if strings.TrimSpace(joined) == "" {
		return "  - none"
	}

	out := make([]string, 0, len(lines))
	for _, line := range strings.Split(joined, "\n") {
		out = append(out, "  - "+line)
	}
	return strings.Join(out, "\n")
}

type message struct {
	Job      ai.JobContext `json:"job"`
	Profile  any           `json:"profile"`
	Variant  string        `json:"variant,omitempty"`
	Keywords []string      `json:"keywords,omitempty"`
}

func buildMessage(req ai.Request) (string, error) {
	data, err := json.MarshalIndent(message{
		Job:      req.Job,
		Profile:  req.Profile,
		Variant:  req.Variant,
		Keywords: req.Keywords,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal request payload: %w", err)
	}
	return string(data), nil
}

func parseResponse(kind ai.Kind, raw string) (*ai.Response, error) {
	cleaned := extractJSON(raw)

	switch kind {
	case ai.KindTailorCV:
		var cv ai.TailoredCV
		if err := json.Unmarshal([]byte(cleaned), &cv); err != nil {
			return nil, fmt.Errorf("parse gemini response: %w", err)
		}
		if strings.TrimSpace(cv.Summary) == "" && len(cv.Skills) == 0 && len(cv.Experience) == 0 {
			return nil, errors.New("tailored cv is empty")
		}
		return &ai.Response{CV: &cv}, nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	switch kind {
	case ai.KindScore:
		score := coerceFloat(data["score"])
		if math.IsNaN(score) {
			return nil, errors.New("score is missing")
		}
		if score > 0 && score <= 1 {
			score *= 100
		}
		return &ai.Response{
			Fit:     coerceBool(data["fit"]),
			Score:   math.Max(0, math.Min(100, score)),
			Reason:  coerceString(data["reason"]),
			Summary: coerceString(data["summary"]),
		}, nil
	case ai.KindSummarize:
		summary := coerceString(data["summary"])
		if summary == "" {
			return nil, errors.New("summary is empty")
		}
		return &ai.Response{Summary: summary}, nil
	case ai.KindCoverLetter:
		letter := coerceString(data["cover_letter"])
		if letter == "" {
			return nil, errors.New("cover letter is empty")
		}
		return &ai.Response{CoverLetter: letter}, nil
	}

	return nil, fmt.Errorf("unsupported kind %q", kind)
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(val), "%")
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
