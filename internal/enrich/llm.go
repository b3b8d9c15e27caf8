package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/pkg/anthropic"
)

const (
	ambiguousLow  = 30
	ambiguousHigh = 70
	maxPromptText = 6000
)

const classifySystem = `You classify websites. Answer with a single JSON object and nothing else:
{"is_blog": true|false, "score": 0-100, "reason": "<short reason>"}
A blog is a site whose main content is dated posts or articles by its authors.`

// LLMClassifier runs the heuristic first and asks the model only when the
// heuristic score is ambiguous. Model errors fall back to the heuristic.
type LLMClassifier struct {
	heuristic *HeuristicClassifier
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewLLMClassifier wraps h with model-backed tie-breaking.
func NewLLMClassifier(h *HeuristicClassifier, client anthropic.Client, model string, maxTokens int64) *LLMClassifier {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &LLMClassifier{heuristic: h, client: client, model: model, maxTokens: maxTokens}
}

type llmVerdict struct {
	IsBlog bool   `json:"is_blog"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

func (c *LLMClassifier) Classify(ctx context.Context, rec model.Record) (model.Classification, error) {
	page, err := c.heuristic.fetch(ctx, rec)
	if err != nil {
		return model.Classification{}, err
	}
	base := ScorePage(page)
	if base.Score < ambiguousLow || base.Score > ambiguousHigh {
		return base, nil
	}

	text := truncateText(page.Text, maxPromptText)
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    classifySystem,
		Prompt:    fmt.Sprintf("URL: %s\nTitle: %s\nHeuristic signals: %s\n\n%s", page.FinalURL, page.Title, base.Notes, text),
	})
	if err != nil {
		zap.L().Warn("enrich: llm classify failed, using heuristic",
			zap.Int64("record_id", rec.ID), zap.Error(err))
		return base, nil
	}

	v, err := parseVerdict(resp.Text)
	if err != nil {
		zap.L().Warn("enrich: unparseable llm verdict, using heuristic",
			zap.Int64("record_id", rec.ID), zap.Error(err))
		return base, nil
	}
	return model.Classification{
		IsBlog: v.IsBlog,
		Score:  max(0, min(v.Score, 100)),
		Notes:  "llm: " + v.Reason + "; heuristic: " + base.Notes,
	}, nil
}

// parseVerdict extracts the first JSON object from text.
func parseVerdict(text string) (llmVerdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return llmVerdict{}, eris.New("enrich: no json object in reply")
	}
	var v llmVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return llmVerdict{}, eris.Wrap(err, "enrich: decode verdict")
	}
	return v, nil
}

// truncateText cuts s to at most n bytes without splitting a rune.
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
