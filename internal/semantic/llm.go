package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/pkg/cache"
)

// Cluster is one LLM-confirmed pair of markets describing the same event
// with different deadlines. Indices refer to the question slice passed to
// ClusterQuestions, zero-based.
type Cluster struct {
	EventDescription string
	EarlyIndex       int
	LateIndex        int
	Reasoning        string
}

// Match is one LLM-confirmed pair of questions describing the same event
// with the same deadline, listed on different venues. Indices refer to the
// question slice passed to MatchQuestions, zero-based.
type Match struct {
	EventDescription string
	FirstIndex       int
	SecondIndex      int
	Reasoning        string
}

// llmCluster mirrors the model's JSON contract (1-based indices).
type llmCluster struct {
	EventDescription string `json:"event_description"`
	EarlyMarketIndex int    `json:"early_market_index"`
	LateMarketIndex  int    `json:"late_market_index"`
	Reasoning        string `json:"reasoning"`
}

type llmResponse struct {
	Clusters []llmCluster `json:"clusters"`
}

// llmMatch mirrors the equivalence contract (1-based indices).
type llmMatch struct {
	EventDescription string `json:"event_description"`
	FirstIndex       int    `json:"first_index"`
	SecondIndex      int    `json:"second_index"`
	Reasoning        string `json:"reasoning"`
}

type llmMatchResponse struct {
	Matches []llmMatch `json:"matches"`
}

// chatRequest is an OpenAI-compatible chat completion request.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Clusterer asks an OpenAI-compatible endpoint to group questions by
// underlying event. Responses are cached by question-set hash so repeated
// scans of the same universe cost one call.
type Clusterer struct {
	http   *resty.Client
	model  string
	cache  cache.Cache
	logger *zap.Logger
}

// ClustererConfig holds LLM client configuration.
type ClustererConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	HTTPTimeout time.Duration
	Cache       cache.Cache
	Logger      *zap.Logger
}

// NewClusterer creates an LLM clustering client.
func NewClusterer(cfg *ClustererConfig) *Clusterer {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &Clusterer{
		http:   httpClient,
		model:  cfg.Model,
		cache:  cfg.Cache,
		logger: cfg.Logger,
	}
}

const clusterPromptHeader = `You are analyzing prediction market questions. Group together questions that describe the SAME underlying event with DIFFERENT deadlines. Only pair questions where one deadline strictly precedes the other and the earlier outcome implies the later one.

Respond with ONLY a JSON object of this exact shape:
{"clusters":[{"event_description":"...","early_market_index":1,"late_market_index":2,"reasoning":"..."}]}

Indices are 1-based positions in the numbered list below. If no valid pairs exist, respond {"clusters":[]}.

Questions:
`

const matchPromptHeader = `You are analyzing prediction market questions from two different trading venues. Pair together questions that describe the SAME underlying event resolving at the SAME deadline. The wording may differ between venues, but the event and the resolution date must be identical. Do NOT pair questions whose deadlines differ.

Respond with ONLY a JSON object of this exact shape:
{"matches":[{"event_description":"...","first_index":1,"second_index":2,"reasoning":"..."}]}

Indices are 1-based positions in the numbered list below. If no valid pairs exist, respond {"matches":[]}.

Questions:
`

// ClusterQuestions sends the question list to the model and returns the
// validated clusters. A malformed response yields zero clusters, never an
// error; transport failures are errors.
func (c *Clusterer) ClusterQuestions(ctx context.Context, questions []string) ([]Cluster, error) {
	if len(questions) < 2 {
		return nil, nil
	}

	key := cacheKey(questions)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			if clusters, ok := cached.([]Cluster); ok {
				CacheHitsTotal.Inc()
				return clusters, nil
			}
		}
	}

	content, err := c.complete(ctx, clusterPromptHeader, questions)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, nil
	}

	clusters := ParseClusterResponse(content, len(questions))
	c.logger.Debug("llm-clusters-parsed",
		zap.Int("questions", len(questions)),
		zap.Int("clusters", len(clusters)))

	if c.cache != nil {
		c.cache.Set(key, clusters, 10*time.Minute)
	}

	return clusters, nil
}

// MatchQuestions asks the model which question pairs describe the same
// event at the same deadline. It follows the same cache and parse rules as
// ClusterQuestions.
func (c *Clusterer) MatchQuestions(ctx context.Context, questions []string) ([]Match, error) {
	if len(questions) < 2 {
		return nil, nil
	}

	key := "match:" + cacheKey(questions)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			if matches, ok := cached.([]Match); ok {
				CacheHitsTotal.Inc()
				return matches, nil
			}
		}
	}

	content, err := c.complete(ctx, matchPromptHeader, questions)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, nil
	}

	matches := ParseMatchResponse(content, len(questions))
	c.logger.Debug("llm-matches-parsed",
		zap.Int("questions", len(questions)),
		zap.Int("matches", len(matches)))

	if c.cache != nil {
		c.cache.Set(key, matches, 10*time.Minute)
	}

	return matches, nil
}

// complete sends one numbered-question prompt and returns the first choice's
// content, or empty when the model returned no choices.
func (c *Clusterer) complete(ctx context.Context, header string, questions []string) (string, error) {
	var b strings.Builder
	b.WriteString(header)
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: b.String()},
		},
	}

	var parsed chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&parsed).
		Post("/chat/completions")
	if err != nil {
		RequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("llm request: %w", err)
	}
	if resp.IsError() {
		RequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("llm status %d: %s", resp.StatusCode(), resp.String())
	}
	RequestsTotal.WithLabelValues("ok").Inc()

	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// ParseClusterResponse extracts clusters from raw model output. Markdown
// fences are stripped and the first top-level JSON object is parsed.
// Clusters with out-of-range or non-distinct indices are discarded.
func ParseClusterResponse(raw string, questionCount int) []Cluster {
	raw = stripFences(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil
	}

	out := make([]Cluster, 0, len(parsed.Clusters))
	for _, cl := range parsed.Clusters {
		early, late := cl.EarlyMarketIndex-1, cl.LateMarketIndex-1
		if early < 0 || early >= questionCount {
			continue
		}
		if late < 0 || late >= questionCount {
			continue
		}
		if early == late {
			continue
		}
		out = append(out, Cluster{
			EventDescription: cl.EventDescription,
			EarlyIndex:       early,
			LateIndex:        late,
			Reasoning:        cl.Reasoning,
		})
	}
	return out
}

// ParseMatchResponse extracts same-event matches from raw model output,
// under the same fence-stripping and index validation as
// ParseClusterResponse.
func ParseMatchResponse(raw string, questionCount int) []Match {
	raw = stripFences(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil
	}

	var parsed llmMatchResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil
	}

	out := make([]Match, 0, len(parsed.Matches))
	for _, m := range parsed.Matches {
		first, second := m.FirstIndex-1, m.SecondIndex-1
		if first < 0 || first >= questionCount {
			continue
		}
		if second < 0 || second >= questionCount {
			continue
		}
		if first == second {
			continue
		}
		out = append(out, Match{
			EventDescription: m.EventDescription,
			FirstIndex:       first,
			SecondIndex:      second,
			Reasoning:        m.Reasoning,
		})
	}
	return out
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(raw)
}

func cacheKey(questions []string) string {
	sorted := make([]string, len(questions))
	copy(sorted, questions)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return "llm:" + hex.EncodeToString(sum[:8])
}
