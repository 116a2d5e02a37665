package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// Scorer assigns a score to every candidate label for one sentence.
// Returned scores are keyed by label name.
type Scorer interface {
	Score(ctx context.Context, sentence string, labels LabelSet) (map[string]float64, error)
}

// keywordSmoothing keeps a label with no hits above zero.
const keywordSmoothing = 0.1

// KeywordScorer scores labels by counting keyword hits in the sentence.
// Scores are normalized across labels so they sum to one, matching a
// single-label zero-shot distribution.
type KeywordScorer struct{}

// NewKeywordScorer returns a KeywordScorer.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{}
}

// Score implements Scorer.
func (KeywordScorer) Score(_ context.Context, sentence string, labels LabelSet) (map[string]float64, error) {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(sentence), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	}) {
		words[w] = true
	}

	raw := make(map[string]float64, len(labels.Labels))
	var total float64
	for _, l := range labels.Labels {
		hits := 0
		for _, k := range l.Keywords {
			if words[strings.ToLower(k)] {
				hits++
			}
		}
		v := float64(hits) + keywordSmoothing
		raw[l.Name] = v
		total += v
	}
	for name, v := range raw {
		raw[name] = v / total
	}
	return raw, nil
}

// ErrScorerUnavailable is returned when the remote scorer cannot be reached or answers badly.
var ErrScorerUnavailable = errors.New("scorer unavailable")

// ZeroShotScorer calls a hosted zero-shot classification model using the
// Hugging Face inference request shape.
type ZeroShotScorer struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewZeroShotScorer returns a scorer posting to endpoint.
func NewZeroShotScorer(endpoint, token string, timeout time.Duration) (*ZeroShotScorer, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("zero-shot scorer requires an endpoint")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ZeroShotScorer{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type zeroShotRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
	MultiLabel      bool     `json:"multi_label"`
}

type zeroShotResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
	Error  string    `json:"error"`
}

// Score implements Scorer.
func (z *ZeroShotScorer) Score(ctx context.Context, sentence string, labels LabelSet) (map[string]float64, error) {
	body, err := json.Marshal(zeroShotRequest{
		Inputs:     sentence,
		Parameters: zeroShotParameters{CandidateLabels: labels.Names()},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if z.token != "" {
		req.Header.Set("Authorization", "Bearer "+z.token)
	}

	resp, err := z.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrScorerUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrScorerUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out zeroShotResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrScorerUnavailable, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrScorerUnavailable, out.Error)
	}
	if len(out.Labels) != len(out.Scores) {
		return nil, fmt.Errorf("%w: %d labels but %d scores", ErrScorerUnavailable, len(out.Labels), len(out.Scores))
	}

	scores := make(map[string]float64, len(out.Labels))
	for i, l := range out.Labels {
		scores[l] = out.Scores[i]
	}
	return scores, nil
}
