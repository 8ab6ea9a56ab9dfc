// Package moderation classifies panel images through an external service.
//
// The gateway is deliberately fail-open: a panel ships before classification
// completes its say, so an unreachable or erroring classifier approves by
// default rather than blocking creation. A flagged image is held as pending,
// never rejected outright.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"
)

type Result struct {
	Flagged    bool
	Categories []string
}

// Classifier submits an image URL for content classification.
type Classifier interface {
	Classify(ctx context.Context, imageURL string) (Result, error)
}

const defaultEndpoint = "https://api.openai.com/v1/moderations"

// OpenAIClassifier calls the hosted moderations endpoint with the image URL.
type OpenAIClassifier struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewOpenAIClassifier(apiKey, endpoint string, timeout time.Duration) *OpenAIClassifier {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &OpenAIClassifier{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type moderationRequest struct {
	Model string            `json:"model"`
	Input []moderationInput `json:"input"`
}

type moderationInput struct {
	Type     string             `json:"type"`
	ImageURL moderationImageURL `json:"image_url"`
}

type moderationImageURL struct {
	URL string `json:"url"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

func (c *OpenAIClassifier) Classify(ctx context.Context, imageURL string) (Result, error) {
	body, err := json.Marshal(moderationRequest{
		Model: "omni-moderation-latest",
		Input: []moderationInput{
			{Type: "image_url", ImageURL: moderationImageURL{URL: imageURL}},
		},
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("moderation API returned status %d", resp.StatusCode)
	}

	var parsed moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, err
	}
	if len(parsed.Results) == 0 {
		return Result{}, nil
	}

	result := Result{Flagged: parsed.Results[0].Flagged}
	for category, hit := range parsed.Results[0].Categories {
		if hit {
			result.Categories = append(result.Categories, category)
		}
	}
	sort.Strings(result.Categories)

	return result, nil
}

var _ Classifier = (*OpenAIClassifier)(nil)

// Decision is the gateway's verdict on a panel image.
type Decision struct {
	Approved bool
	Reason   string
}

// Gateway applies the fail-open policy on top of a classifier.
type Gateway struct {
	classifier Classifier
}

// NewGateway wraps the classifier; a nil classifier approves everything
// (moderation not configured).
func NewGateway(classifier Classifier) *Gateway {
	return &Gateway{classifier: classifier}
}

// Review never fails: classifier errors degrade to approval.
func (g *Gateway) Review(ctx context.Context, imageURL string) Decision {
	if g.classifier == nil {
		return Decision{Approved: true}
	}

	result, err := g.classifier.Classify(ctx, imageURL)
	if err != nil {
		log.Printf("moderation unavailable, approving by policy: %v", err)
		return Decision{Approved: true}
	}

	if result.Flagged {
		return Decision{
			Approved: false,
			Reason:   "content flagged: " + strings.Join(result.Categories, ", "),
		}
	}

	return Decision{Approved: true}
}
