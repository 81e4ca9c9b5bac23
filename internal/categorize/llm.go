package categorize

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"

	"github.com/dvloznov/nexpass/internal/domain"
)

const (
	// DefaultModelName is the Gemini model used for classification.
	DefaultModelName = "gemini-2.0-flash"

	llmTimeout    = 30 * time.Second
	llmMaxRetries = 2
)

// GeminiClassifier classifies transactions with a Gemini chat completion
// constrained to the closed category list.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

// NewGeminiClassifier creates the classifier. apiKey may be empty when the
// environment already carries credentials.
func NewGeminiClassifier(ctx context.Context, apiKey, model string) (*GeminiClassifier, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClassifier: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiClassifier{client: client, model: model}, nil
}

// Classify implements Classifier. The response must be exactly one category
// name; anything else yields Uncategorized so the caller's fallback applies.
func (g *GeminiClassifier) Classify(ctx context.Context, in Input) (domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	names := make([]string, len(domain.Categories))
	for i, c := range domain.Categories {
		names[i] = string(c)
	}
	list := strings.Join(names, ", ")

	prompt := "You are a strict transaction classifier. " +
		"Respond with exactly one category name from this list and nothing else: " + list + ".\n\n" +
		"Transaction\n" +
		"Counterparty: " + in.Counterparty + "\n" +
		"Description: " + in.Description + "\n" +
		"Amount: " + in.Amount + " " + in.Currency + "\n"

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	var text string
	op := func() error {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
		if err != nil {
			return err
		}
		text = resp.Text()
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), llmMaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", fmt.Errorf("Classify: generate content: %w", err)
	}

	if cat, ok := domain.ParseCategory(sanitizeResponse(text)); ok {
		return cat, nil
	}
	return domain.CategoryUncategorized, nil
}

// sanitizeResponse strips everything except letters and interior spaces so
// quoted or punctuated model output still matches the taxonomy.
func sanitizeResponse(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || r == ' ' {
			return r
		}
		return -1
	}, s)
	return strings.TrimSpace(cleaned)
}
