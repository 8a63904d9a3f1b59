// Package enrich classifies and translates bronze reviews with a language
// model and hands the results to the warehouse.
package enrich

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/reviewlake/reviewlake/pkg/review"
)

// Sentiments a review can be classified as.
var Sentiments = []string{"POSITIVE", "NEGATIVE", "NEUTRAL", "MIXED", "UNRELATED"}

// Causes a review can be attributed to.
var Causes = []string{"BUG", "UX", "PERFORMANCE", "OTHER", "MULTIPLE", "UNRELATED"}

const classifyPrompt = `Role: sentiment analysis.
Language: %s.
Rating score: %s.
Analyze the following review for an %s app.
Return me the sentiment and the cause.
Sentiment is one of the following: [%s].
Cause is one of the following: [%s].
If cause or sentiment are unrelated, return UNRELATED,UNRELATED
Return me in the following format, no whitespace or markdown: SENTIMENT,CAUSE
Review: %s`

const translatePrompt = `Role: translator.

Target language: %s.

Content for translation: %s

Give me only the translated text, nothing else.`

// Enricher runs classification and translation over a bounded pool of
// workers.
type Enricher struct {
	llm        Completer
	workers    int
	targetLang string
	log        zerolog.Logger
}

// NewEnricher creates an Enricher. workers <= 0 means five.
func NewEnricher(llm Completer, workers int, targetLang string, log zerolog.Logger) *Enricher {
	if workers <= 0 {
		workers = 5
	}
	if targetLang == "" {
		targetLang = "English"
	}
	return &Enricher{
		llm:        llm,
		workers:    workers,
		targetLang: targetLang,
		log:        log.With().Str("component", "enricher").Logger(),
	}
}

// Enrich returns one result per input review, in input order. A model
// failure for one review leaves its enrichment fields empty; only a
// cancelled context fails the batch.
func (e *Enricher) Enrich(ctx context.Context, reviews []review.Review) ([]review.Enriched, error) {
	out := make([]review.Enriched, len(reviews))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range reviews {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = e.enrichOne(gctx, reviews[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Enricher) enrichOne(ctx context.Context, r review.Review) review.Enriched {
	res := review.Enriched{Review: r}
	if t, err := dateparse.ParseIn(r.CreatedAt, time.UTC); err == nil {
		res.CreatedTime = t.UTC()
	} else {
		e.log.Warn().Str("review", r.ReviewID).Str("created_at", r.CreatedAt).Msg("Unparseable review date")
	}

	text := strings.TrimSpace(r.Content)
	if text == "" {
		text = strings.TrimSpace(r.Title)
	}
	if text == "" {
		return res
	}

	reply, err := e.llm.Complete(ctx, fmt.Sprintf(classifyPrompt,
		r.Lang, ratingString(r.Rating), platformName(r.Platform),
		strings.Join(Sentiments, ", "), strings.Join(Causes, ", "), text))
	if err == nil {
		res.Sentiment, res.Cause, err = ParseClassification(reply)
	}
	if err != nil {
		e.log.Error().Err(err).Str("review", r.ReviewID).Msg("Classifying review")
	}

	translated, err := e.llm.Complete(ctx, fmt.Sprintf(translatePrompt, e.targetLang, text))
	if err != nil {
		e.log.Error().Err(err).Str("review", r.ReviewID).Msg("Translating review")
		return res
	}
	res.EnContent = strings.TrimSpace(translated)
	return res
}

// ParseClassification parses a "SENTIMENT,CAUSE" reply.
func ParseClassification(reply string) (string, string, error) {
	s := strings.TrimSpace(reply)
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("classification %q: want SENTIMENT,CAUSE", reply)
	}
	sentiment := strings.ToUpper(strings.TrimSpace(parts[0]))
	cause := strings.ToUpper(strings.TrimSpace(parts[1]))
	if !slices.Contains(Sentiments, sentiment) {
		return "", "", fmt.Errorf("classification %q: unknown sentiment %q", reply, sentiment)
	}
	if !slices.Contains(Causes, cause) {
		return "", "", fmt.Errorf("classification %q: unknown cause %q", reply, cause)
	}
	return sentiment, cause, nil
}

func ratingString(r *float64) string {
	if r == nil {
		return "unknown"
	}
	return fmt.Sprintf("%g", *r)
}

func platformName(p string) string {
	if p == string(review.IOS) {
		return "iOS"
	}
	return "Android"
}
