package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"

	"thisorthat/api/internal/generator"
	"thisorthat/api/internal/store"
)

const (
	defaultGenerateCount = 10
	maxGenerateCount     = 50
	sampleWindow         = 100
	sampleSize           = 10
	unscopedAttempts     = 3
	scopedAttempts       = 5
)

type GenerateInput struct {
	Category string
	Count    int
	Attach   bool
}

type GenerateResult struct {
	Inserted   []store.Pair          `json:"inserted"`
	Duplicates []generator.Candidate `json:"duplicates"`
	Rejected   []generator.Rejection `json:"rejected"`
	Attempts   int                   `json:"attempts"`
	Message    string                `json:"message"`
	Images     *AttachResult         `json:"images,omitempty"`
}

// generationState accumulates the outcome of every attempt in one request.
type generationState struct {
	inserted   []store.Pair
	duplicates []generator.Candidate
	rejected   []generator.Rejection
	attempts   int
}

func (st generationState) remaining(target int) int {
	return max(target-len(st.inserted), 0)
}

type saveFunc func(context.Context, []generator.Candidate) ([]store.Pair, []generator.Candidate, error)

// runGenerationStep performs one generate, validate and persist cycle and returns the
// state with its results folded in. The attempt is counted even when it fails.
func runGenerationStep(ctx context.Context, gen pairGenerator, save saveFunc, category string, target int, sample []generator.Candidate, st generationState) (generationState, error) {
	st.attempts++

	batch, err := gen.Generate(ctx, generator.Request{
		Category:   category,
		Count:      st.remaining(target),
		Sample:     sample,
		Duplicates: st.duplicates,
	})
	if err != nil {
		return st, err
	}
	st.rejected = append(st.rejected, batch.Rejected...)

	inserted, duplicates, err := save(ctx, batch.Candidates)
	st.inserted = append(st.inserted, inserted...)
	st.duplicates = append(st.duplicates, duplicates...)
	if err != nil {
		return st, err
	}
	return st, nil
}

// GeneratePairs asks the generator for new pairs until count are stored or the attempt
// ceiling is reached. Fewer pairs than requested is a successful outcome.
func (s *Service) GeneratePairs(ctx context.Context, input GenerateInput) (GenerateResult, error) {
	count := input.Count
	if count == 0 {
		count = defaultGenerateCount
	}
	if count < 1 || count > maxGenerateCount {
		return GenerateResult{}, validationError(
			fmt.Sprintf("count must be between 1 and %d", maxGenerateCount), map[string]any{"count": input.Count})
	}

	category := strings.ToLower(strings.TrimSpace(input.Category))
	if category != "" {
		if _, ok := s.taxonomy.Category(category); !ok {
			return GenerateResult{}, validationError("Unknown pair type",
				map[string]any{"type": input.Category, "valid_types": s.taxonomy.Names()})
		}
	}
	if s.generator == nil {
		return GenerateResult{}, domainError(http.StatusServiceUnavailable, "GENERATOR_UNAVAILABLE", "Pair generation is not configured", nil)
	}

	sample, err := s.samplePairs(ctx, category)
	if err != nil {
		return GenerateResult{}, err
	}

	maxAttempts := unscopedAttempts
	if category != "" {
		maxAttempts = scopedAttempts
	}

	var st generationState
	for st.attempts < maxAttempts && st.remaining(count) > 0 {
		st, err = runGenerationStep(ctx, s.generator, s.SavePairs, category, count, sample, st)
		if err != nil {
			s.log.Error().Err(err).Int("attempt", st.attempts).Str("type", category).Msg("generation attempt failed")
			return GenerateResult{}, err
		}
		s.log.Info().
			Int("attempt", st.attempts).
			Int("inserted", len(st.inserted)).
			Int("duplicates", len(st.duplicates)).
			Int("rejected", len(st.rejected)).
			Str("type", category).
			Msg("generation attempt finished")
	}
	s.metrics.GenerationAttempts.Observe(float64(st.attempts))
	for _, r := range st.rejected {
		s.metrics.PairsRejected.WithLabelValues(r.Candidate.Type).Inc()
	}

	result := GenerateResult{
		Inserted:   nonNilSlice(st.inserted),
		Duplicates: nonNilSlice(st.duplicates),
		Rejected:   nonNilSlice(st.rejected),
		Attempts:   st.attempts,
	}
	result.Message = fmt.Sprintf("Successfully inserted %d new pairs after %d attempt(s), found %d duplicates",
		len(result.Inserted), result.Attempts, len(result.Duplicates))

	if input.Attach && len(st.inserted) > 0 {
		images, err := s.AttachImages(ctx, st.inserted)
		result.Images = &images
		result.Inserted = applyAttachments(result.Inserted, images)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// samplePairs draws up to sampleSize random pairs from the most recent ones so the
// generator can steer away from existing content.
func (s *Service) samplePairs(ctx context.Context, category string) ([]generator.Candidate, error) {
	recent, err := s.store.RecentPairs(ctx, category, sampleWindow)
	if err != nil {
		return nil, fmt.Errorf("sample existing pairs: %w", err)
	}
	rand.Shuffle(len(recent), func(i, j int) { recent[i], recent[j] = recent[j], recent[i] })
	if len(recent) > sampleSize {
		recent = recent[:sampleSize]
	}

	sample := make([]generator.Candidate, 0, len(recent))
	for _, p := range recent {
		sample = append(sample, generator.Candidate{Type: p.Type, Source: p.Source, Option1: p.Option1Value, Option2: p.Option2Value})
	}
	return sample, nil
}

// applyAttachments drops pairs that were deleted and fills in the URLs of pairs that
// received images.
func applyAttachments(pairs []store.Pair, images AttachResult) []store.Pair {
	outcomes := make(map[int64]PairAttachment, len(images.Pairs))
	for _, a := range images.Pairs {
		outcomes[a.PairID] = a
	}

	out := make([]store.Pair, 0, len(pairs))
	for _, p := range pairs {
		a, ok := outcomes[p.ID]
		if !ok {
			out = append(out, p)
			continue
		}
		if a.Status == attachDeleted {
			continue
		}
		url1, url2 := a.Option1URL, a.Option2URL
		p.Option1URL, p.Option2URL = &url1, &url2
		out = append(out, p)
	}
	return out
}

func nonNilSlice[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
