// Package generator asks a language model for new option pairs and validates its output.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"thisorthat/api/internal/taxonomy"
)

// ErrInvalidOutput marks generator output that does not match the required schema.
var ErrInvalidOutput = errors.New("invalid generator output")

const maxSamplePairs = 10

// Candidate is a proposed pair before persistence.
type Candidate struct {
	Type    string `json:"type"`
	Source  string `json:"source"`
	Option1 string `json:"option_1"`
	Option2 string `json:"option_2"`
}

// Rejection is a schema-valid candidate that broke a taxonomy rule.
type Rejection struct {
	Candidate Candidate `json:"candidate"`
	Reason    string    `json:"reason"`
}

type Request struct {
	// Category scopes generation to one taxonomy entry; empty means any category.
	Category   string
	Count      int
	Sample     []Candidate
	Duplicates []Candidate
}

type Batch struct {
	Candidates []Candidate
	Rejected   []Rejection
}

// Completer sends a prompt to a model constrained by schema and returns the raw text.
type Completer interface {
	Complete(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
}

type Generator struct {
	completer Completer
	taxonomy  *taxonomy.Taxonomy
	log       zerolog.Logger
}

func New(completer Completer, tax *taxonomy.Taxonomy, log zerolog.Logger) *Generator {
	return &Generator{completer: completer, taxonomy: tax, log: log}
}

// Generate runs one model call. Schema violations return an error wrapping
// ErrInvalidOutput; taxonomy violations are reported in Batch.Rejected.
func (g *Generator) Generate(ctx context.Context, req Request) (Batch, error) {
	allowed := g.taxonomy.Names()
	if req.Category != "" {
		category, ok := g.taxonomy.Category(req.Category)
		if !ok {
			return Batch{}, fmt.Errorf("unknown category %q", req.Category)
		}
		allowed = []string{category.Name}
	}
	if req.Count <= 0 {
		req.Count = 10
	}

	prompt := BuildPrompt(g.taxonomy, req)
	raw, err := g.completer.Complete(ctx, prompt, PairsSchema(allowed))
	if err != nil {
		return Batch{}, fmt.Errorf("generate pairs: %w", err)
	}

	candidates, err := ParseCandidates(raw, allowed)
	if err != nil {
		g.log.Warn().Err(err).Int("bytes", len(raw)).Msg("generator output rejected")
		return Batch{}, err
	}
	return g.applyRules(candidates), nil
}

// applyRules fills the source from the taxonomy and splits off candidates whose
// options break the category's word-count range.
func (g *Generator) applyRules(candidates []Candidate) Batch {
	var batch Batch
	for _, c := range candidates {
		category, _ := g.taxonomy.Category(c.Type)
		c.Type = category.Name
		c.Source = string(category.Source)
		c.Option1 = strings.Join(strings.Fields(c.Option1), " ")
		c.Option2 = strings.Join(strings.Fields(c.Option2), " ")

		switch {
		case c.Option1 == "" || c.Option2 == "":
			batch.Rejected = append(batch.Rejected, Rejection{Candidate: c, Reason: "empty option"})
		case strings.EqualFold(c.Option1, c.Option2):
			batch.Rejected = append(batch.Rejected, Rejection{Candidate: c, Reason: "options are identical"})
		case !category.ValueLength.Allows(c.Option1) || !category.ValueLength.Allows(c.Option2):
			batch.Rejected = append(batch.Rejected, Rejection{
				Candidate: c,
				Reason:    fmt.Sprintf("options must have %d-%d words", category.ValueLength.Min, category.ValueLength.Max),
			})
		default:
			batch.Candidates = append(batch.Candidates, c)
		}
	}
	return batch
}

type rawCandidate struct {
	Type    *string `json:"type"`
	Source  *string `json:"source"`
	Option1 *string `json:"option_1"`
	Option2 *string `json:"option_2"`
}

// ParseCandidates strictly decodes {"pairs":[...]}: unknown or missing fields,
// non-string values, categories outside allowed and trailing data are all errors.
func ParseCandidates(raw string, allowed []string) ([]Candidate, error) {
	decoder := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	decoder.DisallowUnknownFields()

	var envelope struct {
		Pairs *[]rawCandidate `json:"pairs"`
	}
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrInvalidOutput)
	}
	if envelope.Pairs == nil {
		return nil, fmt.Errorf("%w: missing pairs array", ErrInvalidOutput)
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = struct{}{}
	}

	out := make([]Candidate, 0, len(*envelope.Pairs))
	for i, item := range *envelope.Pairs {
		if item.Type == nil || item.Source == nil || item.Option1 == nil || item.Option2 == nil {
			return nil, fmt.Errorf("%w: pairs[%d] is missing a required field", ErrInvalidOutput, i)
		}
		category := strings.ToLower(strings.TrimSpace(*item.Type))
		if _, ok := allowedSet[category]; !ok {
			return nil, fmt.Errorf("%w: pairs[%d] has type %q outside %v", ErrInvalidOutput, i, *item.Type, allowed)
		}
		out = append(out, Candidate{
			Type:    category,
			Source:  strings.TrimSpace(*item.Source),
			Option1: strings.TrimSpace(*item.Option1),
			Option2: strings.TrimSpace(*item.Option2),
		})
	}
	return out, nil
}

// PairsSchema is the response schema sent to the model.
func PairsSchema(allowedTypes []string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"pairs": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"type":     {Type: genai.TypeString, Enum: allowedTypes},
						"source":   {Type: genai.TypeString},
						"option_1": {Type: genai.TypeString},
						"option_2": {Type: genai.TypeString},
					},
					Required:         []string{"type", "source", "option_1", "option_2"},
					PropertyOrdering: []string{"type", "source", "option_1", "option_2"},
				},
			},
		},
		Required: []string{"pairs"},
	}
}

// compactJSON is used to embed examples in the prompt on a single line.
func compactJSON(v any) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
