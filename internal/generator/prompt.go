package generator

import (
	"fmt"
	"strings"

	"thisorthat/api/internal/taxonomy"
)

// BuildPrompt renders the instructions for one generation call.
func BuildPrompt(tax *taxonomy.Taxonomy, req Request) string {
	var b strings.Builder

	count := req.Count
	if count <= 0 {
		count = 10
	}

	b.WriteString("You create pairs for a \"this or that\" game. Each pair offers two contrasting options of the same kind that people enjoy choosing between.\n\n")

	categories := tax.Categories()
	if req.Category != "" {
		if c, ok := tax.Category(req.Category); ok {
			categories = []taxonomy.Category{c}
			fmt.Fprintf(&b, "Generate %d new pairs, all of type %q with source %q.\n\n", count, c.Name, c.Source)
		}
	} else {
		fmt.Fprintf(&b, "Generate %d new pairs spread across these types.\n\n", count)
	}

	b.WriteString("Type rules:\n")
	for _, c := range categories {
		fmt.Fprintf(&b, "- type %q uses source %q. Each option must have %d to %d words.", c.Name, c.Source, c.ValueLength.Min, c.ValueLength.Max)
		if c.PromptSupplement != "" {
			fmt.Fprintf(&b, " %s", c.PromptSupplement)
		}
		b.WriteString("\n")
		for _, ex := range c.Examples {
			fmt.Fprintf(&b, "  example: %s\n", compactJSON(Candidate{Type: c.Name, Source: string(c.Source), Option1: ex.Option1, Option2: ex.Option2}))
		}
		if len(c.BannedExamples) > 0 {
			fmt.Fprintf(&b, "  never use: %s\n", strings.Join(c.BannedExamples, "; "))
		}
	}

	sample := req.Sample
	if len(sample) > maxSamplePairs {
		sample = sample[:maxSamplePairs]
	}
	if len(sample) > 0 {
		b.WriteString("\nPairs that already exist (match their style, do not repeat them):\n")
		for _, p := range sample {
			fmt.Fprintf(&b, "- %s\n", compactJSON(p))
		}
	}

	if len(req.Duplicates) > 0 {
		b.WriteString("\nThese pairs were already rejected as duplicates. Do not return them again in either order:\n")
		for _, p := range req.Duplicates {
			fmt.Fprintf(&b, "- %s vs %s (%s)\n", p.Option1, p.Option2, p.Type)
		}
	}

	b.WriteString("\nRespond with JSON only, shaped exactly as {\"pairs\":[{\"type\":\"...\",\"source\":\"...\",\"option_1\":\"...\",\"option_2\":\"...\"}]}. ")
	b.WriteString("Use no other fields. Option 1 and option 2 must differ, and both must be easy to find a picture for.\n")
	return b.String()
}
