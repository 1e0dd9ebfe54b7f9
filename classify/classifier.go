package classify

import (
	"fmt"
	"math"
	"strings"

	"github.com/grimoiredb/grimoire/core"
)

// Classifier turns raw content plus declared metadata into a deterministic
// ContentProfile. It is pure: no I/O, no clocks, no randomness. Identical
// input always yields a bit-identical profile, which the placement policy
// relies on for its own determinism guarantee.
type Classifier struct {
	domainPriors      map[string]float64
	contentTypePriors map[string]float64
	sampleLimit       int
	chunkWords        int
}

// Option configures a Classifier.
type Option func(*Classifier) error

// WithDomainPrior overrides the query-potential prior for a domain.
func WithDomainPrior(domain string, prior float64) Option {
	return func(c *Classifier) error {
		if prior < 0 || prior > 1 {
			return fmt.Errorf("%w: domain prior %v", core.ErrValidation, prior)
		}
		c.domainPriors[domain] = prior
		return nil
	}
}

// WithSampleLimit bounds how many bytes of content are scored.
// Scoring a fixed prefix keeps classification cheap for whole books.
func WithSampleLimit(limit int) Option {
	return func(c *Classifier) error {
		if limit < 1024 {
			limit = 1024
		}
		c.sampleLimit = limit
		return nil
	}
}

// NewClassifier creates a classifier with the default priors.
func NewClassifier(opts ...Option) (*Classifier, error) {
	c := &Classifier{
		domainPriors:      defaultDomainPriors(),
		contentTypePriors: defaultContentTypePriors(),
		sampleLimit:       64 * 1024,
		chunkWords:        120,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Profile computes the four placement scores for a document.
// raw must be non-empty; domain and contentType are the declared values
// from the ingestion collaborator.
func (c *Classifier) Profile(raw, domain, contentType string) (core.ContentProfile, error) {
	if strings.TrimSpace(raw) == "" {
		return core.ContentProfile{}, fmt.Errorf("%w: %w", core.ErrValidation, core.ErrEmptyContent)
	}
	if domain == "" {
		return core.ContentProfile{}, fmt.Errorf("%w: %w", core.ErrValidation, core.ErrEmptyDomain)
	}

	sample := raw
	if len(sample) > c.sampleLimit {
		sample = sample[:c.sampleLimit]
	}

	tokens := tokenize(sample)
	profile := core.ContentProfile{
		SemanticComplexity: round6(c.semanticComplexity(sample, tokens)),
		TopicCoherence:     round6(c.topicCoherence(tokens)),
		InformationDensity: round6(c.informationDensity(sample, tokens)),
		QueryPotential:     round6(c.queryPotential(sample, domain, contentType)),
	}
	return profile, nil
}

// semanticComplexity blends vocabulary diversity with sentence-length
// variance.
func (c *Classifier) semanticComplexity(sample string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}

	distinct := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		distinct[tok] = struct{}{}
	}
	diversity := float64(len(distinct)) / float64(len(tokens))

	lengths := sentenceLengths(sample)
	variance := 0.0
	if len(lengths) > 1 {
		mean := 0.0
		for _, l := range lengths {
			mean += float64(l)
		}
		mean /= float64(len(lengths))
		for _, l := range lengths {
			d := float64(l) - mean
			variance += d * d
		}
		variance /= float64(len(lengths))
		if mean > 0 {
			// Coefficient of variation, capped at 1.
			variance = math.Min(1, math.Sqrt(variance)/mean)
		}
	}

	return clamp01(0.6*diversity + 0.4*variance)
}

// topicCoherence is the mean Jaccard overlap between adjacent fixed-size
// chunks of the token stream.
func (c *Classifier) topicCoherence(tokens []string) float64 {
	if len(tokens) < 2*c.chunkWords {
		// Too short to chunk; short coherent prose gets a middling score.
		return 0.5
	}

	var chunks []map[string]struct{}
	for start := 0; start+c.chunkWords <= len(tokens); start += c.chunkWords {
		set := make(map[string]struct{}, c.chunkWords)
		for _, tok := range tokens[start : start+c.chunkWords] {
			set[tok] = struct{}{}
		}
		chunks = append(chunks, set)
	}

	total := 0.0
	for i := 1; i < len(chunks); i++ {
		total += jaccard(chunks[i-1], chunks[i])
	}
	// Raw adjacent-chunk overlap for prose tends to sit well below 0.5;
	// stretch it so the [0,1] range is actually used.
	return clamp01(3 * total / float64(len(chunks)-1))
}

// informationDensity is the ratio of distinct informative tokens to total
// tokens, nudged by punctuation density.
func (c *Classifier) informationDensity(sample string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}

	informative := make(map[string]struct{})
	for _, tok := range tokens {
		if len(tok) > 3 && !stopWords[tok] {
			informative[tok] = struct{}{}
		}
	}
	ratio := float64(len(informative)) / float64(len(tokens))

	punct := 0
	for _, r := range sample {
		switch r {
		case '.', ',', ';', ':', '!', '?':
			punct++
		}
	}
	punctDensity := float64(punct) / float64(len(sample))

	return clamp01(ratio + 2*punctDensity)
}

// queryPotential combines the domain prior, structural markers, and the
// declared content type's access prior.
func (c *Classifier) queryPotential(sample, domain, contentType string) float64 {
	domainPrior, ok := c.domainPriors[domain]
	if !ok {
		domainPrior = 0.5
	}
	typePrior, ok := c.contentTypePriors[contentType]
	if !ok {
		typePrior = 0.5
	}

	structure := 0.3
	if hasStructuralMarkers(sample) {
		structure = 1.0
	}

	return clamp01((domainPrior + typePrior + structure) / 3)
}

// structuralMarkers are lowercase substrings that indicate headings,
// numbered sections, or other navigable structure.
var structuralMarkers = []string{
	"chapter ", "section ", "\n# ", "\n## ", "part ", "table of contents",
	"\n1.", "\n2.", "appendix",
}

func hasStructuralMarkers(sample string) bool {
	lower := strings.ToLower(sample)
	for _, marker := range structuralMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func defaultDomainPriors() map[string]float64 {
	return map[string]float64{
		"religion":   0.9,
		"philosophy": 0.9,
		"science":    0.85,
		"literature": 0.8,
		"history":    0.7,
		"technology": 0.7,
		"medicine":   0.65,
		"law":        0.6,
		"general":    0.4,
	}
}

func defaultContentTypePriors() map[string]float64 {
	return map[string]float64{
		"reference":      0.9,
		"academic_paper": 0.85,
		"book":           0.7,
		"essay":          0.6,
		"article":        0.5,
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
