// Package cost estimates the spend of the paid APIs the pipeline calls.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
	Places    PlacesRate           `yaml:"places" mapstructure:"places"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PlacesRate holds Google Maps Platform pricing per thousand requests.
type PlacesRate struct {
	TextSearch float64 `yaml:"text_search" mapstructure:"text_search"`
	Details    float64 `yaml:"details" mapstructure:"details"`
	Geocode    float64 `yaml:"geocode" mapstructure:"geocode"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost of a letter generation call.
func (c *Calculator) Claude(model string, input, output int64) float64 {
	return tokens(c.rates.Anthropic, model, input, output)
}

// OpenAI computes the cost of a scoring call.
func (c *Calculator) OpenAI(model string, prompt, completion int) float64 {
	return tokens(c.rates.OpenAI, model, int64(prompt), int64(completion))
}

// TextSearch computes the cost of n grid cell searches.
func (c *Calculator) TextSearch(n int) float64 {
	return float64(n) / 1000 * c.rates.Places.TextSearch
}

// Details computes the cost of n place detail lookups.
func (c *Calculator) Details(n int) float64 {
	return float64(n) / 1000 * c.rates.Places.Details
}

// Geocode computes the cost of n geocoding calls.
func (c *Calculator) Geocode(n int) float64 {
	return float64(n) / 1000 * c.rates.Places.Geocode
}

func tokens(table map[string]ModelRate, model string, input, output int64) float64 {
	rate, ok := table[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
		OpenAI: map[string]ModelRate{
			"gpt-4o-mini": {Input: 0.15, Output: 0.60},
			"gpt-4o":      {Input: 2.50, Output: 10.00},
		},
		Places: PlacesRate{TextSearch: 32.00, Details: 17.00, Geocode: 5.00},
	}
}
