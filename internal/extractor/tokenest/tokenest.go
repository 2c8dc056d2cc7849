// Package tokenest estimates prompt token counts with tiktoken-go's
// cl100k_base encoding, feeding the rate limiter's up-front TPM
// reservation: each call declares an estimated token cost on entry.
package tokenest

import (
	"github.com/pkoukk/tiktoken-go"
)

// Estimator implements extractor.TokenEstimator.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// New builds an Estimator using the cl100k_base encoding, the encoding
// Claude-family and GPT-4-family prompts both approximate well enough
// for a conservative up-front token budget.
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &Estimator{enc: enc}, nil
}

// Estimate returns the token count tiktoken assigns to text.
func (e *Estimator) Estimate(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}
