// Package tokens estimates the model token cost of text.
package tokens

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"xrepo/internal/slogutil"
)

// HeuristicEncoding selects the byte-based estimator.
const HeuristicEncoding = "heuristic"

// Estimator returns the token cost of a piece of text.
type Estimator interface {
	Count(text string) int
	Name() string
}

// Heuristic estimates one token per four bytes, rounding up.
type Heuristic struct{}

// Count returns ceil(len(text)/4).
func (Heuristic) Count(text string) int {
	return EstimateBytes(len(text))
}

// Name returns the estimator name.
func (Heuristic) Name() string { return HeuristicEncoding }

// EstimateBytes converts a byte count to an approximate token count.
func EstimateBytes(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// Tiktoken counts tokens with a BPE encoding.
type Tiktoken struct {
	name string
	mu   sync.Mutex
	enc  *tiktoken.Tiktoken
}

// Count encodes text and returns the number of tokens.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// Name returns the encoding name.
func (t *Tiktoken) Name() string { return t.name }

// loadEncoding is replaced in tests so no encoding files are fetched.
var loadEncoding = tiktoken.GetEncoding

// New returns the estimator for an encoding name. Anything but "heuristic"
// (or empty) is loaded as a tiktoken encoding; when it cannot be loaded the
// heuristic is returned and the failure is logged.
func New(encoding string, logger *slog.Logger) Estimator {
	logger = slogutil.OrDiscard(logger)
	encoding = strings.TrimSpace(encoding)
	if encoding == "" || encoding == HeuristicEncoding {
		return Heuristic{}
	}

	enc, err := loadEncoding(encoding)
	if err != nil {
		logger.Warn("Token encoding unavailable, using byte heuristic",
			"encoding", encoding,
			"error", err.Error(),
		)
		return Heuristic{}
	}
	return &Tiktoken{name: encoding, enc: enc}
}
