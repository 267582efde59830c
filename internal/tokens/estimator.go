// Package tokens provides approximate token counting for prompt budgeting.
//
// Counts are heuristics standing in for a model's real tokenizer. They are
// used to decide when to trim or summarize, never for billing.
package tokens

import (
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/rivo/uniseg"

	"github.com/guilhermegouw/chatctx/internal/message"
)

// DefaultCharsPerToken is the ratio used by CharEstimator when none is given.
// BPE tokenizers average 3.5-4.5 characters per token on English text.
const DefaultCharsPerToken = 4.0

// fallbackEncoding is used for model families that publish no tiktoken
// encoding of their own (llama, mixtral, gemma served through Groq).
const fallbackEncoding = "cl100k_base"

// Estimator maps text to an approximate token count.
type Estimator interface {
	// Estimate returns the token count of a single text.
	Estimate(text string) int

	// EstimateAll returns the summed token count of the message contents.
	EstimateAll(msgs []message.Message) int
}

// CharEstimator estimates tokens from user-perceived characters.
type CharEstimator struct {
	charsPerToken float64
}

// NewCharEstimator creates a CharEstimator. A non-positive ratio selects
// DefaultCharsPerToken.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &CharEstimator{charsPerToken: charsPerToken}
}

// Estimate rounds up, overestimating rather than underestimating.
func (e *CharEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	chars := uniseg.GraphemeClusterCount(text)
	return int(math.Ceil(float64(chars) / e.charsPerToken))
}

// EstimateAll sums Estimate over message contents.
func (e *CharEstimator) EstimateAll(msgs []message.Message) int {
	return sumContents(e, msgs)
}

// BPEEstimator counts tokens with a tiktoken byte-pair encoding.
type BPEEstimator struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// Encoding returns the encoding name, or the model id when the encoding was
// resolved from it.
func (e *BPEEstimator) Encoding() string {
	return e.encoding
}

// Estimate returns the exact token count under the encoding, which is
// itself only an approximation for non-OpenAI models.
func (e *BPEEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}

// EstimateAll sums Estimate over message contents.
func (e *BPEEstimator) EstimateAll(msgs []message.Message) int {
	return sumContents(e, msgs)
}

func sumContents(e Estimator, msgs []message.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Estimate(m.Content)
	}
	return total
}

var loaderOnce sync.Once

func useOfflineLoader() {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
}

// ForModel selects an estimator for the given model identifier.
//
// OpenAI models use their published encoding when the offline loader embeds
// it. The embedded set is cl100k_base, p50k_base and r50k_base, so o200k_base
// models such as gpt-4o and gpt-4o-mini are counted with cl100k_base like
// every other family. BPE estimators come wrapped in a
// CachedEstimator. If no encoding can be loaded a CharEstimator is
// returned. The result depends only on the model id.
func ForModel(model string) Estimator {
	useOfflineLoader()

	if isOpenAIModel(model) {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return NewCachedEstimator(&BPEEstimator{enc: enc, encoding: model}, DefaultCacheSize)
		}
	}

	enc, err := tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		return NewCharEstimator(DefaultCharsPerToken)
	}
	return NewCachedEstimator(&BPEEstimator{enc: enc, encoding: fallbackEncoding}, DefaultCacheSize)
}

var openAIPrefixes = []string{"gpt-", "o1", "o3", "o4", "text-embedding-", "chatgpt-"}

func isOpenAIModel(model string) bool {
	model = strings.ToLower(model)
	for _, p := range openAIPrefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
