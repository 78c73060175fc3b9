package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// encodingCL100kBase is the encoding name for GPT-4 and GPT-3.5-turbo.
	encodingCL100kBase = "cl100k_base"
	// encodingP50kBase is the encoding name for GPT-3.
	encodingP50kBase = "p50k_base"
	// encodingR50kBase is the encoding name for older GPT-3 models.
	encodingR50kBase = "r50k_base"
)

// encodingInfo holds what tiktoken-go does not expose: the vocabulary size
// and the <|endoftext|> id.
var encodingInfo = map[string]struct{ vocab, eos int }{
	encodingCL100kBase: {vocab: 100277, eos: 100257},
	encodingP50kBase:   {vocab: 50281, eos: 50256},
	encodingR50kBase:   {vocab: 50257, eos: 50256},
}

// TikToken wraps the pkoukk/tiktoken-go library for OpenAI tokenizers.
//
// tiktoken-go downloads the encoding files on first use and caches them in
// the directory named by TIKTOKEN_CACHE_DIR.
type TikToken struct {
	encoding *tiktoken.Tiktoken
	name     string
	vocab    int
	eos      int
}

// NewTikToken creates a new TikToken tokenizer with the specified encoding.
func NewTikToken(encodingName string) (*TikToken, error) {
	info, ok := encodingInfo[encodingName]
	if !ok {
		return nil, fmt.Errorf("unsupported tiktoken encoding %q", encodingName)
	}
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encodingName, err)
	}
	return &TikToken{
		encoding: encoding,
		name:     encodingName,
		vocab:    info.vocab,
		eos:      info.eos,
	}, nil
}

// Encode converts text to token IDs. Special tokens in text are encoded as
// plain text.
func (t *TikToken) Encode(text string) ([]int, error) {
	return t.encoding.Encode(text, nil, nil), nil
}

// Decode converts token IDs back to text.
func (t *TikToken) Decode(tokens []int) (string, error) {
	for _, tok := range tokens {
		if tok < 0 || tok >= t.vocab {
			return "", fmt.Errorf("token %d out of range for %s", tok, t.name)
		}
	}
	return t.encoding.Decode(tokens), nil
}

// VocabSize returns the vocabulary size including special tokens.
func (t *TikToken) VocabSize() int {
	return t.vocab
}

// EosToken returns the <|endoftext|> id.
func (t *TikToken) EosToken() int {
	return t.eos
}

// Name returns the encoding name.
func (t *TikToken) Name() string {
	return t.name
}
