package tokenizer

import "fmt"

// EncodingBytes selects the byte-level tokenizer.
const EncodingBytes = "bytes"

// Tokenizer is the core interface for text tokenization.
type Tokenizer interface {
	// Encode converts text to token IDs.
	Encode(text string) ([]int, error)

	// Decode converts token IDs back to text.
	Decode(tokens []int) (string, error)

	// VocabSize returns the total vocabulary size.
	VocabSize() int

	// EosToken returns the end-of-sequence token ID, or -1 if not applicable.
	EosToken() int

	// Name returns the encoding name.
	Name() string
}

// New returns the tokenizer for an encoding name: EncodingBytes or a
// tiktoken encoding.
func New(encoding string) (Tokenizer, error) {
	if encoding == "" || encoding == EncodingBytes {
		return Bytes{}, nil
	}
	tok, err := NewTikToken(encoding)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// EncodeAll encodes every text and appends the end-of-sequence token when
// the tokenizer has one. Empty texts are skipped.
func EncodeAll(tok Tokenizer, texts []string) ([][]int, error) {
	out := make([][]int, 0, len(texts))
	eos := tok.EosToken()
	for i, text := range texts {
		if text == "" {
			continue
		}
		ids, err := tok.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("failed to encode text %d: %w", i, err)
		}
		if eos >= 0 {
			ids = append(ids, eos)
		}
		out = append(out, ids)
	}
	return out, nil
}
