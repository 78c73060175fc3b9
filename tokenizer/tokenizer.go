// Package tokenizer provides text tokenization for the language-model task.
//
// This package wraps the internal tokenizer implementations and provides
// a clean public API.
//
// Supported tokenizers:
//   - TikToken: OpenAI BPE tokenizers (GPT-3, GPT-4)
//   - Bytes: one token per byte
//
// Example usage:
//
//	import "github.com/born-ml/dizo/tokenizer"
//
//	tok, err := tokenizer.New("cl100k_base")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Encode a corpus and keep its 512 most frequent tokens
//	seqs, err := tokenizer.EncodeAll(tok, lines)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vocab := tokenizer.FitVocab(seqs, 512)
package tokenizer

import (
	"github.com/born-ml/dizo/internal/tokenizer"
)

// Tokenizer is the core interface for text tokenization.
type Tokenizer = tokenizer.Tokenizer

// Bytes is the byte-level tokenizer.
type Bytes = tokenizer.Bytes

// Vocab is a dense vocabulary over the most frequent tokens of a corpus.
type Vocab = tokenizer.Vocab

// EncodingBytes selects the byte-level tokenizer.
const EncodingBytes = tokenizer.EncodingBytes

// New returns the tokenizer for an encoding name.
//
// Supported encodings: "bytes", "cl100k_base", "p50k_base", "r50k_base".
func New(encoding string) (Tokenizer, error) {
	return tokenizer.New(encoding)
}

// NewTikToken creates a new TikToken tokenizer with the specified encoding.
func NewTikToken(encodingName string) (Tokenizer, error) {
	tok, err := tokenizer.NewTikToken(encodingName)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// EncodeAll encodes texts, appending the end-of-sequence token.
func EncodeAll(tok Tokenizer, texts []string) ([][]int, error) {
	return tokenizer.EncodeAll(tok, texts)
}

// FitVocab keeps at most size-1 distinct tokens of seqs.
func FitVocab(seqs [][]int, size int) *Vocab {
	return tokenizer.FitVocab(seqs, size)
}
