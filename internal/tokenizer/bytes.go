package tokenizer

import "fmt"

// Bytes is a byte-level tokenizer: token i is byte i, and 256 marks the end
// of a sequence.
type Bytes struct{}

const bytesEOS = 256

// Encode implements Tokenizer.
func (Bytes) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := range len(text) {
		ids[i] = int(text[i])
	}
	return ids, nil
}

// Decode implements Tokenizer. End-of-sequence tokens are dropped.
func (Bytes) Decode(tokens []int) (string, error) {
	buf := make([]byte, 0, len(tokens))
	for _, t := range tokens {
		switch {
		case t == bytesEOS:
		case t < 0 || t > 255:
			return "", fmt.Errorf("token %d out of byte range", t)
		default:
			buf = append(buf, byte(t))
		}
	}
	return string(buf), nil
}

// VocabSize implements Tokenizer.
func (Bytes) VocabSize() int { return bytesEOS + 1 }

// EosToken implements Tokenizer.
func (Bytes) EosToken() int { return bytesEOS }

// Name implements Tokenizer.
func (Bytes) Name() string { return EncodingBytes }
