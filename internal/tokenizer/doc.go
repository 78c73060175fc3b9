// Package tokenizer turns text corpora into token sequences for the
// language-model demo task.
//
// Two tokenizers are provided:
//   - TikToken: OpenAI BPE encodings (cl100k_base, p50k_base, r50k_base)
//     through github.com/pkoukk/tiktoken-go
//   - Bytes: one token per byte, needs no encoding files
//
// BPE vocabularies are far larger than a toy model can afford, so
// sequences are usually passed through a Vocab, which keeps the most
// frequent tokens of a corpus and folds the rest into one id.
//
// Example usage:
//
//	tok, err := tokenizer.New("cl100k_base")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	seqs, err := tokenizer.EncodeAll(tok, lines)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vocab := tokenizer.FitVocab(seqs, 512)
//	ids := vocab.Map(seqs[0])
package tokenizer
