package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

const (
	tokenUnknown   = "[UNK]"
	tokenClassify  = "[CLS]"
	tokenSeparator = "[SEP]"
	tokenPadding   = "[PAD]"

	maxCharsPerWord = 100
)

// WordPiece is a BERT-style tokenizer driven by a vocab.txt file.
type WordPiece struct {
	vocab     map[string]int64
	lowercase bool

	unk, cls, sep, pad int64
}

// LoadVocab reads one token per line; the line number is the token id.
func LoadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r")
		if _, dup := vocab[token]; !dup {
			vocab[token] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	return vocab, nil
}

// NewWordPiece builds a tokenizer. The vocabulary must contain the
// [UNK], [CLS], [SEP] and [PAD] special tokens.
func NewWordPiece(vocab map[string]int64, lowercase bool) (*WordPiece, error) {
	w := &WordPiece{vocab: vocab, lowercase: lowercase}
	for _, special := range []struct {
		token string
		dst   *int64
	}{
		{tokenUnknown, &w.unk},
		{tokenClassify, &w.cls},
		{tokenSeparator, &w.sep},
		{tokenPadding, &w.pad},
	} {
		id, ok := vocab[special.token]
		if !ok {
			return nil, fmt.Errorf("vocab is missing %s", special.token)
		}
		*special.dst = id
	}
	return w, nil
}

// Tokenize splits text into word pieces and returns their ids, without
// special tokens.
func (w *WordPiece) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range w.basicTokens(text) {
		ids = append(ids, w.wordPieces(word)...)
	}
	return ids
}

// basicTokens splits on whitespace and isolates punctuation.
func (w *WordPiece) basicTokens(text string) []string {
	if w.lowercase {
		text = strings.ToLower(text)
	}
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || unicode.IsControl(r) && !unicode.IsSpace(r):
			continue
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			tokens = append(tokens, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// wordPieces applies greedy longest-match-first segmentation to one word.
func (w *WordPiece) wordPieces(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxCharsPerWord {
		return []int64{w.unk}
	}
	var ids []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := int64(-1)
		for ; end > start; end-- {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := w.vocab[piece]; ok {
				found = id
				break
			}
		}
		if found < 0 {
			return []int64{w.unk}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

// Encode tokenizes a batch, wraps each sequence in [CLS] … [SEP], truncates
// to maxTokens and pads to the longest sequence. It returns row-major ids and
// attention mask of shape (len(texts), seqLen).
func (w *WordPiece) Encode(texts []string, maxTokens int) (ids, mask []int64, seqLen int) {
	if maxTokens < 2 {
		maxTokens = 2
	}
	seqs := make([][]int64, len(texts))
	for i, text := range texts {
		pieces := w.Tokenize(text)
		if len(pieces) > maxTokens-2 {
			pieces = pieces[:maxTokens-2]
		}
		seq := make([]int64, 0, len(pieces)+2)
		seq = append(seq, w.cls)
		seq = append(seq, pieces...)
		seq = append(seq, w.sep)
		seqs[i] = seq
		seqLen = max(seqLen, len(seq))
	}

	ids = make([]int64, len(texts)*seqLen)
	mask = make([]int64, len(texts)*seqLen)
	for i, seq := range seqs {
		row := i * seqLen
		for j := 0; j < seqLen; j++ {
			if j < len(seq) {
				ids[row+j] = seq[j]
				mask[row+j] = 1
			} else {
				ids[row+j] = w.pad
			}
		}
	}
	return ids, mask, seqLen
}
