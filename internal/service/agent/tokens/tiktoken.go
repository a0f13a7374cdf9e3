package tokens

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer of the GPT-4o/4.1/5 model family
const DefaultEncoding = "o200k_base"

// TiktokenEncoder counts tokens with a BPE encoding. The BPE table is fetched on
// first use and cached under TIKTOKEN_CACHE_DIR.
type TiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEncoder loads the named encoding
func NewTiktokenEncoder(encoding string) (*TiktokenEncoder, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &TiktokenEncoder{enc: enc}, nil
}

// CountTokens implements Encoder
func (e *TiktokenEncoder) CountTokens(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// ApproxEncoder estimates one token per four bytes, with CJK runes counted
// individually. Used when no BPE table is available.
type ApproxEncoder struct{}

// CountTokens implements Encoder
func (ApproxEncoder) CountTokens(text string) int {
	ascii, wide := 0, 0
	for _, r := range text {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			wide++
		}
	}
	return (ascii+3)/4 + wide
}

// NewTiktokenCounter creates a Counter using the named encoding
func NewTiktokenCounter(encoding string) (*Counter, error) {
	enc, err := NewTiktokenEncoder(encoding)
	if err != nil {
		return nil, err
	}
	return NewCounter(enc), nil
}
