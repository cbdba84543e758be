package chunk

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used by the gpt-3.5/gpt-4 family.
const DefaultEncoding = "cl100k_base"

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads a BPE encoding by name. The first load of an encoding
// fetches its ranks file unless TIKTOKEN_CACHE_DIR already holds it.
func NewTiktoken(encoding string) (Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load tiktoken encoding", goerr.V("encoding", encoding))
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

// NewTiktokenForModel picks the encoding registered for a model name.
func NewTiktokenForModel(modelName string) (Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve tiktoken encoding", goerr.V("model", modelName))
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
