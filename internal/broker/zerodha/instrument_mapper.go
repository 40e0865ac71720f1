package zerodha

import (
	"strconv"
	"sync"
)

// instrumentRef is what the mapper knows about one instrument token.
type instrumentRef struct {
	token    uint32
	exchange string
	symbol   string
}

// quoteKey is the EXCHANGE:SYMBOL form used by the quote endpoints.
func (r instrumentRef) quoteKey() string {
	return r.exchange + ":" + r.symbol
}

// instrumentMapper resolves instrument ids (decimal token strings) to tokens
// and quote keys, and back.
type instrumentMapper struct {
	byToken    map[uint32]instrumentRef
	byQuoteKey map[string]uint32
	mu         sync.RWMutex
}

func newInstrumentMapper() *instrumentMapper {
	return &instrumentMapper{
		byToken:    make(map[uint32]instrumentRef),
		byQuoteKey: make(map[string]uint32),
	}
}

func instrumentID(token uint32) string {
	return strconv.FormatUint(uint64(token), 10)
}

func parseInstrumentID(id string) (uint32, bool) {
	token, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(token), true
}

func (im *instrumentMapper) add(ref instrumentRef) {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.byToken[ref.token] = ref
	im.byQuoteKey[ref.quoteKey()] = ref.token
}

func (im *instrumentMapper) lookup(id string) (instrumentRef, bool) {
	token, ok := parseInstrumentID(id)
	if !ok {
		return instrumentRef{}, false
	}

	im.mu.RLock()
	defer im.mu.RUnlock()
	ref, ok := im.byToken[token]
	return ref, ok
}

func (im *instrumentMapper) tokenForQuoteKey(key string) (uint32, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	token, ok := im.byQuoteKey[key]
	return token, ok
}

// tokens converts ids to tokens, skipping anything that is not a token.
func tokens(ids []string) []uint32 {
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if token, ok := parseInstrumentID(id); ok {
			out = append(out, token)
		}
	}
	return out
}

func (im *instrumentMapper) size() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.byToken)
}
