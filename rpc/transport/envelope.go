package transport

import (
	"net/http"
	"sort"
	"strings"

	"github.com/neat-no/goat-go/wire"
)

// headersToKV flattens a header bag into wire key-value pairs. Keys are
// lowercased; multi-valued keys contribute one pair per value in order.
// The key order is deterministic so envelopes round-trip stably.
func headersToKV(h http.Header) []wire.KeyValue {
	if len(h) == 0 {
		return nil
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]wire.KeyValue, 0, len(h))
	for _, k := range keys {
		for _, v := range h[k] {
			kv = append(kv, wire.KeyValue{Key: strings.ToLower(k), Value: v})
		}
	}
	return kv
}

// kvToHeaders reconstructs a header bag from wire key-value pairs. A nil
// list yields an empty bag.
func kvToHeaders(kv []wire.KeyValue) http.Header {
	h := make(http.Header, len(kv))
	for _, e := range kv {
		h.Add(e.Key, e.Value)
	}
	return h
}
