package message

import (
	"encoding/json"
	"fmt"
)

type decodeFunc func(raw []byte) (Payload, error)

// Variant describes how to decode one payload type.
type Variant struct {
	kind   string
	decode decodeFunc
}

// VariantOf builds the Variant for payload type T.
func VariantOf[T Payload]() Variant {
	var zero T
	return Variant{
		kind: zero.Type(),
		decode: func(raw []byte) (Payload, error) {
			var p T
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			return p, nil
		},
	}
}

// Registry maps type discriminants to payload variants for one protocol.
type Registry struct {
	variants map[string]decodeFunc
}

// NewRegistry returns a registry holding the given variants. Registering the
// same discriminant twice panics.
func NewRegistry(groups ...[]Variant) *Registry {
	r := &Registry{variants: make(map[string]decodeFunc)}
	for _, g := range groups {
		for _, v := range g {
			if _, dup := r.variants[v.kind]; dup {
				panic(fmt.Sprintf("message: duplicate payload type %q", v.kind))
			}
			r.variants[v.kind] = v.decode
		}
	}
	return r
}

func (r *Registry) lookup(kind string) (decodeFunc, bool) {
	if r == nil {
		return nil, false
	}
	d, ok := r.variants[kind]
	return d, ok
}
