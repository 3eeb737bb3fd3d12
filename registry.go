package omt

import (
	"bytes"
)

// Rule maps a leading magic, or for generic headers the type field, to a
// header kind and its handler. Exactly one of Magic and Type is set.
type Rule struct {
	Magic   []byte
	Type    []byte
	Kind    Kind
	Handler Handler
}

// Registry is an ordered rule table. The first matching rule wins; rules
// may overlap, so the order is significant and kept as observed in real
// packages.
type Registry struct {
	rules []Rule
}

var defaultRules = []Rule{
	{Magic: []byte("XPLF"), Kind: KindXPLF, Handler: handleXPLF},
	{Magic: []byte("ZFJR"), Kind: KindRaw, Handler: handleZFJ},
	{Magic: []byte("TRPR"), Kind: KindGeneric, Handler: handleSplit},
	{Type: []byte("BN2U"), Kind: KindGeneric, Handler: handleDecapsulate},
	{Type: []byte("BRUU"), Kind: KindGeneric, Handler: handleDecapsulate},
	{Type: []byte("BCPU"), Kind: KindGeneric, Handler: handleDecapsulate},
	{Type: []byte("BDXU"), Kind: KindGeneric, Handler: handleSplit},
	{Type: []byte("BTRU"), Kind: KindGeneric, Handler: handleDecapsulate},
	{Magic: []byte{0x00, 0x00, 0x01, 0x04}, Kind: KindArchivePart, Handler: handleArchivePart},
	{Magic: []byte("UCFR"), Kind: KindGeneric, Handler: handleUCF},
	{Magic: []byte("METR"), Kind: KindGeneric, Handler: handleMET},
	{Magic: []byte("N2X0"), Kind: KindArchive, Handler: handleArchive},
	{Magic: []byte("RUS0"), Kind: KindArchive, Handler: handleArchive},
	{Magic: []byte("BLOB"), Kind: KindBlob, Handler: handleBlob},
	{Magic: []byte("RPDO"), Kind: KindRPDO, Handler: handleRPDO},
	{Magic: []byte{0x01, 0x00, 0x00, 0x00}, Kind: KindRaw, Handler: handleLMCList},
	{Magic: []byte("CPR0"), Kind: KindArchive, Handler: handleArchive},
	{Magic: []byte("VEP\x00"), Kind: KindTag, Handler: handleSplit},
}

// DefaultRegistry returns the rule table for OMT upgrade packages.
func DefaultRegistry() *Registry {
	return &Registry{rules: defaultRules}
}

// NewRegistry builds a registry from rules evaluated in the given order.
func NewRegistry(rules []Rule) *Registry {
	return &Registry{rules: rules}
}

// Match returns the first rule matching b, or nil when the bytes are
// opaque.
func (r *Registry) Match(b []byte) *Rule {
	if len(b) < 4 {
		return nil
	}
	var typ []byte
	if len(b) >= 16 {
		typ = b[12:16]
	}
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Magic != nil && bytes.Equal(b[:4], rule.Magic) {
			return rule
		}
		if rule.Type != nil && typ != nil && bytes.Equal(typ, rule.Type) {
			return rule
		}
	}
	return nil
}
