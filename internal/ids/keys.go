package ids

import (
	"encoding/hex"
	"strings"
)

// TEG node kinds used in storage keys.
const (
	NodeEffect      = "effect"
	NodeResource    = "resource"
	NodeIntent      = "intent"
	NodeHandler     = "handler"
	NodeConstraint  = "constraint"
	NodeTransaction = "transaction"
)

const namespacePrefix = "domain-"

// namespaceLen is the length of "domain-" plus the 64 hex digits of a
// domain id.
const namespaceLen = len(namespacePrefix) + 2*len(DomainID{})

// NamespacePrefix returns the stable printable namespace for a domain:
// "domain-" followed by the hex of the full domain id.
func NamespacePrefix(domain DomainID) string {
	return namespacePrefix + domain.Hex()
}

// TEGKey builds "<ns>-teg-<kind>-<hex(id)>" for a graph node of any kind.
func TEGKey[K Kind](domain DomainID, nodeKind string, id ID[K]) string {
	return NamespacePrefix(domain) + "-teg-" + nodeKind + "-" + id.Hex()
}

// EffectKey is TEGKey for effect nodes.
func EffectKey(domain DomainID, id EffectID) string {
	return TEGKey(domain, NodeEffect, id)
}

// ResourceNodeKey is TEGKey for resource nodes.
func ResourceNodeKey(domain DomainID, id ResourceID) string {
	return TEGKey(domain, NodeResource, id)
}

// IntentKey is TEGKey for intent nodes.
func IntentKey(domain DomainID, id IntentID) string {
	return TEGKey(domain, NodeIntent, id)
}

// HandlerKey is TEGKey for handler nodes.
func HandlerKey(domain DomainID, id HandlerID) string {
	return TEGKey(domain, NodeHandler, id)
}

// ConstraintKey is TEGKey for constraint nodes.
func ConstraintKey(domain DomainID, id ConstraintID) string {
	return TEGKey(domain, NodeConstraint, id)
}

// TransactionKey is TEGKey for transaction nodes.
func TransactionKey(domain DomainID, id TransactionID) string {
	return TEGKey(domain, NodeTransaction, id)
}

// CrossDomainRefKey builds the key of a reference from source to a resource
// in another domain: "<ns(src)>-cross-ref-<hex(target)>-<hex(id)>".
func CrossDomainRefKey(source, target DomainID, targetResource ResourceID) string {
	return NamespacePrefix(source) + "-cross-ref-" + target.Hex() + "-" + targetResource.Hex()
}

// TemporalKey builds "<ns>-temporal-<hex(from)>-<hex(to)>-<relType>".
func TemporalKey[K Kind](domain DomainID, from, to ID[K], relType string) string {
	return NamespacePrefix(domain) + "-temporal-" + from.Hex() + "-" + to.Hex() + "-" + relType
}

// DomainStateKey builds "<ns>-state".
func DomainStateKey(domain DomainID) string {
	return NamespacePrefix(domain) + "-state"
}

// DomainConfigKey builds "<ns>-config".
func DomainConfigKey(domain DomainID) string {
	return NamespacePrefix(domain) + "-config"
}

// RegisterKey builds "<ns>-register-<hex(id)>".
func RegisterKey(domain DomainID, id RegisterID) string {
	return NamespacePrefix(domain) + "-register-" + id.Hex()
}

// ResourceStateKey builds "<ns>-resource-<hex(id)>", the key of a
// resource's materialized state within its home domain.
func ResourceStateKey(domain DomainID, id ResourceID) string {
	return NamespacePrefix(domain) + "-resource-" + id.Hex()
}

// AccessKey builds "<ns>-access-<hex(id)>", the key of a resource's access
// control record.
func AccessKey(domain DomainID, id ResourceID) string {
	return NamespacePrefix(domain) + "-access-" + id.Hex()
}

// NamespaceOfKey returns the namespace prefix a key was built under, or ""
// if the key is not namespaced.
func NamespaceOfKey(key string) string {
	if !strings.HasPrefix(key, namespacePrefix) {
		return ""
	}
	n := namespaceLen
	if len(key) < n {
		return ""
	}
	if _, err := hex.DecodeString(key[len(namespacePrefix):n]); err != nil {
		return ""
	}
	if len(key) > n && key[n] != '-' {
		return ""
	}
	return key[:n]
}

// InDomain reports whether key belongs to domain's namespace.
func InDomain(key string, domain DomainID) bool {
	return NamespaceOfKey(key) == NamespacePrefix(domain)
}
