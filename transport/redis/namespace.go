package redis

import (
	"fmt"

	"github.com/RAPD/rapd-relay/config"
)

// KeyBuilder builds Redis keys with configured prefixes.
type KeyBuilder struct {
	ns config.RedisNamespaceConfig
}

// NewKeyBuilder creates a new KeyBuilder with the given namespace configuration.
func NewKeyBuilder(ns config.RedisNamespaceConfig) *KeyBuilder {
	return &KeyBuilder{ns: ns}
}

// ServerKey builds the presence key of a relay instance.
// Format: {base}:{server}:{instanceID}
// Example: "R2:WSS:01HVZ3..."
func (kb *KeyBuilder) ServerKey(instanceID string) string {
	return fmt.Sprintf("%s:%s:%s", kb.ns.BasePrefix, kb.ns.ServerPrefix, instanceID)
}

// ServerKeyPattern matches every relay-instance presence key.
// Format: {base}:{server}:*
func (kb *KeyBuilder) ServerKeyPattern() string {
	return fmt.Sprintf("%s:%s:*", kb.ns.BasePrefix, kb.ns.ServerPrefix)
}

// ConnectionKey builds the presence key of one client connection.
// Format: {base}:{connection}:{connID}
// Example: "R2:WSC:01HVZ4..."
func (kb *KeyBuilder) ConnectionKey(connID string) string {
	return fmt.Sprintf("%s:%s:%s", kb.ns.BasePrefix, kb.ns.ConnectionPrefix, connID)
}

// ConnectionKeyPattern matches every connection presence key.
// Format: {base}:{connection}:*
func (kb *KeyBuilder) ConnectionKeyPattern() string {
	return fmt.Sprintf("%s:%s:*", kb.ns.BasePrefix, kb.ns.ConnectionPrefix)
}
