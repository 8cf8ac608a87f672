// Package identity resolves the host-signed init data of the Mini App from the
// host-native channel or the launch URL, retrying while the host is still
// publishing it.
package identity

import (
	"strings"
	"sync"
	"time"
)

// Provenance names the source an identity was read from.
type Provenance string

const (
	ProvenanceNative   Provenance = "host-native"
	ProvenanceQuery    Provenance = "url-query"
	ProvenanceFragment Provenance = "url-fragment"
	ProvenanceNone     Provenance = "none"
)

// HostIdentity is the last resolved init data.
type HostIdentity struct {
	InitData   string
	Provenance Provenance
	ReadAt     time.Time // last successful read
	CheckedAt  time.Time // last attempt, successful or not
}

// Len is derived from InitData.
func (h HostIdentity) Len() int { return len(h.InitData) }

// Empty reports whether no identity is available.
func (h HostIdentity) Empty() bool { return h.InitData == "" }

// Source yields init data or "".
type Source interface {
	Read() string
}

// SourceFunc adapts a function to Source.
type SourceFunc func() string

func (f SourceFunc) Read() string {
	if f == nil {
		return ""
	}
	return f()
}

// NativeChannel is the slot the embedding host publishes init data into.
// The host may fill it some time after the view loaded.
type NativeChannel struct {
	mu   sync.RWMutex
	data string
}

// Publish stores the host's init data.
func (c *NativeChannel) Publish(initData string) {
	c.mu.Lock()
	c.data = strings.TrimSpace(initData)
	c.mu.Unlock()
}

func (c *NativeChannel) Read() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}
