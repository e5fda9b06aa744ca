// Package poster defines the core types shared across the loader, scanner,
// and catalog subsystems.
package poster

import (
	"fmt"
	"strings"
)

// Display defaults applied when a DisplayHint leaves a field unset.
const (
	DefaultWidth   = 600
	DefaultQuality = 85
)

// DisplayHint describes how a poster will be rendered.
type DisplayHint struct {
	Width   int `json:"width" yaml:"width" mapstructure:"width"`
	Height  int `json:"height,omitempty" yaml:"height,omitempty" mapstructure:"height"`
	Quality int `json:"quality" yaml:"quality" mapstructure:"quality"`
}

// Normalized fills unset width/quality with defaults. Height stays optional.
func (h DisplayHint) Normalized() DisplayHint {
	if h.Width <= 0 {
		h.Width = DefaultWidth
	}
	if h.Quality <= 0 {
		h.Quality = DefaultQuality
	}
	if h.Height < 0 {
		h.Height = 0
	}
	return h
}

// ResourceRef points at one remote poster. It is immutable once a loader has
// been created for it.
type ResourceRef struct {
	ID        string      `json:"id" yaml:"id"`
	Title     string      `json:"title,omitempty" yaml:"title,omitempty"`
	OriginURL string      `json:"origin_url" yaml:"origin_url"`
	Hint      DisplayHint `json:"hint" yaml:"hint"`
	// Eager resources are considered visible as soon as a loader is attached.
	Eager bool `json:"eager,omitempty" yaml:"eager,omitempty"`
}

// Key identifies the resource by origin URL and rendered dimensions.
func (r ResourceRef) Key() string {
	h := r.Hint.Normalized()
	return fmt.Sprintf("%s|%dx%d", strings.TrimSpace(r.OriginURL), h.Width, h.Height)
}

// HasOrigin reports whether an origin URL was supplied.
func (r ResourceRef) HasOrigin() bool {
	return strings.TrimSpace(r.OriginURL) != ""
}

// LoadStage is a step in the loader's degradation path.
type LoadStage string

// Load stages in degradation order.
const (
	StageProxied LoadStage = "proxied"
	StageDirect  LoadStage = "direct"
	StageFailed  LoadStage = "failed"
)

// Rank orders stages so callers can assert forward-only progress.
func (s LoadStage) Rank() int {
	switch s {
	case StageProxied:
		return 0
	case StageDirect:
		return 1
	case StageFailed:
		return 2
	default:
		return -1
	}
}
