// Package static holds the files the server ships with.
package static

import "embed"

// Paths of the placeholders handed out for panels whose assets could not be
// generated.
const (
	PlaceholderImagePath = "/static/placeholder/panel.png"
	PlaceholderAudioPath = "/static/placeholder/silence.mp3"
)

// Files is served under /static.
//
//go:embed placeholder
var Files embed.FS
