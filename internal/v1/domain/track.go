package domain

import "github.com/RoseWrightdev/sfu-signaling/internal/v1/types"

// Track is one published media track. Its sid equals the underlying
// producer id on the media engine.
type Track struct {
	Sid       types.TrackID
	Kind      types.TrackKind
	Source    types.TrackSource
	Muted     bool
	Width     int
	Height    int
	Simulcast bool
}
