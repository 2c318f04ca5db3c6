package client

import (
	"sort"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// Policy selects how reconciliation resolves divergence between the local
// mirror and the server snapshot after a reconnect.
type Policy string

const (
	// PolicyPreferServer adopts the server snapshot wholesale. Default.
	PolicyPreferServer Policy = "preferServer"
	// PolicyPreferLocal keeps local values for participants both sides know
	// and only adopts server-only additions and removals.
	PolicyPreferLocal Policy = "preferLocal"
	// PolicyMerge keeps the union: metadata merges key-wise with server
	// values winning, track sets union with server state winning per track.
	PolicyMerge Policy = "merge"
)

// Diff describes the divergence found during reconciliation at track
// granularity, plus the participants whose metadata diverged. Sids are
// sorted for deterministic output.
type Diff struct {
	// LocalOnly lists track sids the mirror knows but the server dropped.
	LocalOnly []string
	// ServerOnly lists track sids that appeared while disconnected.
	ServerOnly []string
	// Conflicting lists track sids present on both sides with differing
	// state, the muted flag included.
	Conflicting []string
	// MetadataChanged lists participant sids whose metadata or profile
	// fields differ between the two views.
	MetadataChanged []string
}

// Empty reports whether both sides already agree.
func (d Diff) Empty() bool {
	return len(d.LocalOnly) == 0 && len(d.ServerOnly) == 0 &&
		len(d.Conflicting) == 0 && len(d.MetadataChanged) == 0
}

// Reconcile computes the post-reconnect participant set from the local
// mirror and the authoritative server snapshot. It is a pure function: the
// inputs are not mutated. Room membership always follows the server; the
// policy decides how each surviving participant's state is resolved.
func Reconcile(local, server []protocol.ParticipantInfo, policy Policy) ([]protocol.ParticipantInfo, Diff) {
	localBySid := make(map[string]protocol.ParticipantInfo, len(local))
	for _, p := range local {
		localBySid[p.Sid] = p
	}

	localTracks := trackIndex(local)
	serverTracks := trackIndex(server)

	var diff Diff
	for sid := range localTracks {
		if _, ok := serverTracks[sid]; !ok {
			diff.LocalOnly = append(diff.LocalOnly, sid)
		}
	}
	for sid, st := range serverTracks {
		lt, ok := localTracks[sid]
		if !ok {
			diff.ServerOnly = append(diff.ServerOnly, sid)
			continue
		}
		if lt != st {
			diff.Conflicting = append(diff.Conflicting, sid)
		}
	}
	for _, sp := range server {
		lp, ok := localBySid[sp.Sid]
		if !ok {
			continue
		}
		if lp.Identity != sp.Identity || lp.DisplayName != sp.DisplayName ||
			!metadataEqual(lp.Metadata, sp.Metadata) {
			diff.MetadataChanged = append(diff.MetadataChanged, sp.Sid)
		}
	}
	sort.Strings(diff.LocalOnly)
	sort.Strings(diff.ServerOnly)
	sort.Strings(diff.Conflicting)
	sort.Strings(diff.MetadataChanged)

	out := make([]protocol.ParticipantInfo, 0, len(server))
	for _, sp := range server {
		lp, known := localBySid[sp.Sid]
		switch policy {
		case PolicyPreferLocal:
			if known {
				out = append(out, lp)
			} else {
				out = append(out, sp)
			}
		case PolicyMerge:
			if known {
				out = append(out, mergeParticipants(lp, sp))
			} else {
				out = append(out, sp)
			}
		default: // PolicyPreferServer
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sid < out[j].Sid })
	return out, diff
}

// trackIndex flattens every track across the member list. Track sids equal
// producer ids, so they are unique across participants.
func trackIndex(members []protocol.ParticipantInfo) map[string]protocol.TrackInfo {
	idx := make(map[string]protocol.TrackInfo)
	for _, p := range members {
		for _, t := range p.Tracks {
			idx[t.Sid] = t
		}
	}
	return idx
}

func metadataEqual(a, b types.Metadata) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// mergeParticipants keeps the union of the two views. Tracks both sides know
// take server state; locally published tracks the snapshot is missing
// survive as optimistic state. Metadata merges key-wise with server values
// winning.
func mergeParticipants(local, server protocol.ParticipantInfo) protocol.ParticipantInfo {
	merged := server

	tracks := append([]protocol.TrackInfo(nil), server.Tracks...)
	known := make(map[string]struct{}, len(tracks))
	for _, t := range tracks {
		known[t.Sid] = struct{}{}
	}
	for _, t := range local.Tracks {
		if _, ok := known[t.Sid]; !ok {
			tracks = append(tracks, t)
		}
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Sid < tracks[j].Sid })
	merged.Tracks = tracks

	md := types.Metadata{}
	for k, v := range local.Metadata {
		md[k] = v
	}
	for k, v := range server.Metadata {
		md[k] = v
	}
	if len(md) > 0 {
		merged.Metadata = md
	}
	if merged.DisplayName == "" {
		merged.DisplayName = local.DisplayName
	}
	return merged
}
