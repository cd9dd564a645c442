package negotiation

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairtalk/internal/media"
)

// Media directions as they appear in SDP property attributes.
const (
	dirSendRecv = "sendrecv"
	dirSendOnly = "sendonly"
	dirRecvOnly = "recvonly"
	dirInactive = "inactive"
)

// parseDescription unmarshals the SDP body of desc.
func parseDescription(desc webrtc.SessionDescription) (*sdp.SessionDescription, error) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return nil, fmt.Errorf("parse %s: %w", desc.Type, err)
	}
	return parsed, nil
}

// direction returns the media direction of md, defaulting to sendrecv as
// RFC 4566 does when the attribute is absent.
func direction(md *sdp.MediaDescription) string {
	for _, a := range md.Attributes {
		switch a.Key {
		case dirSendRecv, dirSendOnly, dirRecvOnly, dirInactive:
			return a.Key
		}
	}
	return dirSendRecv
}

func rejected(md *sdp.MediaDescription) bool {
	return md.MediaName.Port.Value == 0
}

func mediaKind(md *sdp.MediaDescription) (media.Kind, bool) {
	switch k := media.Kind(md.MediaName.Media); k {
	case media.KindAudio, media.KindVideo:
		return k, true
	}
	return "", false
}

// sends reports whether the author of a description transmits on md.
func sends(md *sdp.MediaDescription) bool {
	d := direction(md)
	return !rejected(md) && (d == dirSendRecv || d == dirSendOnly)
}

// receives reports whether the author of a description accepts media on md.
func receives(md *sdp.MediaDescription) bool {
	d := direction(md)
	return !rejected(md) && (d == dirSendRecv || d == dirRecvOnly)
}

// msidTrack extracts the track announced by an "a=msid:<stream> <track>" line.
func msidTrack(md *sdp.MediaDescription, kind media.Kind) (media.Track, bool) {
	value, ok := md.Attribute(sdp.AttrKeyMsid)
	if !ok {
		return media.Track{}, false
	}
	fields := strings.Fields(value)
	switch len(fields) {
	case 0:
		return media.Track{}, false
	case 1:
		mid, _ := md.Attribute(sdp.AttrKeyMID)
		return media.Track{ID: fields[0] + "-" + mid, Kind: kind, StreamID: fields[0]}, true
	}
	return media.Track{ID: fields[1], Kind: kind, StreamID: fields[0]}, true
}

// sentTracks lists the tracks the author of desc transmits.
func sentTracks(desc *sdp.SessionDescription) []media.Track {
	var tracks []media.Track
	for _, md := range desc.MediaDescriptions {
		kind, ok := mediaKind(md)
		if !ok || !sends(md) {
			continue
		}
		if t, ok := msidTrack(md, kind); ok {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// OfferedKinds returns the kinds a remote offer is willing to receive, in
// section order without duplicates. An answerer acquires these to reply with
// symmetric capability.
func OfferedKinds(offer webrtc.SessionDescription) ([]media.Kind, error) {
	parsed, err := parseDescription(offer)
	if err != nil {
		return nil, err
	}
	seen := make(map[media.Kind]bool)
	var kinds []media.Kind
	for _, md := range parsed.MediaDescriptions {
		kind, ok := mediaKind(md)
		if !ok || seen[kind] || !receives(md) {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// negotiatedSlots pairs the local description with the remote one by mid and
// returns, per kind, the local track that the remote side agreed to receive.
func negotiatedSlots(local, remote *sdp.SessionDescription) map[media.Kind]string {
	remoteByMid := make(map[string]*sdp.MediaDescription, len(remote.MediaDescriptions))
	for _, md := range remote.MediaDescriptions {
		if mid, ok := md.Attribute(sdp.AttrKeyMID); ok {
			remoteByMid[mid] = md
		}
	}

	slots := make(map[media.Kind]string)
	for _, md := range local.MediaDescriptions {
		kind, ok := mediaKind(md)
		if !ok || !sends(md) {
			continue
		}
		mid, _ := md.Attribute(sdp.AttrKeyMID)
		peer, ok := remoteByMid[mid]
		if !ok || !receives(peer) {
			continue
		}
		if t, ok := msidTrack(md, kind); ok {
			if _, taken := slots[kind]; !taken {
				slots[kind] = t.ID
			}
		}
	}
	return slots
}

// answerDirection picks the answer's direction for a section offered with
// direction offered, given whether we have a track of that kind to send.
func answerDirection(offered string, sending bool) string {
	switch offered {
	case dirSendRecv:
		if sending {
			return dirSendRecv
		}
		return dirRecvOnly
	case dirSendOnly:
		return dirRecvOnly
	case dirRecvOnly:
		if sending {
			return dirSendOnly
		}
		return dirInactive
	default:
		return dirInactive
	}
}
