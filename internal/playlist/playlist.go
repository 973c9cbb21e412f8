// Package playlist builds HLS media playlists that address a single stored
// MPEG transport stream through byte ranges on the content endpoint.
package playlist

import (
	"errors"
	"math"
	"path/filepath"
	"strings"

	"github.com/grafov/m3u8"
)

const (
	tsPacketSize          = 188
	DefaultSegmentSeconds = 6.0
	ContentType           = "application/vnd.apple.mpegurl"
)

var ErrNotStream = errors.New("file is not a transport stream")

// IsTransportStream reports whether a stored file can be served as HLS.
func IsTransportStream(name, contentType string) bool {
	return strings.EqualFold(filepath.Ext(name), ".ts") || contentType == "video/mp2t"
}

// ByteRange splits size bytes into segments of about segmentSeconds at the
// given nominal bitrate (bits/s). Every segment except the last is a whole
// number of transport-stream packets. contentURI is repeated for each
// segment with an EXT-X-BYTERANGE tag.
func ByteRange(contentURI string, size, bitrate int64, segmentSeconds float64) (string, error) {
	if size <= 0 {
		return "", errors.New("empty stream")
	}
	if bitrate <= 0 {
		return "", errors.New("bitrate must be positive")
	}
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}

	bytesPerSec := float64(bitrate) / 8
	segBytes := int64(bytesPerSec*segmentSeconds) / tsPacketSize * tsPacketSize
	if segBytes < tsPacketSize {
		segBytes = tsPacketSize
	}
	count := (size + segBytes - 1) / segBytes

	p, err := m3u8.NewMediaPlaylist(0, uint(count))
	if err != nil {
		return "", err
	}
	p.MediaType = m3u8.VOD

	for offset := int64(0); offset < size; offset += segBytes {
		limit := segBytes
		if offset+limit > size {
			limit = size - offset
		}
		duration := math.Round(float64(limit)/bytesPerSec*1000) / 1000
		if err := p.Append(contentURI, duration, ""); err != nil {
			return "", err
		}
		if err := p.SetRange(limit, offset); err != nil {
			return "", err
		}
	}
	p.Close()
	return p.String(), nil
}

// Parse decodes a media playlist, used to validate generated output.
func Parse(content string) (*m3u8.MediaPlaylist, error) {
	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(content), true)
	if err != nil {
		return nil, err
	}
	if listType != m3u8.MEDIA {
		return nil, errors.New("not a media playlist")
	}
	return pl.(*m3u8.MediaPlaylist), nil
}
