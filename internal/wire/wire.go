// Package wire defines the byte-level payloads exchanged with the CO2S
// backend and the persisted identity record layout. Everything here is
// little-endian and packed with no length prefix or envelope; the config
// topic distinguishes message kinds by payload length alone, so these
// sizes are load-bearing protocol constants, not implementation details.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Topic names fixed by the backend protocol.
const (
	TopicAnnounce   = "CO2S/announce"
	TopicData       = "CO2S/data"
	topicConfPrefix = "CO2S/conf/"
)

// Payload sizes used for length-based dispatch.
const (
	IdentitySize = 16
	ConfigSize   = 14
	RebootSize   = 7
	ReportSize   = IdentitySize + 8
)

// ConfTopic returns the per-device config topic for a device topic
// suffix (the last six identity bytes as lowercase hex).
func ConfTopic(suffix string) string {
	return topicConfPrefix + suffix
}

// RuntimeConfig is the operating configuration a node receives over its
// config topic. It is never persisted; a restart always re-pairs.
//
// The wire form is exactly [ConfigSize] bytes: five unsigned and two
// signed 16-bit fields in declaration order. The signed fields use
// negative values to mean "disabled", which is why they are not unsigned
// like the rest.
type RuntimeConfig struct {
	SampleEvery      uint16 // milliseconds between sensor reads
	SamplesPerReport uint16 // mean window size
	GreenThreshold   uint16 // ppm; below this is the lowest severity
	YellowThreshold  uint16 // ppm
	OrangeThreshold  uint16 // ppm; at or above is the highest severity
	BuzzEvery        int16  // seconds between tones; negative disables
	ShowEvery        int16  // seconds blanked between pulses; negative disables, zero always on
}

// DecodeRuntimeConfig parses a config payload. Callers dispatch by
// length before calling, but the length is checked again here so the
// decoder is safe on its own.
func DecodeRuntimeConfig(p []byte) (RuntimeConfig, error) {
	if len(p) != ConfigSize {
		return RuntimeConfig{}, fmt.Errorf("config payload is %d bytes, want %d", len(p), ConfigSize)
	}
	return RuntimeConfig{
		SampleEvery:      binary.LittleEndian.Uint16(p[0:2]),
		SamplesPerReport: binary.LittleEndian.Uint16(p[2:4]),
		GreenThreshold:   binary.LittleEndian.Uint16(p[4:6]),
		YellowThreshold:  binary.LittleEndian.Uint16(p[6:8]),
		OrangeThreshold:  binary.LittleEndian.Uint16(p[8:10]),
		BuzzEvery:        int16(binary.LittleEndian.Uint16(p[10:12])),
		ShowEvery:        int16(binary.LittleEndian.Uint16(p[12:14])),
	}, nil
}

// Encode renders the config in its wire form. The node itself only
// decodes; encoding exists for tests and backend-side tooling.
func (c RuntimeConfig) Encode() []byte {
	p := make([]byte, ConfigSize)
	binary.LittleEndian.PutUint16(p[0:2], c.SampleEvery)
	binary.LittleEndian.PutUint16(p[2:4], c.SamplesPerReport)
	binary.LittleEndian.PutUint16(p[4:6], c.GreenThreshold)
	binary.LittleEndian.PutUint16(p[6:8], c.YellowThreshold)
	binary.LittleEndian.PutUint16(p[8:10], c.OrangeThreshold)
	binary.LittleEndian.PutUint16(p[10:12], uint16(c.BuzzEvery))
	binary.LittleEndian.PutUint16(p[12:14], uint16(c.ShowEvery))
	return p
}

// EncodeReport builds a data-topic payload: the raw identity followed by
// the two signed 32-bit means.
func EncodeReport(id [IdentitySize]byte, co2Mean, tempMean int32) []byte {
	p := make([]byte, ReportSize)
	copy(p[:IdentitySize], id[:])
	binary.LittleEndian.PutUint32(p[16:20], uint32(co2Mean))
	binary.LittleEndian.PutUint32(p[20:24], uint32(tempMean))
	return p
}

// DecodeReport parses a data-topic payload. The node never receives
// reports; this is the test-side inverse of [EncodeReport].
func DecodeReport(p []byte) (id [IdentitySize]byte, co2Mean, tempMean int32, err error) {
	if len(p) != ReportSize {
		return id, 0, 0, fmt.Errorf("report payload is %d bytes, want %d", len(p), ReportSize)
	}
	copy(id[:], p[:IdentitySize])
	co2Mean = int32(binary.LittleEndian.Uint32(p[16:20]))
	tempMean = int32(binary.LittleEndian.Uint32(p[20:24]))
	return id, co2Mean, tempMean, nil
}
