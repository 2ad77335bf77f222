// Package transfer recognizes ZMODEM and trzsz file-transfer handshakes
// embedded in a terminal byte stream.
package transfer

import "strings"

// Protocol identifies the file-transfer protocol of a handshake.
type Protocol string

const (
	ProtocolNone   Protocol = "none"
	ProtocolZmodem Protocol = "zmodem"
	ProtocolTrzsz  Protocol = "trzsz"
)

// Direction is relative to the local client: upload sends a local file
// to the remote host, download receives one.
type Direction string

const (
	DirectionNone     Direction = "none"
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Result is the outcome of inspecting a window of text.
type Result struct {
	Detected  bool      `json:"detected"`
	Direction Direction `json:"direction"`
	Protocol  Protocol  `json:"protocol"`
}

// None is the result for text without a handshake.
var None = Result{Protocol: ProtocolNone, Direction: DirectionNone}

var (
	// ZRINIT from a remote rz: the host is ready to receive.
	zmodemUploadMarkers = []string{"**\x18B01", "**B11"}
	// ZRQINIT from a remote sz: the host is about to send.
	zmodemDownloadMarkers = []string{"**\x18B00", "**G\x00"}

	trzszSentinel         = "::TRZSZ:"
	trzszUploadKeywords   = []string{"TRANSFER:UPLOAD", "TRANSFER:R:", "trz"}
	trzszDownloadKeywords = []string{"TRANSFER:DOWNLOAD", "TRANSFER:S:", "tsz"}
)

// Detect reports whether text contains the start of a transfer handshake.
// ZMODEM markers are checked before the trzsz sentinel. Any input is
// valid.
func Detect(text string) Result {
	switch {
	case containsAny(text, zmodemUploadMarkers):
		return Result{Detected: true, Protocol: ProtocolZmodem, Direction: DirectionUpload}
	case containsAny(text, zmodemDownloadMarkers):
		return Result{Detected: true, Protocol: ProtocolZmodem, Direction: DirectionDownload}
	}

	if !strings.Contains(text, trzszSentinel) {
		return None
	}
	switch {
	case containsAny(text, trzszUploadKeywords):
		return Result{Detected: true, Protocol: ProtocolTrzsz, Direction: DirectionUpload}
	case containsAny(text, trzszDownloadKeywords):
		return Result{Detected: true, Protocol: ProtocolTrzsz, Direction: DirectionDownload}
	}
	return None
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
