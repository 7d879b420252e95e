package entities

import (
	"bytes"
	"path"
	"strings"
)

// AudioFormat is a container format hint providers need as an extension or content type
type AudioFormat string

const (
	AudioFormatWAV  AudioFormat = "wav"
	AudioFormatMP3  AudioFormat = "mp3"
	AudioFormatOGG  AudioFormat = "ogg"
	AudioFormatFLAC AudioFormat = "flac"
	AudioFormatWebM AudioFormat = "webm"
)

// Extension returns the file extension including the leading dot
func (f AudioFormat) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type for the format
func (f AudioFormat) ContentType() string {
	switch f {
	case AudioFormatWAV:
		return "audio/wav"
	case AudioFormatOGG:
		return "audio/ogg"
	case AudioFormatFLAC:
		return "audio/flac"
	case AudioFormatWebM:
		return "audio/webm"
	default:
		return "audio/mpeg"
	}
}

// SniffAudioFormat detects the container from magic bytes, defaulting to mp3
func SniffAudioFormat(data []byte) AudioFormat {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return AudioFormatWAV
	case bytes.HasPrefix(data, []byte("ID3")):
		return AudioFormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return AudioFormatMP3
	case bytes.HasPrefix(data, []byte("OggS")):
		return AudioFormatOGG
	case bytes.HasPrefix(data, []byte("fLaC")):
		return AudioFormatFLAC
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return AudioFormatWebM
	default:
		return AudioFormatMP3
	}
}

// ParseAudioFormat maps a MIME type, extension or file name to a known format
func ParseAudioFormat(hint string) (AudioFormat, bool) {
	h := strings.ToLower(strings.TrimSpace(hint))
	if i := strings.Index(h, ";"); i >= 0 {
		h = strings.TrimSpace(h[:i])
	}
	if ext := path.Ext(h); ext != "" && !strings.Contains(h, "/") {
		h = ext
	}
	h = strings.TrimPrefix(h, ".")
	h = strings.TrimPrefix(h, "audio/")
	h = strings.TrimPrefix(h, "video/")

	switch h {
	case "wav", "wave", "x-wav", "vnd.wave":
		return AudioFormatWAV, true
	case "mp3", "mpeg", "mpga", "x-mpeg":
		return AudioFormatMP3, true
	case "ogg", "oga", "opus", "application/ogg":
		return AudioFormatOGG, true
	case "flac", "x-flac":
		return AudioFormatFLAC, true
	case "webm":
		return AudioFormatWebM, true
	}
	return "", false
}

// ResolveAudioFormat prefers an explicit known hint and falls back to sniffing
func ResolveAudioFormat(data []byte, hints ...string) AudioFormat {
	for _, hint := range hints {
		if f, ok := ParseAudioFormat(hint); ok {
			return f
		}
	}
	return SniffAudioFormat(data)
}
