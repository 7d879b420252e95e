package entities

import "testing"

func TestSniffAudioFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want AudioFormat
	}{
		{"wav", append([]byte("RIFF\x24\x00\x00\x00WAVE"), "fmt "...), AudioFormatWAV},
		{"riff but not wave", []byte("RIFF\x24\x00\x00\x00AVI LIST"), AudioFormatMP3},
		{"id3 tagged mp3", []byte("ID3\x04\x00\x00\x00"), AudioFormatMP3},
		{"mpeg frame sync", []byte{0xFF, 0xFB, 0x90, 0x64}, AudioFormatMP3},
		{"ogg", []byte("OggS\x00\x02\x00\x00"), AudioFormatOGG},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), AudioFormatFLAC},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F}, AudioFormatWebM},
		{"unknown defaults to mp3", []byte("hello"), AudioFormatMP3},
		{"empty defaults to mp3", nil, AudioFormatMP3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffAudioFormat(tt.data); got != tt.want {
				t.Errorf("SniffAudioFormat() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveAudioFormat(t *testing.T) {
	wav := []byte("RIFF\x24\x00\x00\x00WAVE")

	tests := []struct {
		name  string
		hints []string
		want  AudioFormat
	}{
		{"no hints sniffs", nil, AudioFormatWAV},
		{"mime hint wins", []string{"audio/webm;codecs=opus"}, AudioFormatWebM},
		{"file name hint", []string{"", "take-2.flac"}, AudioFormatFLAC},
		{"unknown hint falls back to sniffing", []string{"audio/x-unknown"}, AudioFormatWAV},
		{"bare extension", []string{"ogg"}, AudioFormatOGG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveAudioFormat(wav, tt.hints...); got != tt.want {
				t.Errorf("ResolveAudioFormat() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAudioFormatContentType(t *testing.T) {
	if AudioFormatWAV.ContentType() != "audio/wav" {
		t.Errorf("unexpected wav content type %s", AudioFormatWAV.ContentType())
	}
	if AudioFormatMP3.Extension() != ".mp3" {
		t.Errorf("unexpected mp3 extension %s", AudioFormatMP3.Extension())
	}
}
