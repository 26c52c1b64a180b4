package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestFormatValidate(t *testing.T) {
	f := Format{SampleRate: 16000, MaxFrame: 20 * time.Millisecond}
	cases := []struct {
		name    string
		pcm     []byte
		wantErr bool
	}{
		{"empty", nil, true},
		{"odd", []byte{1, 2, 3}, true},
		{"ok", make([]byte, 640), false},
		{"too long", make([]byte, 642), true},
	}
	for _, tc := range cases {
		err := f.Validate(Frame{PCM: tc.pcm})
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: Validate() error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidAudioFormat) {
			t.Fatalf("%s: error = %v, want ErrInvalidAudioFormat", tc.name, err)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	f := DefaultFormat()
	if got := f.Duration(32000); got != time.Second {
		t.Fatalf("Duration(32000) = %v, want 1s", got)
	}
}

func TestConcatAndChunk(t *testing.T) {
	frames := []Frame{{Seq: 1, PCM: []byte{1, 2}}, {Seq: 2, PCM: []byte{3, 4, 5, 6}}}
	got := Concat(frames)
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("Concat() = %v", got)
	}

	chunks := Chunk(got, 3)
	if len(chunks) != 3 {
		t.Fatalf("len(Chunk()) = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c)%BytesPerSample != 0 {
			t.Fatalf("chunk %d has odd length %d", i, len(c))
		}
	}
	if Chunk(nil, 10) != nil {
		t.Fatalf("Chunk(nil) should be nil")
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 100)
	wav, err := EncodeWAVPCM16LE(pcm, 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 144 {
		t.Fatalf("len(wav) = %d, want 144", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected header: %q", wav[:44])
	}
}

func TestDecodeWAVPCM16Mono(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xE8, 0x03, 0x18, 0xFC}
	wav, _ := EncodeWAVPCM16LE(pcm, 16000)
	got, sr, err := DecodeWAVPCM16(wav)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if sr != 16000 || !bytes.Equal(got, pcm) {
		t.Fatalf("DecodeWAVPCM16() = %v @ %d, want %v @ 16000", got, sr, pcm)
	}
}

func TestDecodeWAVPCM16StereoDownmix(t *testing.T) {
	// (1000,-1000) averages to 0, (3000,1000) to 2000.
	stereo := []byte{0xE8, 0x03, 0x18, 0xFC, 0xB8, 0x0B, 0xE8, 0x03}
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(stereo)))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint32(8000))
	_ = binary.Write(&b, binary.LittleEndian, uint32(8000*4))
	_ = binary.Write(&b, binary.LittleEndian, uint16(4))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(stereo)))
	b.Write(stereo)

	got, sr, err := DecodeWAVPCM16(b.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if sr != 8000 || len(got) != 4 {
		t.Fatalf("DecodeWAVPCM16() len=%d sr=%d, want 4 @ 8000", len(got), sr)
	}
	s1 := int16(binary.LittleEndian.Uint16(got[0:2]))
	s2 := int16(binary.LittleEndian.Uint16(got[2:4]))
	if s1 != 0 || s2 != 2000 {
		t.Fatalf("samples = [%d %d], want [0 2000]", s1, s2)
	}
}

func TestDecodeWAVPCM16Rejects(t *testing.T) {
	if _, _, err := DecodeWAVPCM16([]byte("not a wav")); !errors.Is(err, ErrUnsupportedWAV) {
		t.Fatalf("DecodeWAVPCM16(garbage) error = %v, want ErrUnsupportedWAV", err)
	}
}
