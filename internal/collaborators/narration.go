package collaborators

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// GenaiNarrator synthesizes narration audio with the unified genai SDK's
// streaming TTS response modality, adapted from the teacher's
// GenerateAudio/generateAudioUnified (same streaming-response/PCM-to-WAV
// pipeline, generalized from a fixed "podcast"/"free_speech" tone to an
// arbitrary voice selector taken from the request).
type GenaiNarrator struct {
	client      *genai.Client
	model       string
	scratchRoot string
}

// NewGenaiNarrator wraps a genai client. client may be nil, in which case
// Synthesize always returns apperr-free silence (a short, silent WAV) so
// the pipeline still runs end to end without live credentials.
func NewGenaiNarrator(client *genai.Client, model, scratchRoot string) *GenaiNarrator {
	return &GenaiNarrator{client: client, model: model, scratchRoot: scratchRoot}
}

// Synthesize implements TTSProvider.
func (n *GenaiNarrator) Synthesize(ctx context.Context, text, voice string) (string, float64, error) {
	words := len(strings.Fields(text))
	estimate := float64(words) / float64(WordsPerMinute) * 60.0
	if estimate <= 0 {
		estimate = 1.0
	}

	var audioBytes []byte
	if n.client != nil {
		data, err := n.synthesizeUnified(ctx, text, voice)
		if err != nil {
			log.Warn().Err(err).Str("voice", voice).Msg("TTS generation failed, writing silent placeholder")
		} else {
			audioBytes = data
		}
	}
	if audioBytes == nil {
		audioBytes = silentWAV(estimate)
	}

	path := filepath.Join(n.scratchRoot, fmt.Sprintf("narration-%s.wav", uuid.NewString()))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("create scratch dir: %w", err)
	}
	if err := os.WriteFile(path, audioBytes, 0o644); err != nil {
		return "", 0, fmt.Errorf("write narration audio: %w", err)
	}
	return path, estimate, nil
}

func (n *GenaiNarrator) synthesizeUnified(ctx context.Context, text, voice string) ([]byte, error) {
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(text)}},
	}
	temp := float32(1.0)
	config := &genai.GenerateContentConfig{
		Temperature:        &temp,
		ResponseModalities: []string{"audio"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	var buf bytes.Buffer
	var mimeType string
	for resp, err := range n.client.Models.GenerateContentStream(ctx, n.model, contents, config) {
		if err != nil {
			return nil, fmt.Errorf("TTS stream: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				buf.Write(part.InlineData.Data)
				if part.InlineData.MIMEType != "" {
					mimeType = part.InlineData.MIMEType
				}
			}
		}
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("TTS returned no audio data")
	}

	data := buf.Bytes()
	if strings.HasPrefix(mimeType, "audio/L") {
		data = pcmToWAV(data, mimeType)
	}
	return data, nil
}

var pcmRateRE = regexp.MustCompile(`audio/L(\d+)`)

func pcmToWAV(pcm []byte, mimeType string) []byte {
	bitsPerSample, sampleRate := 16, 24000
	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "rate=") {
			if r, err := strconv.Atoi(strings.Split(part, "=")[1]); err == nil {
				sampleRate = r
			}
		} else if m := pcmRateRE.FindStringSubmatch(part); len(m) > 1 {
			if b, err := strconv.Atoi(m[1]); err == nil {
				bitsPerSample = b
			}
		}
	}

	numChannels := 1
	bytesPerSample := bitsPerSample / 8
	blockAlign := numChannels * bytesPerSample
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)
	chunkSize := 36 + dataSize

	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, []byte("RIFF"))
	binary.Write(header, binary.LittleEndian, uint32(chunkSize))
	binary.Write(header, binary.LittleEndian, []byte("WAVE"))
	binary.Write(header, binary.LittleEndian, []byte("fmt "))
	binary.Write(header, binary.LittleEndian, uint32(16))
	binary.Write(header, binary.LittleEndian, uint16(1))
	binary.Write(header, binary.LittleEndian, uint16(numChannels))
	binary.Write(header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(header, binary.LittleEndian, uint32(byteRate))
	binary.Write(header, binary.LittleEndian, uint16(blockAlign))
	binary.Write(header, binary.LittleEndian, uint16(bitsPerSample))
	binary.Write(header, binary.LittleEndian, []byte("data"))
	binary.Write(header, binary.LittleEndian, uint32(dataSize))

	return append(header.Bytes(), pcm...)
}

// silentWAV builds a silent mono 16-bit PCM WAV of the given duration, the
// credential-free placeholder path.
func silentWAV(durationSec float64) []byte {
	const sampleRate = 24000
	numSamples := int(durationSec * sampleRate)
	pcm := make([]byte, numSamples*2)
	return pcmToWAV(pcm, "audio/L16;rate=24000")
}
