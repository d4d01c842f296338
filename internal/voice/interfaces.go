package voice

import (
	"context"
	"io"
)

// Transcriber converts uploaded audio into text. An empty string with a nil
// error means no usable speech was detected.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer converts text into an audio stream. The second return value is
// the stream's media type.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error)
}
