package call

import (
	"time"

	"github.com/voidisnull/rw-agent/internal/audio"
)

// energyThreshold is the mean absolute PCM amplitude above which a 20ms frame
// counts as speech. Telephone line noise sits well below this.
const energyThreshold = 300

// maxLeadingSilence caps how much pre-speech audio is retained, so a long
// quiet stretch before the caller speaks does not bloat the utterance.
const maxLeadingSilence = 8000 // one second of 8 kHz mu-law

// endpointer buffers inbound mu-law frames and cuts an utterance once the
// caller has been quiet for the configured hold after speaking.
type endpointer struct {
	hold      time.Duration
	buf       []byte
	voiced    bool
	lastVoice time.Time
	now       func() time.Time
}

func newEndpointer(hold time.Duration) *endpointer {
	if hold <= 0 {
		hold = 700 * time.Millisecond
	}
	return &endpointer{hold: hold, now: time.Now}
}

// push appends a mu-law frame. When the frame closes an utterance the buffered
// mu-law audio is returned and the endpointer resets.
func (e *endpointer) push(frame []byte) ([]byte, bool) {
	e.buf = append(e.buf, frame...)

	if frameVoiced(frame) {
		e.voiced = true
		e.lastVoice = e.now()
		return nil, false
	}

	if !e.voiced {
		if len(e.buf) > maxLeadingSilence {
			e.buf = e.buf[len(e.buf)-maxLeadingSilence:]
		}
		return nil, false
	}

	if e.now().Sub(e.lastVoice) < e.hold {
		return nil, false
	}

	utterance := e.buf
	e.buf = nil
	e.voiced = false
	return utterance, true
}

// flush returns whatever voiced audio remains, for stream teardown.
func (e *endpointer) flush() ([]byte, bool) {
	if !e.voiced || len(e.buf) == 0 {
		return nil, false
	}
	utterance := e.buf
	e.buf = nil
	e.voiced = false
	return utterance, true
}

func frameVoiced(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	pcm := audio.DecodeMuLaw(frame)
	var sum int64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int32(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		if sample < 0 {
			sample = -sample
		}
		sum += int64(sample)
	}
	samples := int64(len(pcm) / 2)
	if samples == 0 {
		return false
	}
	return sum/samples > energyThreshold
}
