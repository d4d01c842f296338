package audio

// G.711 mu-law codec for 8 kHz telephony media streams.

const muLawBias = 0x84

// DecodeMuLaw expands mu-law samples into PCM16LE bytes.
func DecodeMuLaw(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		sample := decodeMuLawSample(b)
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
	return pcm
}

// EncodeMuLaw compresses PCM16LE bytes into mu-law samples. A trailing odd
// byte is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	n := len(pcm) / 2
	mulaw := make([]byte, n)
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		mulaw[i] = encodeMuLawSample(sample)
	}
	return mulaw
}

func decodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := (int16(mantissa)<<3 + muLawBias) << exponent
	sample -= muLawBias
	if sign != 0 {
		return -sample
	}
	return sample
}

func encodeMuLawSample(sample int16) byte {
	sign := byte(0)
	if sample < 0 {
		sign = 0x80
		if sample == -32768 {
			sample = -32767
		}
		sample = -sample
	}

	value := int32(sample) + muLawBias
	if value > 0x7FFF {
		value = 0x7FFF
	}

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && value&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((value >> (exponent + 3)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}
