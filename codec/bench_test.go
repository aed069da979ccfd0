package codec

import (
	"encoding/json"
	"testing"
)

func benchmarkRoundTrip(b *testing.B, ct CodecType) {
	args := json.RawMessage(`{"by":1}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		frame, err := EncodeCall(ct, "counter.increment", uint32(i), args)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := Decode(frame); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecJSON(b *testing.B) {
	benchmarkRoundTrip(b, CodecTypeJSON)
}

func BenchmarkCodecBinary(b *testing.B) {
	benchmarkRoundTrip(b, CodecTypeBinary)
}
