package artnet

import (
	"bytes"
	"testing"

	"Pixmux/model"
)

var rgb8 = model.UniverseConfig{ChannelOrder: model.OrderRGB, BitDepth: 8}

func deltaCfg() DeltaConfig {
	return DeltaConfig{Enabled: true, Threshold: 8, Threshold16: 2048, FullFrameInterval: 30}
}

func TestFirstFrameIsFull(t *testing.T) {
	enc := NewDeltaEncoder(deltaCfg())
	if u := enc.Encode(0, make([]byte, 30), rgb8); u.Kind != UpdateFull {
		t.Fatalf("first frame = %v", u.Kind)
	}
}

func TestUnchangedBufferIsNoop(t *testing.T) {
	enc := NewDeltaEncoder(deltaCfg())
	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	enc.Encode(0, buf, rgb8)

	for i := 0; i < 10; i++ {
		u := enc.Encode(0, append([]byte(nil), buf...), rgb8)
		if u.Kind != UpdateNone || len(u.Changes) != 0 || u.Data != nil {
			t.Fatalf("frame %d: %+v", i, u)
		}
	}
}

func TestSinglePixelChangeProducesDelta(t *testing.T) {
	enc := NewDeltaEncoder(deltaCfg())
	prev := make([]byte, 10*3)
	enc.Encode(0, prev, rgb8)

	next := make([]byte, 10*3)
	next[4*3+1] = 10
	u := enc.Encode(0, next, rgb8)
	if u.Kind != UpdateDelta {
		t.Fatalf("kind = %v", u.Kind)
	}
	if len(u.Changes) != 1 || u.Changes[0].Index != 4 || !bytes.Equal(u.Changes[0].Values, []byte{0, 10, 0}) {
		t.Fatalf("changes = %+v", u.Changes)
	}
}

func TestBelowThresholdIgnored(t *testing.T) {
	enc := NewDeltaEncoder(deltaCfg())
	enc.Encode(0, make([]byte, 9), rgb8)
	next := []byte{8, 0, 0, 0, 0, 0, 0, 0, 0}
	if u := enc.Encode(0, next, rgb8); u.Kind != UpdateNone {
		t.Errorf("delta of exactly the threshold should be ignored, got %v", u.Kind)
	}
}

func TestMostPixelsChangedSendsFull(t *testing.T) {
	enc := NewDeltaEncoder(deltaCfg())
	enc.Encode(0, make([]byte, 10*3), rgb8)

	next := make([]byte, 10*3)
	for p := 0; p < 8; p++ {
		next[p*3] = 100
	}
	if u := enc.Encode(0, next, rgb8); u.Kind != UpdateFull || !bytes.Equal(u.Data, next) {
		t.Fatalf("80%% changed: %v", u.Kind)
	}

	// 7/10 低于 80%
	next2 := append([]byte(nil), next...)
	for p := 0; p < 7; p++ {
		next2[p*3+2] = 200
	}
	if u := enc.Encode(0, next2, rgb8); u.Kind != UpdateDelta || len(u.Changes) != 7 {
		t.Fatalf("70%% changed: %v with %d changes", u.Kind, len(u.Changes))
	}
}

func TestFullFrameInterval(t *testing.T) {
	enc := NewDeltaEncoder(deltaCfg())
	buf := make([]byte, 9)

	var fulls []int
	for n := 1; n <= 95; n++ {
		if enc.Encode(0, buf, rgb8).Kind == UpdateFull {
			fulls = append(fulls, n)
		}
	}
	want := []int{1, 30, 60, 90}
	if len(fulls) != len(want) {
		t.Fatalf("full frames at %v, want %v", fulls, want)
	}
	for i := range want {
		if fulls[i] != want[i] {
			t.Fatalf("full frames at %v, want %v", fulls, want)
		}
	}
	if c, _ := enc.Cache(0); c.FramesSinceFullSync() != 5 {
		t.Errorf("frames since full sync = %d", c.FramesSinceFullSync())
	}
}

func TestLastSentTracksNewBuffer(t *testing.T) {
	enc := NewDeltaEncoder(deltaCfg())
	enc.Encode(0, make([]byte, 9), rgb8)
	next := []byte{3, 0, 0, 0, 0, 0, 0, 0, 0}
	enc.Encode(0, next, rgb8)
	next[0] = 99
	c, _ := enc.Cache(0)
	if c.lastSent[0] != 3 {
		t.Errorf("cache must copy the buffer, got %d", c.lastSent[0])
	}
}

func TestInvalidateAndLengthChangeForceFull(t *testing.T) {
	enc := NewDeltaEncoder(deltaCfg())
	enc.Encode(0, make([]byte, 9), rgb8)
	enc.Invalidate()
	if u := enc.Encode(0, make([]byte, 9), rgb8); u.Kind != UpdateFull {
		t.Errorf("after invalidate = %v", u.Kind)
	}
	if u := enc.Encode(0, make([]byte, 12), rgb8); u.Kind != UpdateFull {
		t.Errorf("after length change = %v", u.Kind)
	}
}

func TestDisabledAlwaysFull(t *testing.T) {
	enc := NewDeltaEncoder(DeltaConfig{Enabled: false})
	for i := 0; i < 3; i++ {
		if u := enc.Encode(0, make([]byte, 9), rgb8); u.Kind != UpdateFull {
			t.Fatalf("disabled encoder frame %d = %v", i, u.Kind)
		}
	}
}

func TestSixteenBitThreshold(t *testing.T) {
	cfg := model.UniverseConfig{ChannelOrder: model.OrderRGB, BitDepth: 16}
	enc := NewDeltaEncoder(deltaCfg())
	enc.Encode(0, make([]byte, 4*6), cfg)

	small := make([]byte, 4*6)
	small[1] = 0xFF // 255 < 2048
	if u := enc.Encode(0, small, cfg); u.Kind != UpdateNone {
		t.Errorf("small 16-bit change = %v", u.Kind)
	}

	big := make([]byte, 4*6)
	big[6] = 0x10 // 第 2 个像素 R = 4096
	u := enc.Encode(0, big, cfg)
	if u.Kind != UpdateDelta || len(u.Changes) != 1 || u.Changes[0].Index != 1 {
		t.Errorf("16-bit delta = %+v", u)
	}
}

func TestDecoderReconstructsStream(t *testing.T) {
	// 阈值为 0 时接收端状态与发送端完全一致
	enc := NewDeltaEncoder(DeltaConfig{Enabled: true, FullFrameInterval: 30})
	dec := NewDeltaDecoder()
	state := make([]byte, 20*3)

	for frame := 0; frame < 40; frame++ {
		state[(frame%20)*3] = byte(frame * 13)
		u := enc.Encode(2, state, rgb8)
		var pkt []byte
		switch u.Kind {
		case UpdateNone:
			continue
		case UpdateDelta:
			pkt = BuildDelta(1, 2, u.BytesPerPixel, u.Changes)
		default:
			pkt = BuildDmx(1, 2, u.Data)
		}
		p, err := Parse(pkt)
		if err != nil {
			t.Fatal(err)
		}
		_, got, err := dec.Apply(p)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, state) {
			t.Fatalf("frame %d: decoder state diverged", frame)
		}
	}
}

func TestDecoderDropsDmxPadding(t *testing.T) {
	three := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	p, err := Parse(BuildDmx(1, 0, three))
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Data) != 10 {
		t.Fatalf("odd payload should be padded on the wire, len = %d", len(p.Data))
	}

	known := NewDeltaDecoder()
	known.SetPixelSize(0, 3)
	if _, got, _ := known.Apply(p); !bytes.Equal(got, three) {
		t.Errorf("state with known pixel size = %v", got)
	}

	// 像素宽度从后续的增量包得知
	learned := NewDeltaDecoder()
	if _, got, _ := learned.Apply(p); len(got) != 10 {
		t.Fatalf("unknown pixel size keeps the wire length, got %d", len(got))
	}
	delta, err := Parse(BuildDelta(2, 0, 3, []PixelChange{{Index: 2, Values: []byte{70, 80, 90}}}))
	if err != nil {
		t.Fatal(err)
	}
	_, got, err := learned.Apply(delta)
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{1, 2, 3, 4, 5, 6, 70, 80, 90}; !bytes.Equal(got, want) {
		t.Errorf("state after delta = %v, want %v", got, want)
	}
}

func TestDeltaConfigValidate(t *testing.T) {
	if err := deltaCfg().Validate(); err != nil {
		t.Fatal(err)
	}
	bad := []DeltaConfig{{Threshold: -1}, {Threshold: 256}, {Threshold16: 70000}, {FullFrameInterval: -3}}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("%+v should be invalid", c)
		}
	}
}
