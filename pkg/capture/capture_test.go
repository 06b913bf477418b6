package capture

import (
	"testing"
)

func TestQuantizeMonoClampsToInt16Range(t *testing.T) {
	samples := []float32{0, 1.0, -1.0, 2.0, -2.0, 0.5}
	out := quantizeMono(samples)

	if len(out) != len(samples)*2 {
		t.Fatalf("len(out) = %d, want %d", len(out), len(samples)*2)
	}

	decode := func(i int) int16 {
		return int16(uint16(out[2*i]) | uint16(out[2*i+1])<<8)
	}

	if decode(0) != 0 {
		t.Errorf("sample 0: got %d, want 0", decode(0))
	}
	if decode(1) != 32767 {
		t.Errorf("sample 1 (clamped +1.0): got %d, want 32767", decode(1))
	}
	if decode(2) != -32768 {
		t.Errorf("sample 2 (clamped -1.0): got %d, want -32768", decode(2))
	}
	if decode(3) != 32767 {
		t.Errorf("sample 3 (over-range +2.0): got %d, want clamped 32767", decode(3))
	}
	if decode(4) != -32768 {
		t.Errorf("sample 4 (over-range -2.0): got %d, want clamped -32768", decode(4))
	}
}
	src := mock.NewSource(48000)
	open := func(requestedRate int) (Source, error) { return src, nil }
	p := New(open, 4, nil)

	var mu sync.Mutex
	var frames []Frame
	actual, err := p.Start(func(f Frame) error {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
		return nil
	}, 16000)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if actual != 48000 {
		t.Fatalf("actual rate = %d, want 48000 (the device's rate, not the request)", actual)
	}

	src.Feed([]float32{0, 0.5, -0.5, 1.0})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(frames) == 0 {
		t.Fatal("no frames delivered")
	}
	if frames[0].SampleRate != 48000 {
		t.Errorf("frame sample rate = %d, want 48000", frames[0].SampleRate)
	}
	if len(frames[0].Data) != 8 {
		t.Errorf("frame data len = %d, want 8 (4 samples * 2 bytes)", len(frames[0].Data))
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSetMutedReflectsOnSubsequentFrames(t *testing.T) {
	src := mock.NewSource(16000)
	open := func(requestedRate int) (Source, error) { return src, nil }
	p := New(open, 4, nil)

	if p.Muted() {
		t.Fatal("new Pipeline must start unmuted")
	}

	var mu sync.Mutex
	var frames []Frame
	_, err := p.Start(func(f Frame) error {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
		return nil
	}, 16000)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	p.SetMuted(true)
	if !p.Muted() {
		t.Fatal("Muted() must report true after SetMuted(true)")
	}

	src.Feed([]float32{0, 0.5, -0.5, 1.0})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(frames) == 0 {
		t.Fatal("no frames delivered")
	}
	if !frames[0].IsMuted {
		t.Error("frame delivered after SetMuted(true) must have IsMuted = true")
	}
}

func TestStartTwiceFailsAlreadyCapturing(t *testing.T) {
	src := mock.NewSource(16000)
	open := func(requestedRate int) (Source, error) { return src, nil }
	p := New(open, 4, nil)

	if _, err := p.Start(func(Frame) error { return nil }, 16000); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer p.Stop()

	_, err := p.Start(func(Frame) error { return nil }, 16000)
	if !voxerr.Is(err, voxerr.KindAlreadyCapturing) {
		t.Fatalf("err = %v, want already-capturing", err)
	}
}

func TestStartSurfacesPermissionDenied(t *testing.T) {
	p := New(mock.OpenDenied, 4, nil)
	_, err := p.Start(func(Frame) error { return nil }, 16000)
	if !voxerr.Is(err, voxerr.KindPermissionDenied) {
		t.Fatalf("err = %v, want permission-denied", err)
	}
}

func TestStartSurfacesNoDevice(t *testing.T) {
	p := New(mock.OpenNoDevice, 4, nil)
	_, err := p.Start(func(Frame) error { return nil }, 16000)
	if !voxerr.Is(err, voxerr.KindNoDevice) {
		t.Fatalf("err = %v, want no-device", err)
	}
}

func TestFrameHandlerErrorDoesNotStopCapture(t *testing.T) {
	src := mock.NewSource(16000)
	open := func(requestedRate int) (Source, error) { return src, nil }
	p := New(open, 2, nil)

	var mu sync.Mutex
	count := 0
	_, err := p.Start(func(Frame) error {
		mu.Lock()
		count++
		mu.Unlock()
		return errors.New("consumer rejected")
	}, 16000)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	src.Feed([]float32{0.1, 0.2})
	src.Feed([]float32{0.3, 0.4})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := count
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if count < 2 {
		t.Fatalf("count = %d, want at least 2 frames delivered despite handler errors", count)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	src := mock.NewSource(16000)
	open := func(requestedRate int) (Source, error) { return src, nil }
	p := New(open, 4, nil)

	if _, err := p.Start(func(Frame) error { return nil }, 16000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
