package esm

import (
	"bytes"
	"net"
	"testing"
)

func TestFrameConnRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fa, fb := newFrameConn(a), newFrameConn(b)

	payloads := [][]byte{
		[]byte(`{"t":"id","c":[]}`),
		[]byte(`{"t":"m","c":[1,2,3]}`),
		{},
	}

	errc := make(chan error, 1)
	go func() {
		for _, p := range payloads {
			if err := fa.WriteFrame(p); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	for i, want := range payloads {
		got, err := fb.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func TestFrameConnRejectsOversizeWrite(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fc := newFrameConn(a)
	if err := fc.WriteFrame(make([]byte, maxFrameSize+1)); err == nil {
		t.Error("WriteFrame accepted a frame over the size limit")
	}
}
