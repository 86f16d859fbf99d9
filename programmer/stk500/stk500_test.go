package stk500

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// fakeTransport is a canned-response stand-in for a real serial link: it
// records every frame written and answers with the next queued response
// regardless of what was sent, which is enough to exercise Protocol's
// framing without a real bootloader.
type fakeTransport struct {
	writes    [][]byte
	responses [][]byte
	resetN    int
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if len(f.responses) == 0 {
		return 0, errEOF
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	n := copy(p, resp)
	return n, nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) Close() error                        { return nil }
func (f *fakeTransport) SetReadTimeout(d time.Duration) error { return nil }
func (f *fakeTransport) AssertReset(ctx context.Context) error {
	f.resetN++
	return nil
}

type eofError struct{}

func (eofError) Error() string { return "fake transport exhausted" }

var errEOF = eofError{}

// queueOK enqueues a one-byte-at-a-time INSYNC, payload..., OK response
// sequence (command() reads one byte per Read call).
func (f *fakeTransport) queueOK(payload ...byte) {
	f.responses = append(f.responses, []byte{respSTKInsync})
	for _, b := range payload {
		f.responses = append(f.responses, []byte{b})
	}
	f.responses = append(f.responses, []byte{respSTKOk})
}

func TestConnectSucceedsOnFirstSync(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueOK()
	p := New(ft)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ft.resetN != 1 {
		t.Errorf("reset count = %d, want 1", ft.resetN)
	}
	if len(ft.writes) != 1 || !bytes.Equal(ft.writes[0], []byte{cmndSTKGetSync, syncCRCEOP}) {
		t.Errorf("unexpected write: %v", ft.writes)
	}
}

func TestReadSignature(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueOK(0x1e, 0x95, 0x0f)
	p := New(ft)
	sig, err := p.ReadSignature(context.Background())
	if err != nil {
		t.Fatalf("ReadSignature: %v", err)
	}
	if sig != [3]byte{0x1e, 0x95, 0x0f} {
		t.Errorf("ReadSignature = %v", sig)
	}
}

func TestUniversalForwardsOpcode(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueOK(0x42)
	p := New(ft)
	got, err := p.Universal(context.Background(), [4]byte{0x30, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("Universal: %v", err)
	}
	if got != 0x42 {
		t.Errorf("Universal = %#x, want 0x42", got)
	}
	want := []byte{cmndSTKUniversal, 0x30, 0x00, 0x00, 0x00, syncCRCEOP}
	if !bytes.Equal(ft.writes[0], want) {
		t.Errorf("wrote %v, want %v", ft.writes[0], want)
	}
}

func TestCommandFailureSurfaces(t *testing.T) {
	ft := &fakeTransport{}
	ft.responses = [][]byte{{respSTKInsync}, {respSTKFailed}}
	p := New(ft)
	if err := p.ChipErase(context.Background()); err == nil {
		t.Fatal("expected error on STK_FAILED status")
	}
}

func TestNoSyncReported(t *testing.T) {
	ft := &fakeTransport{}
	ft.responses = [][]byte{{respSTKNosync}}
	p := New(ft)
	if err := p.simpleCommand(context.Background(), cmndSTKGetSync); err == nil {
		t.Fatal("expected error on STK_NOSYNC")
	}
}
