package transport

import (
	"errors"
	"testing"
	"time"
)

var errMismatch = errors.New("data mismatch")

func TestPipe_AutoProcess(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	if !p.AutoProcess() {
		t.Fatal("AutoProcess should be true by default")
	}

	testData := []byte("auto-delivered message")
	done := make(chan error, 1)

	go func() {
		buf := make([]byte, 100)
		n, err := p.Conn1().Read(buf)
		if err != nil {
			done <- err
			return
		}
		if string(buf[:n]) != string(testData) {
			done <- errMismatch
			return
		}
		done <- nil
	}()

	time.Sleep(10 * time.Millisecond)
	p.Conn0().Write(testData)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout - auto-process may not be working")
	}
}

func TestPipe_ManualProcess(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	defer p.Close()

	if p.AutoProcess() {
		t.Fatal("AutoProcess should be false")
	}

	testData := []byte("manually-delivered message")
	done := make(chan error, 1)

	go func() {
		buf := make([]byte, 100)
		n, err := p.Conn1().Read(buf)
		if err != nil {
			done <- err
			return
		}
		if string(buf[:n]) != string(testData) {
			done <- errMismatch
			return
		}
		done <- nil
	}()

	time.Sleep(10 * time.Millisecond)
	p.Conn0().Write(testData)

	select {
	case <-done:
		t.Fatal("message delivered without Process() - auto-process may be on")
	case <-time.After(50 * time.Millisecond):
	}

	p.Process()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout after Process()")
	}
}

func TestPipe_Bidirectional(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	done0 := make(chan string, 1)
	done1 := make(chan string, 1)

	go func() {
		buf := make([]byte, 100)
		n, _ := p.Conn0().Read(buf)
		done0 <- string(buf[:n])
	}()
	go func() {
		buf := make([]byte, 100)
		n, _ := p.Conn1().Read(buf)
		done1 <- string(buf[:n])
	}()

	time.Sleep(10 * time.Millisecond)

	p.Conn0().Write([]byte("from 0"))
	p.Conn1().Write([]byte("from 1"))

	select {
	case msg := <-done0:
		if msg != "from 1" {
			t.Errorf("conn0 got %q, want %q", msg, "from 1")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for conn0 read")
	}

	select {
	case msg := <-done1:
		if msg != "from 0" {
			t.Errorf("conn1 got %q, want %q", msg, "from 0")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for conn1 read")
	}
}

func TestNetworkCondition_Delay(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	p.SetCondition(NetworkCondition{DelayMin: 20 * time.Millisecond, DelayMax: 20 * time.Millisecond})
	got := p.Condition()
	if got.DelayMin != 20*time.Millisecond {
		t.Fatalf("Condition() = %+v", got)
	}
}

func TestPipe_Tick(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	defer p.Close()

	msg1 := make(chan string, 1)
	go func() {
		buf := make([]byte, 100)
		n, _ := p.Conn1().Read(buf)
		msg1 <- string(buf[:n])
	}()

	time.Sleep(10 * time.Millisecond)
	p.Conn0().Write([]byte("msg1"))

	if p.Tick() == 0 {
		t.Error("Tick should return > 0 when a write is pending")
	}

	select {
	case m := <-msg1:
		if m != "msg1" {
			t.Errorf("message = %q, want %q", m, "msg1")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPipe_Close(t *testing.T) {
	p := NewPipe()

	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestPipe_SetAutoProcess(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	if !p.AutoProcess() {
		t.Error("AutoProcess should be true by default")
	}

	p.SetAutoProcess(false)
	if p.AutoProcess() {
		t.Error("AutoProcess should be false after disabling")
	}

	p.SetAutoProcess(true)
	if !p.AutoProcess() {
		t.Error("AutoProcess should be true after re-enabling")
	}
}

func TestPipeConfig_Defaults(t *testing.T) {
	config := DefaultPipeConfig()

	if !config.AutoProcess {
		t.Error("AutoProcess should be true by default")
	}
	if config.ProcessInterval != 1*time.Millisecond {
		t.Errorf("ProcessInterval = %v, want 1ms", config.ProcessInterval)
	}
}
