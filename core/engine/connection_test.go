package engine

import (
	"testing"

	"golang.org/x/sys/unix"
)

// socketpairFDs returns two connected, non-blocking fds for exercising
// Connection.flush against real sockets instead of a syscall mock.
func socketpairFDs(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("setnonblock: %v", err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		t.Fatalf("setnonblock: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestConnectionSetFDAndReset(t *testing.T) {
	fd, _ := socketpairFDs(t)

	c := newConnection()
	c.SetFD(fd)

	if connState(c.state.Load()) != StateReading {
		t.Errorf("expected StateReading after SetFD, got %d", c.state.Load())
	}
	if !c.active || !c.keepAlive {
		t.Error("expected a freshly bound connection to be active and keep-alive")
	}

	c.pending.Add(struct{}{})
	c.writeBuf = append(c.writeBuf, 'x')
	c.Reset()

	if c.active || c.keepAlive || c.closeAfterFlush {
		t.Error("expected Reset to clear active/keepAlive/closeAfterFlush")
	}
	if c.pending.Length() != 0 {
		t.Errorf("expected Reset to drain pending, got length %d", c.pending.Length())
	}
	if len(c.writeBuf) != 0 {
		t.Errorf("expected Reset to truncate writeBuf, got len %d", len(c.writeBuf))
	}
}

func TestConnectionAppendResponseAndFlush(t *testing.T) {
	fd, peer := socketpairFDs(t)

	c := newConnection()
	c.SetFD(fd)

	buf, exceeded := c.appendResponse([]byte("hello"))
	if exceeded {
		t.Fatal("did not expect the write buffer cap to be exceeded")
	}
	if string(buf) != "hello" {
		t.Errorf("expected write buffer to contain the appended response, got %q", buf)
	}
	if connState(c.state.Load()) != StateReadingAndWriting {
		t.Errorf("expected StateReadingAndWriting once bytes are buffered")
	}

	wouldBlock, closed, err := c.flush()
	if err != nil || closed || wouldBlock {
		t.Fatalf("unexpected flush result: wouldBlock=%v closed=%v err=%v", wouldBlock, closed, err)
	}
	if connState(c.state.Load()) != StateReading {
		t.Error("expected state to return to StateReading once the write buffer drains")
	}

	got := make([]byte, 16)
	n, err := unix.Read(peer, got)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(got[:n]) != "hello" {
		t.Errorf("expected peer to receive 'hello', got %q", got[:n])
	}
}

func TestConnectionAppendResponseAfterCloseIsNoop(t *testing.T) {
	fd, _ := socketpairFDs(t)

	c := newConnection()
	c.SetFD(fd)
	c.markClosed()

	if buf, exceeded := c.appendResponse([]byte("too late")); buf != nil || exceeded {
		t.Errorf("expected nil, false from appendResponse on a closed connection, got %q, %v", buf, exceeded)
	}
}

func TestConnectionAppendResponseExceedsCapClosesConnection(t *testing.T) {
	fd, _ := socketpairFDs(t)

	c := newConnection()
	c.SetFD(fd)
	c.maxWriteBufferBytes = 8

	buf, exceeded := c.appendResponse([]byte("this response is far longer than the cap"))
	if !exceeded {
		t.Fatal("expected exceeding the write buffer cap to be reported")
	}
	if buf != nil {
		t.Errorf("expected a nil buffer once the cap is exceeded, got %q", buf)
	}
	if !c.isClosed() {
		t.Error("expected the connection to be marked Closed once the cap is exceeded")
	}
}

func TestConnectionOutOfOrderWorkerAppendsPreserveCompletionOrder(t *testing.T) {
	// Two "workers" finish out of arrival order; appendResponse records
	// completion order, not submission order, matching the documented
	// allowance for cross-worker reordering.
	fd, peer := socketpairFDs(t)

	c := newConnection()
	c.SetFD(fd)

	c.appendResponse([]byte("second-finished-first"))
	c.appendResponse([]byte("first-finished-second"))

	if _, closed, err := c.flush(); err != nil || closed {
		t.Fatalf("unexpected flush error: %v closed=%v", err, closed)
	}

	got := make([]byte, 64)
	n, err := unix.Read(peer, got)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	want := "second-finished-firstfirst-finished-second"
	if string(got[:n]) != want {
		t.Errorf("expected completion-order bytes %q, got %q", want, got[:n])
	}
}
