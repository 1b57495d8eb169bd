package buildbotci

import (
	"net"
	"testing"
	"time"

	"github.com/lucasnoah/aelitaqueue/internal/log"
	"github.com/lucasnoah/aelitaqueue/internal/pipeline"
)

func TestListen_TranslatesNotifications(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	a := New(1, 100, log.Discard())
	go a.Listen(lis)

	conn, err := net.Dial("tcp", lis.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"phase":"STARTED","scm":{"commit":"abc"}}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := conn.Write([]byte(`{"phase":"COMPLETED","status":"SUCCESS","scm":{"commit":"abc"}}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got []pipeline.Event
	for i := 0; i < 2; i++ {
		select {
		case e := <-a.Events():
			got = append(got, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	if _, ok := got[0].(pipeline.CiBuildStarted); !ok {
		t.Fatalf("expected CiBuildStarted first, got %#v", got[0])
	}
	if _, ok := got[1].(pipeline.CiBuildSucceeded); !ok {
		t.Fatalf("expected CiBuildSucceeded second, got %#v", got[1])
	}
}
