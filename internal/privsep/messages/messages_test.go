package messages

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/xuoxod/netscan/internal/backend"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	want := []any{
		OpenConnection{Backend: backend.ICMP},
		OpenConnectionReply{ID: 3},
		SendPacket{ID: 3, Pkt: backend.Packet{Seq: 7}, Addr: "192.168.1.1"},
		PacketReply{ID: 3, Pkt: backend.Packet{TTL: 64}, Peer: "192.168.1.1"},
		CloseConnection{ID: 3},
		Shutdown{},
	}
	for _, msg := range want {
		if err := w.Write(msg); err != nil {
			t.Fatalf("Write(%#v) error: %v", msg, err)
		}
	}
	for _, want := range want {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Read() = %#v, want %#v", got, want)
		}
	}
}
