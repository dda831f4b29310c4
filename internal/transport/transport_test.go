package transport

import "testing"

func TestResolveHostPortUsesDefaultPort(t *testing.T) {
	host, port, err := ResolveHostPort("127.0.0.1", 7777)
	if err != nil {
		t.Fatalf("ResolveHostPort: %v", err)
	}
	if host != "127.0.0.1" || port != 7777 {
		t.Fatalf("expected 127.0.0.1:7777, got %s:%d", host, port)
	}
}

func TestResolveHostPortParsesExplicitPort(t *testing.T) {
	host, port, err := ResolveHostPort("127.0.0.1:9001", 7777)
	if err != nil {
		t.Fatalf("ResolveHostPort: %v", err)
	}
	if host != "127.0.0.1" || port != 9001 {
		t.Fatalf("expected 127.0.0.1:9001, got %s:%d", host, port)
	}
}

func TestResolveHostPortRejectsInvalidPort(t *testing.T) {
	if _, _, err := ResolveHostPort("127.0.0.1:notaport", 7777); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestEventTypeString(t *testing.T) {
	cases := map[EventType]string{
		EventConnect:    "connect",
		EventDisconnect: "disconnect",
		EventData:       "data",
		EventType(99):   "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Fatalf("EventType(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
