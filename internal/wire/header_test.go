package wire

import "testing"

func TestHeaderRoundTrip32(t *testing.T) {
	cases := []Header{
		{Sec: 0, Usec: 0, PacketCount: 1},
		{Sec: 1700000000, Usec: 999999, PacketCount: 1 << 20},
		{Sec: -1, Usec: -1, PacketCount: -1},
	}
	for _, h := range cases {
		buf := make([]byte, Header32Size)
		h.Encode32(buf)
		got := Decode32(buf)
		if got != h {
			t.Errorf("Decode32(Encode32(%+v)) = %+v", h, got)
		}
	}
}

func TestHeaderRoundTrip64(t *testing.T) {
	cases := []Header{
		{Sec: 0, Usec: 0, PacketCount: 1},
		{Sec: 1700000000, Usec: 999999, PacketCount: 1 << 40},
		{Sec: -1, Usec: -1, PacketCount: -1},
	}
	for _, h := range cases {
		buf := make([]byte, Header64Size)
		h.Encode64(buf)
		got := Decode64(buf)
		if got != h {
			t.Errorf("Decode64(Encode64(%+v)) = %+v", h, got)
		}
	}
}

func TestEncodeDecodeSelectsLayout(t *testing.T) {
	h := Header{Sec: 10, Usec: 20, PacketCount: 30}

	buf32 := Encode(h, false)
	if len(buf32) != Header32Size {
		t.Fatalf("32-bit encode length = %d, want %d", len(buf32), Header32Size)
	}
	if Decode(buf32, false) != h {
		t.Errorf("Decode(Encode(h, false), false) = %+v, want %+v", Decode(buf32, false), h)
	}

	buf64 := Encode(h, true)
	if len(buf64) != Header64Size {
		t.Fatalf("64-bit encode length = %d, want %d", len(buf64), Header64Size)
	}
	if Decode(buf64, true) != h {
		t.Errorf("Decode(Encode(h, true), true) = %+v, want %+v", Decode(buf64, true), h)
	}
}
