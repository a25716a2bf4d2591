package control

import "testing"

func TestCookieShape(t *testing.T) {
	const alphabet = "abcdefghijklmnopqrstuvwxyz234567"
	inAlphabet := make(map[byte]bool, len(alphabet))
	for i := 0; i < len(alphabet); i++ {
		inAlphabet[alphabet[i]] = true
	}

	for i := 0; i < 100; i++ {
		cookie := MakeCookie()
		if len(cookie) != CookieLen {
			t.Fatalf("len(cookie) = %d, want %d", len(cookie), CookieLen)
		}
		for _, b := range cookie {
			if !inAlphabet[b] {
				t.Fatalf("cookie byte %q not in alphabet", b)
			}
		}
	}
}
