package control

import "math/rand"

// CookieLen is the length in bytes of the session cookie.
const CookieLen = 37

// cookieAlphabet is the 32-character alphabet cookies are drawn from.
const cookieAlphabet = "abcdefghijklmnopqrstuvwxyz234567"

// MakeCookie returns 37 ASCII bytes drawn uniformly from cookieAlphabet
// using a non-cryptographic PRNG. The cookie is session identity, not an
// authorization token (spec §4.2, §8 S5), so math/rand is the right tool
// here rather than crypto/rand.
func MakeCookie() [CookieLen]byte {
	var out [CookieLen]byte
	for i := range out {
		out[i] = cookieAlphabet[rand.Intn(len(cookieAlphabet))]
	}
	return out
}
