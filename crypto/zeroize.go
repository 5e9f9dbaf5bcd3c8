package crypto

import "runtime"

// zeroize overwrites key material with zeros once it is no longer needed.
// The garbage collector gives no timing guarantee, so shared secrets,
// derived keys, and ephemeral scalars are cleared explicitly.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b) // Prevent dead code elimination
}
