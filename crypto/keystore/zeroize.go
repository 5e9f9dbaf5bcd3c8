package keystore

import "runtime"

// zeroize overwrites private key material with zeros. The garbage
// collector gives no timing guarantee, so identities are wiped
// explicitly when the daemon shuts down.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
