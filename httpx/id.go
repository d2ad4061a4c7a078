package httpx

import (
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"

	"github.com/google/uuid"
)

// requestSeq numbers requests across all servers in the process.
var requestSeq atomic.Uint64

func nextRequestID() uint64 { return requestSeq.Add(1) }

func newConnID() string { return uuid.NewString() }

func genSpanID() string {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err == nil && b != [8]byte{} {
			return hex.EncodeToString(b[:])
		}
	}
}
