package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TraceID correlates every backend request of one confirmation attempt.
// It is opaque to the server.
type TraceID string

const traceRandomLen = 11

// NewTraceID mints trade_<epoch-ms>_<11-char base36 random>
func NewTraceID(now time.Time) TraceID {
	id := uuid.New()
	random := new(big.Int).SetBytes(id[:]).Text(36)
	if len(random) < traceRandomLen {
		random = strings.Repeat("0", traceRandomLen-len(random)) + random
	}
	return TraceID(fmt.Sprintf("trade_%d_%s", now.UnixMilli(), random[len(random)-traceRandomLen:]))
}

func (t TraceID) String() string { return string(t) }

// Short is the abbreviated form shown in the terminal
func (t TraceID) Short() string {
	s := string(t)
	if len(s) <= 12 {
		return s
	}
	return "…" + s[len(s)-8:]
}
