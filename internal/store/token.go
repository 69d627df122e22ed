package store

import (
	"fmt"
	"strconv"
)

// Resume tokens are the change-log sequence number in decimal. Opaque
// to callers; only this package reads them back.

func tokenFromSeq(seq uint64) ResumeToken {
	return ResumeToken(strconv.FormatUint(seq, 10))
}

func seqFromToken(token ResumeToken) (uint64, error) {
	seq, err := strconv.ParseUint(string(token), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed resume token %q: %w", token, err)
	}
	return seq, nil
}
