package vaultctl

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/server/integrity"
)

// SignHeaders returns the timestamp and signature headers for a request
// made at now.
func SignHeaders(clientID, clientSecret string, now time.Time) (timestamp, signature string) {
	timestamp = strconv.FormatInt(now.UnixMilli(), 10)
	return timestamp, integrity.Sign(clientID, clientSecret, timestamp)
}

func printSignHeaders(w io.Writer, clientID, clientSecret string, now time.Time) {
	ts, sig := SignHeaders(clientID, clientSecret, now)
	fmt.Fprintf(w, "%s: %s\n", common.TimestampHeaderName, ts)
	fmt.Fprintf(w, "%s: %s\n", common.SignatureHeaderName, sig)
}
