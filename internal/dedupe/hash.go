// Package dedupe computes the content hash that makes re-ingestion idempotent.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/normalize"
)

// TimeLayout is the fixed rendering of start timestamps in hash input.
const TimeLayout = "2006-01-02T15:04:05Z"

const sep = "\x1f"

// Hash returns the hex sha256 of rec's identity fields. Bytes, durations and
// payload are left out: operators re-export the same event with cosmetic
// differences and those re-exports must collapse into one record.
func Hash(rec normalize.Record) string {
	switch {
	case rec.Call != nil:
		return CallHash(rec.Call)
	case rec.Session != nil:
		return SessionHash(rec.Session)
	case rec.Scan != nil:
		return ScanHash(rec.Scan)
	}
	return ""
}

// CallHash hashes operator, the three number fields, start and primary cell.
func CallHash(c *model.CallRecord) string {
	return digest(
		string(c.Operator),
		c.OriginatingNumber,
		c.TerminatingNumber,
		c.TargetNumber,
		stamp(c.StartedAt),
		c.PrimaryCell(),
	)
}

// SessionHash uses the call field order with the subscriber as the only number.
func SessionHash(s *model.SessionRecord) string {
	return digest(
		string(s.Operator),
		s.SubscriberNumber,
		"",
		"",
		stamp(s.StartedAt),
		s.CellID,
	)
}

// ScanHash identifies a scan observation within its mission.
func ScanHash(s *model.ScanRecord) string {
	return digest(
		string(model.OperatorHunter),
		s.MissionID,
		strconv.FormatInt(s.FileOriginSequence, 10),
		s.PointLabel,
		stamp(s.ObservedAt),
		s.CellID,
		s.LAC,
	)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, sep)))
	return hex.EncodeToString(sum[:])
}
