package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Operator identifies the source of a record: a mobile carrier export or
// the field reconnaissance scanner.
type Operator string

const (
	OperatorClaro    Operator = "claro"
	OperatorMovistar Operator = "movistar"
	OperatorTigo     Operator = "tigo"
	OperatorWOM      Operator = "wom"
	OperatorHunter   Operator = "hunter" // reconnaissance scan files
)

// Carriers lists the telecom operators whose CDR exports are supported.
var Carriers = []Operator{OperatorClaro, OperatorMovistar, OperatorTigo, OperatorWOM}

// ParseOperator converts an operator code such as "CLARO" or " tigo " into an Operator.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claro", "comcel":
		return OperatorClaro, nil
	case "movistar", "telefonica":
		return OperatorMovistar, nil
	case "tigo", "colombia movil", "colombia_movil":
		return OperatorTigo, nil
	case "wom", "partners":
		return OperatorWOM, nil
	case "hunter", "scan":
		return OperatorHunter, nil
	default:
		return "", eris.Errorf("unknown operator: %q (valid: claro, movistar, tigo, wom, hunter)", s)
	}
}

// IsCarrier reports whether op is a telecom operator rather than the scanner.
func (op Operator) IsCarrier() bool {
	for _, c := range Carriers {
		if c == op {
			return true
		}
	}
	return false
}

// RecordKind is the logical kind of a source file.
type RecordKind string

const (
	KindCalls    RecordKind = "calls"
	KindSessions RecordKind = "sessions"
	KindScan     RecordKind = "scan"
)

// ParseRecordKind converts "calls", "cdr", "sessions", "data" or "scan" into a RecordKind.
func ParseRecordKind(s string) (RecordKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "calls", "call", "cdr", "voice":
		return KindCalls, nil
	case "sessions", "session", "data", "cellular":
		return KindSessions, nil
	case "scan", "scans", "hunter":
		return KindScan, nil
	default:
		return "", eris.Errorf("unknown file kind: %q (valid: calls, sessions, scan)", s)
	}
}

// Table returns the persistence table holding records of this kind.
func (k RecordKind) Table() string {
	switch k {
	case KindCalls:
		return "call_record"
	case KindSessions:
		return "cellular_session_record"
	case KindScan:
		return "scan_record"
	default:
		return ""
	}
}
