// Package users loads the users.csv authorization list: UID → account
// mapping with an optional per-card volume limit, used by internal/rfidauth
// to decide whether a scanned card may authorize a fill.
package users

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Record is one row of users.csv.
type Record struct {
	UserID      int
	Level       int
	FirstName   string
	LastName    string
	Plate       string
	LimitLiters float64
	RFID        string // normalized, upper-case, no separators
}

// Manager holds the loaded user list in memory; reload by calling Load
// again.
type Manager struct {
	records []Record
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{}
}

// columnAliases maps every accepted header spelling to the canonical field
// it feeds, matching the synonym set the original loader accepted.
var columnAliases = map[string]string{
	"userid": "userId", "user_id": "userId", "idn": "userId",
	"level": "level", "role": "level",
	"firstname": "firstName", "first_name": "firstName",
	"lastname": "lastName", "last_name": "lastName",
	"plate": "plate", "plate_no": "plate",
	"limit": "limit", "quota": "limit", "limit_liters": "limit",
	"rfid": "rfid", "uid": "rfid",
}

// Load reads path as a CSV file, resolving the header case-insensitively
// against the known synonym set. It replaces any previously loaded records
// only on success.
func (m *Manager) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("users: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("users: read header: %w", err)
	}

	col := map[string]int{}
	for i, h := range header {
		canon, ok := columnAliases[strings.ToLower(strings.TrimSpace(h))]
		if ok {
			col[canon] = i
		}
	}

	idxUserID, hasUserID := col["userId"]
	idxRfid, hasRfid := col["rfid"]
	if !hasUserID || !hasRfid {
		return fmt.Errorf("users: %s missing required userId/rfid columns", path)
	}

	var records []Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("users: read row: %w", err)
		}
		if len(row) <= idxUserID {
			continue
		}

		userID, err := strconv.Atoi(strings.TrimSpace(row[idxUserID]))
		if err != nil || userID <= 0 {
			continue
		}

		rec := Record{UserID: userID, Level: 4}

		if idx, ok := col["level"]; ok && idx < len(row) {
			if v, err := strconv.Atoi(strings.TrimSpace(row[idx])); err == nil {
				rec.Level = v
			}
		}
		if idx, ok := col["firstName"]; ok && idx < len(row) {
			rec.FirstName = strings.TrimSpace(row[idx])
		}
		if idx, ok := col["lastName"]; ok && idx < len(row) {
			rec.LastName = strings.TrimSpace(row[idx])
		}
		if idx, ok := col["plate"]; ok && idx < len(row) {
			rec.Plate = strings.TrimSpace(row[idx])
		}
		if idx, ok := col["limit"]; ok && idx < len(row) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64); err == nil {
				rec.LimitLiters = v
			}
		}
		if idxRfid < len(row) {
			rec.RFID = normalize(row[idxRfid])
		}

		records = append(records, rec)
	}

	m.records = records
	return nil
}

// All returns every loaded record.
func (m *Manager) All() []Record {
	return m.records
}

// Lookup looks up a card UID (any casing/separator style) and returns the
// matching record, if any.
func (m *Manager) Lookup(uidHex string) (Record, bool) {
	wanted := normalize(uidHex)
	if wanted == "" {
		return Record{}, false
	}
	for _, rec := range m.records {
		if rec.RFID != "" && rec.RFID == wanted {
			return rec, true
		}
	}
	return Record{}, false
}

// FindByRfid satisfies rfidauth.UserLookup.
func (m *Manager) FindByRfid(uidHex string) (userID, plate string, limitLiters float64, ok bool) {
	rec, found := m.Lookup(uidHex)
	if !found {
		return "", "", 0, false
	}
	return strconv.Itoa(rec.UserID), rec.Plate, rec.LimitLiters, true
}

// normalize strips whitespace, ':' and '-' separators and upper-cases the
// remainder, so "32:A0:AB:04", "32-a0-ab-04" and "32A0AB04" all compare
// equal.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c == ' ' || c == ':' || c == '-' {
			continue
		}
		b.WriteRune(toUpperASCII(c))
	}
	return b.String()
}

func toUpperASCII(c rune) rune {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
