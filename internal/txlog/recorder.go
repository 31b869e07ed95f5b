// Package txlog detects sale-completion edges in the pump's runtime
// snapshots and commits them to an append-only, migrating CSV usage log.
package txlog

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sertumit/fuelcore/internal/counters"
	"github.com/sertumit/fuelcore/internal/pumpstate"
	"github.com/sertumit/fuelcore/internal/r07session"
)

// UsageEntry is one row of logs/log_user/logs.csv.
type UsageEntry struct {
	ProcessID int
	RFID      string
	FirstName string
	LastName  string
	Plate     string
	Limit     int
	Fuel      float64
	LogCode   string
	TimeStamp string // ISO-8601 UTC, e.g. 2026-07-31T12:00:00Z
	SendOk    string // "Yes" | "No" | "NA"
}

const usageHeader = "processId,rfid,firstName,lastName,plate,limit,fuel,logCode,timeStamp,sendOk"
const infraHeader = "timeStamp,level,code,message,details"

func usageCSVPath(appRoot string) string {
	return filepath.Join(appRoot, "logs", "log_user", "logs.csv")
}

func infraCSVPath(appRoot string) string {
	return filepath.Join(appRoot, "logs", "recumLogs.csv")
}

// EnsureScaffold creates logs/, logs/log_user/ and configs/ under appRoot,
// and seeds the infra and usage CSVs with their headers if absent.
func EnsureScaffold(appRoot string) error {
	for _, dir := range []string{
		filepath.Join(appRoot, "logs"),
		filepath.Join(appRoot, "logs", "log_user"),
		filepath.Join(appRoot, "configs"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("txlog: mkdir %s: %w", dir, err)
		}
	}

	if err := ensureFileWithHeader(infraCSVPath(appRoot), infraHeader); err != nil {
		return err
	}
	return ensureFileWithHeader(usageCSVPath(appRoot), usageHeader)
}

func ensureFileWithHeader(path, header string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(header+"\n"), 0o644)
}

// AppendUsage normalizes TimeStamp/SendOk defaults, appends one row to
// logs.csv and invokes onAppended if set.
func AppendUsage(appRoot string, e UsageEntry, onAppended func(UsageEntry)) error {
	if err := EnsureScaffold(appRoot); err != nil {
		return err
	}

	if e.TimeStamp == "" {
		e.TimeStamp = isoNowUTC()
	}
	if e.SendOk == "" {
		e.SendOk = "NA"
	}

	f, err := os.OpenFile(usageCSVPath(appRoot), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("txlog: open usage log: %w", err)
	}
	defer f.Close()

	row := joinCSVRow([]string{
		strconv.Itoa(e.ProcessID),
		e.RFID,
		e.FirstName,
		e.LastName,
		e.Plate,
		strconv.Itoa(e.Limit),
		strconv.FormatFloat(e.Fuel, 'f', -1, 64),
		e.LogCode,
		e.TimeStamp,
		e.SendOk,
	})

	if _, err := f.WriteString(row + "\n"); err != nil {
		return fmt.Errorf("txlog: write usage row: %w", err)
	}

	if onAppended != nil {
		onAppended(e)
	}
	return nil
}

// LoadUsage reads every row of logs.csv, treating 9-column legacy rows as
// sendOk="NA".
func LoadUsage(appRoot string) ([]UsageEntry, error) {
	f, err := os.Open(usageCSVPath(appRoot))
	if err != nil {
		return nil, fmt.Errorf("txlog: open usage log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("txlog: usage log is empty")
	}

	var entries []UsageEntry
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		cols := parseCsvLine(line)
		if len(cols) < 9 {
			continue
		}

		e := UsageEntry{}
		e.ProcessID, _ = strconv.Atoi(cols[0])
		e.RFID = col(cols, 1)
		e.FirstName = col(cols, 2)
		e.LastName = col(cols, 3)
		e.Plate = col(cols, 4)
		if v, err := strconv.Atoi(col(cols, 5)); err == nil {
			e.Limit = v
		}
		if v, err := strconv.ParseFloat(col(cols, 6), 64); err == nil {
			e.Fuel = v
		}
		e.LogCode = col(cols, 7)
		e.TimeStamp = col(cols, 8)
		if len(cols) >= 10 {
			e.SendOk = cols[9]
		} else {
			e.SendOk = "NA"
		}

		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("txlog: scan usage log: %w", err)
	}
	return entries, nil
}

func col(cols []string, i int) string {
	if i < len(cols) {
		return cols[i]
	}
	return ""
}

// UpdateSendOk rewrites logs.csv, setting the sendOk column on every row
// matching (processId, timeStamp); a 9-column legacy header/row is migrated
// to 10 columns in the same pass. Returns false if nothing matched.
func UpdateSendOk(appRoot string, processID int, timeStamp, sendOk string) (bool, error) {
	path := usageCSVPath(appRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("txlog: read usage log: %w", err)
	}

	lines := splitLines(string(data))
	if len(lines) == 0 {
		return false, nil
	}

	normalized := sendOk
	if normalized == "" {
		normalized = "NA"
	}

	headerUpdated := false
	headerCols := parseCsvLine(lines[0])
	if len(headerCols) == 9 {
		headerCols = append(headerCols, "sendOk")
		lines[0] = joinCSVRow(headerCols)
		headerUpdated = true
	}

	rowUpdated := false
	for i := 1; i < len(lines); i++ {
		if lines[i] == "" {
			continue
		}
		cols := parseCsvLine(lines[i])
		if len(cols) < 9 {
			continue
		}
		rowProcID, _ := strconv.Atoi(cols[0])
		rowTS := col(cols, 8)
		if rowProcID != processID || rowTS != timeStamp {
			continue
		}

		if len(cols) == 9 {
			cols = append(cols, normalized)
		} else {
			cols[9] = normalized
		}
		lines[i] = joinCSVRow(cols)
		rowUpdated = true
	}

	if !rowUpdated && !headerUpdated {
		return false, nil
	}

	f, err := os.OpenFile(path, os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return false, fmt.Errorf("txlog: rewrite usage log: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			return false, fmt.Errorf("txlog: write usage log: %w", err)
		}
	}
	return true, w.Flush()
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			line := s[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, line)
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func isoNowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// --- sale-completion edge detection ----------------------------------------

const (
	LogCodePumpOff = "PumpOff_PC"
	LogCodeGunOn   = "GunOn_PC"
	LogCodeGunOff  = "GunOff_PC"
)

// Edge classifies a nozzle transition between two consecutive snapshots.
type Edge struct {
	Commit  bool
	LogCode string
}

// DetectEdge evaluates the sale-completion predicate: on a true→false
// (return-to-holster) nozzle transition, a commit-worthy sale requires the
// pump state to be FillingCompleted or MaxAmount, a positive last fill
// volume, and an authorized card. Any other nozzle transition produces a
// payload-only GunOn_PC/GunOff_PC row.
func DetectEdge(prev, curr pumpstate.State) (Edge, bool) {
	if prev.NozzleOut == curr.NozzleOut {
		return Edge{}, false
	}

	if prev.NozzleOut && !curr.NozzleOut {
		saleComplete := (curr.PumpState == r07session.FillingCompleted || curr.PumpState == r07session.MaxAmount) &&
			curr.HasLastFill && curr.LastFillVolumeL > 0 &&
			curr.LastCardAuthOk

		if saleComplete {
			return Edge{Commit: true, LogCode: LogCodePumpOff}, true
		}
		return Edge{Commit: false, LogCode: LogCodeGunOff}, true
	}

	return Edge{Commit: false, LogCode: LogCodeGunOn}, true
}

// Recorder wires DetectEdge into AppendUsage and the persisted session
// counters: each PumpOff_PC commit bumps waiting_records/vehicle_count and
// the repo-wide fill total.
type Recorder struct {
	log     *slog.Logger
	appRoot string
	counts  counters.Counters
}

// NewRecorder loads the persisted counters for appRoot.
func NewRecorder(log *slog.Logger, appRoot string) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{log: log, appRoot: appRoot, counts: counters.Load(appRoot)}
}

// Counters returns a copy of the current session counters.
func (r *Recorder) Counters() counters.Counters {
	return r.counts
}

// Observe feeds a (prev, curr) snapshot pair; on any nozzle-edge it appends
// the corresponding row, and on a sale-completion edge also bumps and
// persists the counters.
func (r *Recorder) Observe(prev, curr pumpstate.State, processID int) error {
	edge, ok := DetectEdge(prev, curr)
	if !ok {
		return nil
	}

	entry := UsageEntry{
		ProcessID: processID,
		RFID:      curr.LastCardUID,
		FirstName: "",
		LastName:  "",
		Plate:     curr.LastCardPlate,
		Limit:     int(curr.LimitLiters),
		LogCode:   edge.LogCode,
	}

	if edge.Commit {
		entry.Fuel = curr.LastFillVolumeL
		r.counts.WaitRecs++
		r.counts.VhecCount++
		r.counts.RepoFillLit += curr.LastFillVolumeL
		r.counts.Date = time.Now().UTC().Format("2006-01-02")
	}

	if err := AppendUsage(r.appRoot, entry, nil); err != nil {
		return err
	}

	if edge.Commit {
		if err := counters.Save(r.appRoot, r.counts); err != nil {
			r.log.Error("failed to persist counters", "err", err)
			return err
		}
		r.log.Info("sale committed", "fuel", entry.Fuel, "rfid", entry.RFID)
	}

	return nil
}
