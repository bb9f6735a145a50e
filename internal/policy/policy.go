// Package policy guards the DB engine's own disk-touching settings —
// rollback journal mode and temp-file placement — so that "encrypted at
// rest" cannot be silently defeated by plaintext spilling to an
// unencrypted journal or temp file next to the encrypted database.
package policy

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
	"github.com/evfsdb/evfs/internal/metrics"
)

const metricsDomain = "policy"

// Enforce controls what happens when a policy cannot be satisfied as
// configured: Warn logs and applies the fallback, Error returns an error
// and applies neither the refused setting nor its fallback. A journal_mode
// PRAGMA issued before a temp_store refusal stays applied.
type Enforce int

const (
	Warn Enforce = iota
	Error
)

// JournalModeFallback names what to apply instead of DELETE when the
// database directory is not on a ramdisk.
type JournalModeFallback int

const (
	JournalFallbackMemory JournalModeFallback = iota
	JournalFallbackOff
	JournalFallbackNone
)

// JournalModePolicy names how the rollback journal mode is selected.
type JournalModePolicy int

const (
	// JournalModeMemory always forces journal_mode=MEMORY: no on-disk
	// rollback journal, regardless of filesystem.
	JournalModeMemory JournalModePolicy = iota
	// JournalModeOff always forces journal_mode=OFF. Unsafe: no crash
	// recovery via rollback journal.
	JournalModeOff
	// JournalModeDeleteOnlyIfRamdisk allows journal_mode=DELETE only when
	// the database directory resolves to tmpfs/ramfs; otherwise enforces
	// Fallback.
	JournalModeDeleteOnlyIfRamdisk
)

// TempStoreFallback names what to apply instead of FILE when the temp
// directory is not on a ramdisk.
type TempStoreFallback int

const (
	TempFallbackMemory TempStoreFallback = iota
	TempFallbackNone
)

// TempStorePolicy names how temp_store is selected.
type TempStorePolicy int

const (
	// TempStoreMemory always forces temp_store=MEMORY.
	TempStoreMemory TempStorePolicy = iota
	// TempStoreFileOnlyIfRamdisk allows temp_store=FILE only when the
	// process temp directory resolves to tmpfs/ramfs.
	TempStoreFileOnlyIfRamdisk
)

// Policy describes the storage policy to enforce against one open
// database connection.
type Policy struct {
	JournalMode         JournalModePolicy
	JournalModeFallback JournalModeFallback
	TempStore           TempStorePolicy
	TempStoreFallback    TempStoreFallback
	Enforce             Enforce
}

// Default mirrors the original extension's conservative default: force
// journal_mode=MEMORY and temp_store=MEMORY, warn (don't fail) if a
// stricter policy can't be satisfied.
func Default() Policy {
	return Policy{
		JournalMode: JournalModeMemory,
		TempStore:   TempStoreMemory,
		Enforce:     Warn,
	}
}

// ParseJournalMode maps a STORAGE_POLICY_JOURNAL_MODE config value to a
// JournalModePolicy, case-insensitively. "OFF" maps to JournalModeOff and
// "DELETE" to JournalModeDeleteOnlyIfRamdisk (the fallback is chosen
// separately); anything else, "MEMORY" included, maps to JournalModeMemory.
func ParseJournalMode(s string) JournalModePolicy {
	switch strings.ToUpper(s) {
	case "OFF":
		return JournalModeOff
	case "DELETE":
		return JournalModeDeleteOnlyIfRamdisk
	default:
		return JournalModeMemory
	}
}

// ParseTempStore maps a STORAGE_POLICY_TEMP_STORE config value to a
// TempStorePolicy.
func ParseTempStore(s string) TempStorePolicy {
	switch strings.ToUpper(s) {
	case "FILE":
		return TempStoreFileOnlyIfRamdisk
	default:
		return TempStoreMemory
	}
}

// SQLExecer is the minimal surface Apply needs against an open database
// connection: issue a PRAGMA statement and read a single scalar result
// back, without depending on any particular driver.
type SQLExecer interface {
	ExecPragma(ctx context.Context, pragma string) error
	QueryPragmaString(ctx context.Context, pragma string) (string, error)
}

// Report records what Apply actually did, for logging and for
// `evfsctl policy check`.
type Report struct {
	DBDir               string
	DBDirFSType         string
	TempDir             string
	TempDirFSType       string
	AppliedJournalMode  string
	AppliedTempStore    string
	Notes               []string
}

func (r *Report) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

var ramdiskFSTypes = map[string]bool{"tmpfs": true, "ramfs": true}

func isRamdisk(fstype string) bool {
	return ramdiskFSTypes[fstype]
}

// Apply inspects the filesystem backing dbPath's directory and the
// process temp directory, then issues the PRAGMA statements required to
// satisfy policy against conn — falling back or erroring per
// policy.Enforce when the stricter setting can't be honored.
func Apply(ctx context.Context, conn SQLExecer, dbPath string, p Policy, logger *slog.Logger) (Report, error) {
	return ApplyWithMetrics(ctx, conn, dbPath, p, logger, nil)
}

// ApplyWithMetrics is Apply plus a BusinessMetrics recorder for the
// policy.apply operation; biz may be nil to skip metrics entirely.
func ApplyWithMetrics(ctx context.Context, conn SQLExecer, dbPath string, p Policy, logger *slog.Logger, biz metrics.BusinessMetrics) (Report, error) {
	start := time.Now()
	report, err := apply(ctx, conn, dbPath, p, logger)
	if biz != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		biz.RecordOperation(ctx, metricsDomain, "apply", status)
		biz.RecordDuration(ctx, metricsDomain, "apply", time.Since(start), status)
	}
	return report, err
}

func apply(ctx context.Context, conn SQLExecer, dbPath string, p Policy, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbDir := canonicalOrOriginal(filepath.Dir(dbPath))
	tempDir := canonicalOrOriginal(os.TempDir())

	report := Report{
		DBDir:         dbDir,
		DBDirFSType:   fsTypeForPath(dbDir),
		TempDir:       tempDir,
		TempDirFSType: fsTypeForPath(tempDir),
	}

	if err := applyJournalMode(ctx, conn, p, &report, logger); err != nil {
		return report, err
	}
	if err := applyTempStore(ctx, conn, p, &report, logger); err != nil {
		return report, err
	}

	if jm, err := conn.QueryPragmaString(ctx, "journal_mode"); err == nil {
		report.note("engine reports journal_mode=%s", jm)
	}
	if ts, err := conn.QueryPragmaString(ctx, "temp_store"); err == nil {
		report.note("engine reports temp_store=%s", ts)
	}

	return report, nil
}

func applyJournalMode(ctx context.Context, conn SQLExecer, p Policy, report *Report, logger *slog.Logger) error {
	switch p.JournalMode {
	case JournalModeMemory:
		if err := conn.ExecPragma(ctx, "journal_mode=MEMORY"); err != nil {
			return fmt.Errorf("%w: set journal_mode=MEMORY: %v", cryptoDomain.ErrPolicyFailure, err)
		}
		report.AppliedJournalMode = "MEMORY"
		return nil
	case JournalModeOff:
		if err := conn.ExecPragma(ctx, "journal_mode=OFF"); err != nil {
			return fmt.Errorf("%w: set journal_mode=OFF: %v", cryptoDomain.ErrPolicyFailure, err)
		}
		report.AppliedJournalMode = "OFF"
		return nil
	case JournalModeDeleteOnlyIfRamdisk:
		if isRamdisk(report.DBDirFSType) {
			if err := conn.ExecPragma(ctx, "journal_mode=DELETE"); err != nil {
				return fmt.Errorf("%w: set journal_mode=DELETE: %v", cryptoDomain.ErrPolicyFailure, err)
			}
			report.AppliedJournalMode = "DELETE"
			return nil
		}

		fstype := report.DBDirFSType
		if fstype == "" {
			fstype = "unknown"
		}
		msg := fmt.Sprintf("storage policy: refusing journal_mode=DELETE, db dir %s is not on ramdisk (fstype=%s): risk of plaintext journal on disk", report.DBDir, fstype)
		if err := enforceOrWarn(p.Enforce, msg, logger); err != nil {
			return err
		}

		switch p.JournalModeFallback {
		case JournalFallbackMemory:
			if err := conn.ExecPragma(ctx, "journal_mode=MEMORY"); err != nil {
				return fmt.Errorf("%w: fallback journal_mode=MEMORY: %v", cryptoDomain.ErrPolicyFailure, err)
			}
			report.AppliedJournalMode = "MEMORY"
			report.note("journal_mode=DELETE denied; fell back to MEMORY")
		case JournalFallbackOff:
			if err := conn.ExecPragma(ctx, "journal_mode=OFF"); err != nil {
				return fmt.Errorf("%w: fallback journal_mode=OFF: %v", cryptoDomain.ErrPolicyFailure, err)
			}
			report.AppliedJournalMode = "OFF"
			report.note("journal_mode=DELETE denied; fell back to OFF")
		case JournalFallbackNone:
			report.note("journal_mode=DELETE denied; no fallback applied")
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown journal mode policy %d", cryptoDomain.ErrPolicyFailure, p.JournalMode)
	}
}

func applyTempStore(ctx context.Context, conn SQLExecer, p Policy, report *Report, logger *slog.Logger) error {
	switch p.TempStore {
	case TempStoreMemory:
		if err := conn.ExecPragma(ctx, "temp_store=MEMORY"); err != nil {
			return fmt.Errorf("%w: set temp_store=MEMORY: %v", cryptoDomain.ErrPolicyFailure, err)
		}
		report.AppliedTempStore = "MEMORY"
		return nil
	case TempStoreFileOnlyIfRamdisk:
		if isRamdisk(report.TempDirFSType) {
			if err := conn.ExecPragma(ctx, "temp_store=FILE"); err != nil {
				return fmt.Errorf("%w: set temp_store=FILE: %v", cryptoDomain.ErrPolicyFailure, err)
			}
			report.AppliedTempStore = "FILE"
			return nil
		}

		fstype := report.TempDirFSType
		if fstype == "" {
			fstype = "unknown"
		}
		msg := fmt.Sprintf("storage policy: refusing temp_store=FILE, temp dir %s is not on ramdisk (fstype=%s): risk of plaintext temp files on disk", report.TempDir, fstype)
		if err := enforceOrWarn(p.Enforce, msg, logger); err != nil {
			return err
		}

		switch p.TempStoreFallback {
		case TempFallbackMemory:
			if err := conn.ExecPragma(ctx, "temp_store=MEMORY"); err != nil {
				return fmt.Errorf("%w: fallback temp_store=MEMORY: %v", cryptoDomain.ErrPolicyFailure, err)
			}
			report.AppliedTempStore = "MEMORY"
			report.note("temp_store=FILE denied; fell back to MEMORY")
		case TempFallbackNone:
			report.note("temp_store=FILE denied; no fallback applied")
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown temp store policy %d", cryptoDomain.ErrPolicyFailure, p.TempStore)
	}
}

func enforceOrWarn(e Enforce, msg string, logger *slog.Logger) error {
	if e == Error {
		return fmt.Errorf("%w: %s", cryptoDomain.ErrPolicyFailure, msg)
	}
	logger.Warn(msg)
	return nil
}

func canonicalOrOriginal(p string) string {
	resolved, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		return real
	}
	return resolved
}

// fsTypeForPath returns the filesystem type backing path, determined from
// /proc/self/mountinfo by longest-prefix mount-point match. Returns "" on
// non-Linux platforms or if the lookup fails — callers treat an empty
// fstype as "not a ramdisk," the safe direction for this policy.
func fsTypeForPath(path string) string {
	mounts, err := parseMountinfo()
	if err != nil {
		return ""
	}

	bestLen := -1
	best := ""
	for _, m := range mounts {
		if !strings.HasPrefix(path, m.mountPoint) {
			continue
		}
		if len(m.mountPoint) > bestLen {
			bestLen = len(m.mountPoint)
			best = m.fstype
		}
	}
	return best
}

type mountInfo struct {
	mountPoint string
	fstype     string
}

func parseMountinfo() ([]mountInfo, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []mountInfo
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		pre, post, ok := strings.Cut(line, " - ")
		if !ok {
			continue
		}
		preFields := strings.Fields(pre)
		if len(preFields) < 5 {
			continue
		}
		postFields := strings.Fields(post)
		if len(postFields) == 0 {
			continue
		}
		out = append(out, mountInfo{mountPoint: preFields[4], fstype: postFields[0]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
