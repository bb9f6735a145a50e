package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/evfsdb/evfs/internal/app"
	"github.com/evfsdb/evfs/internal/config"
	"github.com/evfsdb/evfs/internal/policy"
)

// noopExecer is a SQLExecer standing in for a live DB connection, for use
// when evfsctl checks policy outside of a running engine: it records
// every PRAGMA it would have issued and reports back the values the
// policy itself wants applied, so Apply's self-check ("engine reports
// ...") degrees gracefully to "as configured" rather than failing.
type noopExecer struct {
	executed    []string
	journalMode string
	tempStore   string
}

func (n *noopExecer) ExecPragma(ctx context.Context, pragma string) error {
	n.executed = append(n.executed, pragma)
	name, value, ok := strings.Cut(pragma, "=")
	if !ok {
		return nil
	}
	switch name {
	case "journal_mode":
		n.journalMode = value
	case "temp_store":
		n.tempStore = value
	}
	return nil
}

func (n *noopExecer) QueryPragmaString(ctx context.Context, pragma string) (string, error) {
	switch pragma {
	case "journal_mode":
		return n.journalMode, nil
	case "temp_store":
		return n.tempStore, nil
	default:
		return "", fmt.Errorf("unknown pragma %q", pragma)
	}
}

// RunPolicyCheck evaluates the configured storage policy against dbPath's
// filesystem, without requiring a live database connection, and prints
// the resulting report.
func RunPolicyCheck(ctx context.Context, cfg *config.Config, dbPath string, out io.Writer) error {
	container := app.NewContainer(cfg)
	logger := container.Logger()
	defer closeContainer(container, logger)

	bizMetrics, err := container.BusinessMetrics()
	if err != nil {
		return fmt.Errorf("build business metrics: %w", err)
	}

	p := policy.Policy{
		JournalMode:         policy.ParseJournalMode(cfg.StoragePolicyJournalMode),
		JournalModeFallback: policy.JournalFallbackMemory,
		TempStore:           policy.ParseTempStore(cfg.StoragePolicyTempStore),
		TempStoreFallback:   policy.TempFallbackMemory,
		Enforce:             policy.Warn,
	}
	if cfg.StoragePolicyEnforce {
		p.Enforce = policy.Error
	}

	conn := &noopExecer{}
	report, err := policy.ApplyWithMetrics(ctx, conn, dbPath, p, logger, bizMetrics)
	if err != nil {
		return fmt.Errorf("policy check failed: %w", err)
	}

	fmt.Fprintf(out, "db_dir=%s fstype=%s\n", report.DBDir, report.DBDirFSType)
	fmt.Fprintf(out, "temp_dir=%s fstype=%s\n", report.TempDir, report.TempDirFSType)
	fmt.Fprintf(out, "applied_journal_mode=%s\n", report.AppliedJournalMode)
	fmt.Fprintf(out, "applied_temp_store=%s\n", report.AppliedTempStore)
	for _, note := range report.Notes {
		fmt.Fprintf(out, "note: %s\n", note)
	}
	return nil
}
