package policy

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
)

type fakeConn struct {
	executed []string
	fail     map[string]bool
	journalMode string
	tempStore   string
}

func newFakeConn() *fakeConn {
	return &fakeConn{fail: make(map[string]bool)}
}

func (f *fakeConn) ExecPragma(ctx context.Context, pragma string) error {
	if f.fail[pragma] {
		return assert.AnError
	}
	f.executed = append(f.executed, pragma)
	return nil
}

func (f *fakeConn) QueryPragmaString(ctx context.Context, pragma string) (string, error) {
	switch pragma {
	case "journal_mode":
		return f.journalMode, nil
	case "temp_store":
		return f.tempStore, nil
	}
	return "", assert.AnError
}

func TestParseJournalMode(t *testing.T) {
	assert.Equal(t, JournalModeMemory, ParseJournalMode("MEMORY"))
	assert.Equal(t, JournalModeMemory, ParseJournalMode("memory"))
	assert.Equal(t, JournalModeOff, ParseJournalMode("OFF"))
	assert.Equal(t, JournalModeDeleteOnlyIfRamdisk, ParseJournalMode("DELETE"))
	assert.Equal(t, JournalModeMemory, ParseJournalMode("garbage"))
}

func TestParseTempStore(t *testing.T) {
	assert.Equal(t, TempStoreMemory, ParseTempStore("MEMORY"))
	assert.Equal(t, TempStoreFileOnlyIfRamdisk, ParseTempStore("FILE"))
	assert.Equal(t, TempStoreMemory, ParseTempStore("garbage"))
}

func TestApply_MemoryPolicy_AppliesDirectly(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()

	report, err := Apply(ctx, conn, "/data/app.db", Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, "MEMORY", report.AppliedJournalMode)
	assert.Equal(t, "MEMORY", report.AppliedTempStore)
	assert.Contains(t, conn.executed, "journal_mode=MEMORY")
	assert.Contains(t, conn.executed, "temp_store=MEMORY")
}

func TestApply_DeleteOnlyIfRamdisk_NotRamdisk_WarnFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()

	p := Policy{
		JournalMode:         JournalModeDeleteOnlyIfRamdisk,
		JournalModeFallback: JournalFallbackMemory,
		TempStore:           TempStoreMemory,
		Enforce:             Warn,
	}

	report, err := Apply(ctx, conn, "/data/app.db", p, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "MEMORY", report.AppliedJournalMode)
	assert.Contains(t, report.Notes, "journal_mode=DELETE denied; fell back to MEMORY")
}

func TestApply_DeleteOnlyIfRamdisk_NotRamdisk_ErrorEnforceFails(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()

	p := Policy{
		JournalMode:         JournalModeDeleteOnlyIfRamdisk,
		JournalModeFallback: JournalFallbackMemory,
		TempStore:           TempStoreMemory,
		Enforce:             Error,
	}

	_, err := Apply(ctx, conn, "/data/app.db", p, nil)
	assert.ErrorIs(t, err, cryptoDomain.ErrPolicyFailure)
	assert.NotContains(t, conn.executed, "journal_mode=DELETE")
	assert.NotContains(t, conn.executed, "journal_mode=MEMORY")
}

func TestApply_DeleteOnlyIfRamdisk_NotRamdisk_NoFallbackLeavesUnset(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()

	p := Policy{
		JournalMode:         JournalModeDeleteOnlyIfRamdisk,
		JournalModeFallback: JournalFallbackNone,
		TempStore:           TempStoreMemory,
		Enforce:             Warn,
	}

	report, err := Apply(ctx, conn, "/data/app.db", p, nil)
	require.NoError(t, err)
	assert.Empty(t, report.AppliedJournalMode)
	assert.Contains(t, report.Notes, "journal_mode=DELETE denied; no fallback applied")
}

func TestApply_TempStoreFileOnlyIfRamdisk_NotRamdisk_FallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()

	p := Policy{
		JournalMode: JournalModeMemory,
		TempStore:   TempStoreFileOnlyIfRamdisk,
		TempStoreFallback: TempFallbackMemory,
		Enforce:     Warn,
	}

	report, err := Apply(ctx, conn, "/data/app.db", p, nil)
	require.NoError(t, err)
	assert.Equal(t, "MEMORY", report.AppliedTempStore)
	assert.Contains(t, report.Notes, "temp_store=FILE denied; fell back to MEMORY")
}

func TestApply_PragmaExecFailure_ReturnsPolicyFailure(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	conn.fail["journal_mode=MEMORY"] = true

	_, err := Apply(ctx, conn, "/data/app.db", Default(), nil)
	assert.ErrorIs(t, err, cryptoDomain.ErrPolicyFailure)
}

func TestApply_ReportsEngineValues(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	conn.journalMode = "memory"
	conn.tempStore = "2"

	report, err := Apply(ctx, conn, "/data/app.db", Default(), nil)
	require.NoError(t, err)
	assert.Contains(t, report.Notes, "engine reports journal_mode=memory")
	assert.Contains(t, report.Notes, "engine reports temp_store=2")
}

func TestIsRamdisk(t *testing.T) {
	assert.True(t, isRamdisk("tmpfs"))
	assert.True(t, isRamdisk("ramfs"))
	assert.False(t, isRamdisk("ext4"))
	assert.False(t, isRamdisk(""))
}

func TestFsTypeForPath_BestEffort(t *testing.T) {
	// Best-effort: never errors, returns "" if detection is unavailable
	// rather than failing the caller (policy.Apply).
	_ = fsTypeForPath("/")
}
