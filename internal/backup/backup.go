// Package backup streams the pages of one encrypted database file into
// another, re-keying every page from its source keyring/scope to the
// matching scope of a destination keyring. Transactional atomicity is
// the source DB engine's responsibility (it supplies a page snapshot);
// this package only moves and re-encrypts bytes.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
	"github.com/evfsdb/evfs/internal/fsctx"
	"github.com/evfsdb/evfs/internal/metrics"
)

const metricsDomain = "backup"

// PageSource yields the next page to copy, in page-number order. Pages
// absent from the source (never allocated) are simply not yielded —
// copying preserves page numbers, not a contiguous page count.
type PageSource interface {
	// NextPage returns the next (pageNo, plaintext-sized buffer) pair.
	// Returns io.EOF when no pages remain.
	NextPage(ctx context.Context) (pageNo uint32, page []byte, err error)
}

// PageSink writes one re-keyed page to the destination file at pageNo.
type PageSink interface {
	WritePage(ctx context.Context, pageNo uint32, page []byte) error
}

// Pipeline copies and re-keys pages from a source FileContext/PageSource
// to a destination FileContext/PageSink.
type Pipeline struct {
	src    *fsctx.FileContext
	dst    *fsctx.FileContext
	logger *slog.Logger
	biz    metrics.BusinessMetrics
}

// New constructs a Pipeline. src and dst must already have encryption
// enabled and any scope maps built; logger may be nil, biz may be nil (in
// which case metrics are skipped).
func New(src, dst *fsctx.FileContext, logger *slog.Logger, biz metrics.BusinessMetrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{src: src, dst: dst, logger: logger, biz: biz}
}

// Result summarizes one pipeline run.
type Result struct {
	RunID       string
	PagesCopied int
}

// Run decrypts each page NextPage yields under the source keyring,
// re-encrypts it under the destination keyring (same page number, same
// scope resolution against each side's own scope map), and writes it via
// sink. Stops at the first NextPage/WritePage error; io.EOF from
// NextPage ends the run successfully.
func (p *Pipeline) Run(ctx context.Context, source PageSource, sink PageSink) (Result, error) {
	runID := uuid.Must(uuid.NewV7()).String()
	result := Result{RunID: runID}
	start := time.Now()

	p.logger.Info("backup run starting", slog.String("run_id", runID))

	for {
		select {
		case <-ctx.Done():
			p.recordOutcome(ctx, start, "error")
			return result, ctx.Err()
		default:
		}

		pageNo, page, err := source.NextPage(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			p.recordOutcome(ctx, start, "error")
			return result, fmt.Errorf("%w: read source page: %v", cryptoDomain.ErrCryptoFailure, err)
		}

		if err := p.src.DecryptPageCtx(ctx, page, pageNo); err != nil {
			p.recordOutcome(ctx, start, "error")
			return result, fmt.Errorf("decrypt page %d from source: %w", pageNo, err)
		}
		if err := p.dst.EncryptPageCtx(ctx, page, pageNo); err != nil {
			p.recordOutcome(ctx, start, "error")
			return result, fmt.Errorf("encrypt page %d for destination: %w", pageNo, err)
		}
		if err := sink.WritePage(ctx, pageNo, page); err != nil {
			p.recordOutcome(ctx, start, "error")
			return result, fmt.Errorf("%w: write destination page %d: %v", cryptoDomain.ErrPersistenceFailure, pageNo, err)
		}

		result.PagesCopied++
	}

	p.recordOutcome(ctx, start, "success")
	p.logger.Info("backup run complete",
		slog.String("run_id", runID), slog.Int("pages_copied", result.PagesCopied))
	return result, nil
}

func (p *Pipeline) recordOutcome(ctx context.Context, start time.Time, status string) {
	if p.biz == nil {
		return
	}
	p.biz.RecordOperation(ctx, metricsDomain, "run", status)
	p.biz.RecordDuration(ctx, metricsDomain, "run", time.Since(start), status)
}
