package commands

import (
	"context"
	"fmt"
	"io"
	"os"
)

// filePager is a backup.PageSource and backup.PageSink over a raw
// fixed-page-size database file on disk: page N occupies bytes
// [N*pageSize, (N+1)*pageSize) of the file, 0-indexed. This is the layout
// described for the on-disk database file itself, independent of any SQL
// engine's own page cache.
type filePager struct {
	f        *os.File
	pageSize int
	nextPage uint32
	pageMax  uint32
}

func openFilePagerForRead(path string, pageSize int) (*filePager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	pageMax := uint32(info.Size() / int64(pageSize))
	return &filePager{f: f, pageSize: pageSize, pageMax: pageMax}, nil
}

func openFilePagerForWrite(path string, pageSize int) (*filePager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &filePager{f: f, pageSize: pageSize}, nil
}

func (p *filePager) Close() error {
	return p.f.Close()
}

// NextPage reads the pages of the file in order, starting at page 0.
func (p *filePager) NextPage(ctx context.Context) (uint32, []byte, error) {
	if p.nextPage >= p.pageMax {
		return 0, nil, io.EOF
	}
	pageNo := p.nextPage
	p.nextPage++

	buf := make([]byte, p.pageSize)
	if _, err := p.f.ReadAt(buf, int64(pageNo)*int64(p.pageSize)); err != nil {
		return 0, nil, fmt.Errorf("read page %d: %w", pageNo, err)
	}
	return pageNo, buf, nil
}

// WritePage writes page at its pageNo-th slot, extending the file as
// needed.
func (p *filePager) WritePage(ctx context.Context, pageNo uint32, page []byte) error {
	if _, err := p.f.WriteAt(page, int64(pageNo)*int64(p.pageSize)); err != nil {
		return fmt.Errorf("write page %d: %w", pageNo, err)
	}
	return nil
}
