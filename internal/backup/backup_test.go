package backup

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
	cryptoService "github.com/evfsdb/evfs/internal/crypto/service"
	"github.com/evfsdb/evfs/internal/envelope"
	"github.com/evfsdb/evfs/internal/fsctx"
	"github.com/evfsdb/evfs/internal/keyring"
)

type fakeProvider struct {
	kekID string
	kek   []byte
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	kek := make([]byte, 32)
	_, err := rand.Read(kek)
	require.NoError(t, err)
	return &fakeProvider{kekID: "device:passphrase", kek: kek}
}

func (f *fakeProvider) GetKEK(ctx context.Context) (string, []byte, error) {
	keyCopy := make([]byte, len(f.kek))
	copy(keyCopy, f.kek)
	return f.kekID, keyCopy, nil
}

func (f *fakeProvider) GetKEKByID(ctx context.Context, kekID string) ([]byte, error) {
	if kekID != f.kekID {
		return nil, cryptoDomain.ErrKekNotFound
	}
	keyCopy := make([]byte, len(f.kek))
	copy(keyCopy, f.kek)
	return keyCopy, nil
}

func newFileContext(t *testing.T) *fsctx.FileContext {
	t.Helper()
	aeadManager := cryptoService.NewAEADManager()
	wrapper := envelope.NewWrapper(aeadManager, newFakeProvider(t))
	kr := keyring.New(wrapper, nil)
	return fsctx.New(kr, aeadManager, 4096, 48, true)
}

// memoryPages is an in-memory PageSource/PageSink over a fixed set of
// pages, standing in for the source/destination DB files.
type memoryPages struct {
	order []uint32
	data  map[uint32][]byte
	pos   int
}

func newMemoryPages(pages map[uint32][]byte) *memoryPages {
	order := make([]uint32, 0, len(pages))
	for no := range pages {
		order = append(order, no)
	}
	return &memoryPages{order: order, data: pages}
}

func (m *memoryPages) NextPage(ctx context.Context) (uint32, []byte, error) {
	if m.pos >= len(m.order) {
		return 0, nil, io.EOF
	}
	no := m.order[m.pos]
	m.pos++
	page := make([]byte, len(m.data[no]))
	copy(page, m.data[no])
	return no, page, nil
}

func (m *memoryPages) WritePage(ctx context.Context, pageNo uint32, page []byte) error {
	stored := make([]byte, len(page))
	copy(stored, page)
	m.data[pageNo] = stored
	return nil
}

func encryptedSourcePages(t *testing.T, fc *fsctx.FileContext, plaintexts map[uint32][]byte) map[uint32][]byte {
	t.Helper()
	ctx := context.Background()
	out := make(map[uint32][]byte, len(plaintexts))
	for no, pt := range plaintexts {
		page := make([]byte, len(pt))
		copy(page, pt)
		require.NoError(t, fc.EncryptPageCtx(ctx, page, no))
		out[no] = page
	}
	return out
}

func TestPipeline_Run_RekeysAllPages(t *testing.T) {
	ctx := context.Background()
	src := newFileContext(t)
	dst := newFileContext(t)

	plaintexts := map[uint32][]byte{
		1: bytesOf(t, 4096, 0xAA),
		2: bytesOf(t, 4096, 0xBB),
		3: bytesOf(t, 4096, 0xCC),
	}
	encrypted := encryptedSourcePages(t, src, plaintexts)

	source := newMemoryPages(encrypted)
	sink := newMemoryPages(map[uint32][]byte{})

	p := New(src, dst, nil, nil)
	result, err := p.Run(ctx, source, sink)
	require.NoError(t, err)
	assert.Equal(t, 3, result.PagesCopied)
	assert.NotEmpty(t, result.RunID)

	for no, pt := range plaintexts {
		got := make([]byte, len(sink.data[no]))
		copy(got, sink.data[no])
		require.NoError(t, dst.DecryptPageCtx(ctx, got, no))
		assert.Equal(t, pt[:4096-48], got[:4096-48])
	}
}

func TestPipeline_Run_EmptySourceProducesNoPages(t *testing.T) {
	ctx := context.Background()
	src := newFileContext(t)
	dst := newFileContext(t)

	p := New(src, dst, nil, nil)
	result, err := p.Run(ctx, newMemoryPages(map[uint32][]byte{}), newMemoryPages(map[uint32][]byte{}))
	require.NoError(t, err)
	assert.Equal(t, 0, result.PagesCopied)
}

func TestPipeline_Run_SourceDecryptFailureStopsRun(t *testing.T) {
	ctx := context.Background()
	src := newFileContext(t)
	dst := newFileContext(t)

	corrupt := map[uint32][]byte{1: bytesOf(t, 4096, 0x00)}

	p := New(src, dst, nil, nil)
	_, err := p.Run(ctx, newMemoryPages(corrupt), newMemoryPages(map[uint32][]byte{}))
	assert.Error(t, err)
}

func TestPipeline_Run_ContextCancelledStopsRun(t *testing.T) {
	src := newFileContext(t)
	dst := newFileContext(t)

	plaintexts := map[uint32][]byte{1: bytesOf(t, 4096, 0xAA)}
	encrypted := encryptedSourcePages(t, src, plaintexts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(src, dst, nil, nil)
	_, err := p.Run(ctx, newMemoryPages(encrypted), newMemoryPages(map[uint32][]byte{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_Run_NoGoroutineLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	src := newFileContext(t)
	dst := newFileContext(t)

	plaintexts := map[uint32][]byte{1: bytesOf(t, 4096, 0xAA), 2: bytesOf(t, 4096, 0xBB)}
	encrypted := encryptedSourcePages(t, src, plaintexts)

	p := New(src, dst, nil, nil)
	_, err := p.Run(ctx, newMemoryPages(encrypted), newMemoryPages(map[uint32][]byte{}))
	require.NoError(t, err)
}

func bytesOf(t *testing.T, n int, b byte) []byte {
	t.Helper()
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
