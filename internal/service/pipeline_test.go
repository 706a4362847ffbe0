package service

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/embedding"
	"github.com/cloo-solutions/docpipe/internal/extract"
	"github.com/cloo-solutions/docpipe/internal/logging"
	"github.com/cloo-solutions/docpipe/internal/storage"
	"github.com/cloo-solutions/docpipe/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProviderBuilder struct {
	mock.Mock
}

func (m *MockProviderBuilder) Check(cfg domain.EmbeddingConfig) error {
	args := m.Called(cfg)
	return args.Error(0)
}

func (m *MockProviderBuilder) Build(ctx context.Context, cfg domain.EmbeddingConfig, identity string) (embedding.Provider, error) {
	args := m.Called(ctx, cfg, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(embedding.Provider), args.Error(1)
}

// stubProvider returns fixed three-dimensional vectors or err.
type stubProvider struct {
	err     error
	short   bool
	calls   int32
	onEmbed func()
}

func (p *stubProvider) Model() string              { return "stub-model" }
func (p *stubProvider) Type() domain.EmbeddingType { return domain.EmbeddingTypeRemote }

func (p *stubProvider) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.onEmbed != nil {
		p.onEmbed()
	}
	if p.err != nil {
		return nil, p.err
	}
	n := len(texts)
	if p.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

type pipelineFixture struct {
	svc         *PipelineService
	docs        *memDocuments
	chunks      *memChunks
	collections *memCollections
	blobs       storage.BlobStore
	store       *vectorstore.BoltStore
	locks       *DocumentLocks
	tx          *testTxRunner
}

func newPipelineFixture(t *testing.T, builder ProviderBuilder) *pipelineFixture {
	t.Helper()

	if builder == nil {
		factory, err := embedding.NewFactory(embedding.Options{LocalWorkers: 2}, nil, logging.Discard())
		require.NoError(t, err)
		t.Cleanup(factory.Release)
		builder = factory
	}

	blobs, err := storage.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)
	store, err := vectorstore.NewBoltStore(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	f := &pipelineFixture{
		docs:        newMemDocuments(),
		chunks:      newMemChunks(),
		collections: newMemCollections(),
		blobs:       blobs,
		store:       store,
		locks:       NewDocumentLocks(),
	}
	f.tx = &testTxRunner{repos: &testTxRepos{documents: f.docs, chunks: f.chunks}}

	require.NoError(t, f.collections.Create(context.Background(),
		domain.NewCollection("col-1", "handbook", domain.CollectionTypeDoc, time.Now().UTC())))

	f.svc = NewPipelineService(PipelineDeps{
		Documents:   f.docs,
		Collections: f.collections,
		TxRunner:    f.tx,
		Blobs:       blobs,
		Extractor:   extract.NewRegistry(),
		Providers:   builder,
		Vectors:     store,
		Locks:       f.locks,
		Logger:      logging.Discard(),
	})
	return f
}

func (f *pipelineFixture) addDocument(t *testing.T, id, filename, content string) *domain.Document {
	t.Helper()
	ctx := context.Background()
	doc := domain.NewDocument(id, "col-1", filename, "collections/col-1/"+id, time.Now().UTC())
	require.NoError(t, f.blobs.Put(ctx, doc.StorageKey, strings.NewReader(content), int64(len(content)), ""))
	require.NoError(t, f.docs.Create(ctx, doc))
	return doc
}

func characterBundle() domain.ProcessConfig {
	cfg := domain.DefaultProcessConfig()
	cfg.Splitter = domain.SplitterConfig{TextSplitter: domain.SplitterCharacter, ChunkSize: 1000, ChunkOverlap: 200}
	return cfg
}

func helloWorld() string {
	return strings.Repeat("Hello world. ", 500)
}

func TestPipeline_Process_HelloWorld(t *testing.T) {
	f := newPipelineFixture(t, nil)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())

	result, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.NoError(t, err)

	assert.Equal(t, doc.ID, result.DocumentID)
	assert.Equal(t, 8, result.ChunkCount)
	assert.Equal(t, embedding.HashingModelName, result.EmbeddingModel)
	assert.Equal(t, domain.EmbeddingTypeLocal, result.EmbeddingType)
	assert.Equal(t, f.store.Path(doc.ID), result.VectorStorePath)

	stored := f.docs.get(doc.ID)
	assert.Equal(t, domain.DocumentStatusReady, stored.Status)
	assert.Equal(t, 6500, stored.CharCount)
	assert.Equal(t, result.VectorStorePath, stored.VectorStorePath)
	assert.Empty(t, stored.FailedStage)

	chunks, err := f.chunks.ListByDocument(context.Background(), doc.ID, domain.ChunkFilter{})
	require.NoError(t, err)
	require.Len(t, chunks, 8)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.True(t, c.Enabled)
	}

	records, err := f.store.Load(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, records, 8)
	for i, rec := range records {
		assert.Equal(t, i, rec.Metadata.ChunkIndex)
		assert.Equal(t, doc.ID, rec.Metadata.DocumentID)
		assert.Equal(t, chunks[i].Content, rec.Text)
		assert.Len(t, rec.Vector, embedding.DefaultHashingDimensions)
	}

	col, err := f.collections.GetByID(context.Background(), "col-1")
	require.NoError(t, err)
	require.NotNil(t, col.EmbeddingConfig)
	assert.Equal(t, domain.SplitterCharacter, col.EmbeddingConfig.Splitter.TextSplitter)
	assert.True(t, f.tx.called)
}

func TestPipeline_Process_ReprocessReplacesGeneration(t *testing.T) {
	f := newPipelineFixture(t, nil)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())
	ctx := context.Background()

	_, err := f.svc.Process(ctx, ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.NoError(t, err)
	first, err := f.chunks.ListByDocument(ctx, doc.ID, domain.ChunkFilter{})
	require.NoError(t, err)

	result, err := f.svc.Process(ctx, ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.NoError(t, err)
	assert.Equal(t, 8, result.ChunkCount)

	second, err := f.chunks.ListByDocument(ctx, doc.ID, domain.ChunkFilter{})
	require.NoError(t, err)
	require.Len(t, second, 8)
	assert.NotEqual(t, first[0].Generation, second[0].Generation)
	for _, c := range second {
		assert.Equal(t, second[0].Generation, c.Generation)
	}

	records, err := f.store.Load(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, records, 8)
}

func TestPipeline_Process_UnsupportedFormat(t *testing.T) {
	builder := new(MockProviderBuilder)
	builder.On("Check", mock.Anything).Return(nil)

	f := newPipelineFixture(t, builder)
	doc := f.addDocument(t, "doc-exe", "setup.exe", "MZ\x90\x00")

	result, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, domain.ErrCodeUnsupportedFormat, domain.ErrorCode(err))

	stage, ok := domain.FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, domain.DocumentStatusExtracting, stage)

	stored := f.docs.get(doc.ID)
	assert.Equal(t, domain.DocumentStatusFailed, stored.Status)
	assert.Equal(t, domain.DocumentStatusExtracting, stored.FailedStage)
	assert.Contains(t, stored.FailureReason, ".exe")

	chunks, _ := f.chunks.ListByDocument(context.Background(), doc.ID, domain.ChunkFilter{})
	assert.Empty(t, chunks)
	builder.AssertNotCalled(t, "Build", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Process_EmbeddingFailureKeepsEarlierOutputs(t *testing.T) {
	provider := &stubProvider{err: domain.NewProviderError("upstream exploded", nil)}
	builder := new(MockProviderBuilder)
	builder.On("Check", mock.Anything).Return(nil)
	builder.On("Build", mock.Anything, mock.Anything, "alice").Return(provider, nil)

	f := newPipelineFixture(t, builder)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())

	_, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Identity: "alice", Config: characterBundle()})
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeProvider, domain.ErrorCode(err))
	stage, _ := domain.FailedStage(err)
	assert.Equal(t, domain.DocumentStatusEmbedding, stage)

	stored := f.docs.get(doc.ID)
	assert.Equal(t, domain.DocumentStatusFailed, stored.Status)
	assert.Equal(t, domain.DocumentStatusEmbedding, stored.FailedStage)
	assert.Equal(t, 6500, stored.CharCount)
	assert.Empty(t, stored.VectorStorePath)

	chunks, _ := f.chunks.ListByDocument(context.Background(), doc.ID, domain.ChunkFilter{})
	assert.Len(t, chunks, 8)

	_, err = f.store.Load(context.Background(), doc.ID)
	assert.ErrorIs(t, err, domain.ErrVectorCollectionAbsent)
	builder.AssertExpectations(t)
}

func TestPipeline_Process_RateLimitedLeavesNoCollection(t *testing.T) {
	provider := &stubProvider{err: domain.NewProviderRateLimitError("openai rate limited", nil)}
	builder := new(MockProviderBuilder)
	builder.On("Check", mock.Anything).Return(nil)
	builder.On("Build", mock.Anything, mock.Anything, mock.Anything).Return(provider, nil)

	f := newPipelineFixture(t, builder)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())

	_, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeProviderRateLimited, domain.ErrorCode(err))

	_, err = f.store.Load(context.Background(), doc.ID)
	assert.ErrorIs(t, err, domain.ErrVectorCollectionAbsent)
}

func TestPipeline_Process_VectorCountMismatch(t *testing.T) {
	provider := &stubProvider{short: true}
	builder := new(MockProviderBuilder)
	builder.On("Check", mock.Anything).Return(nil)
	builder.On("Build", mock.Anything, mock.Anything, mock.Anything).Return(provider, nil)

	f := newPipelineFixture(t, builder)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())

	_, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeProvider, domain.ErrorCode(err))
	assert.Contains(t, err.Error(), "7 vectors for 8 chunks")
}

func TestPipeline_Process_Busy(t *testing.T) {
	f := newPipelineFixture(t, nil)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())

	require.True(t, f.locks.TryLock(doc.ID))
	_, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeConflict, domain.ErrorCode(err))
	assert.Equal(t, domain.DocumentStatusUploaded, f.docs.get(doc.ID).Status)

	f.locks.Unlock(doc.ID)
	_, err = f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.NoError(t, err)
}

func TestPipeline_Process_DeletedBeforeEmbeddingSkipsProvider(t *testing.T) {
	provider := &stubProvider{}
	builder := new(MockProviderBuilder)
	builder.On("Check", mock.Anything).Return(nil)
	builder.On("Build", mock.Anything, mock.Anything, mock.Anything).Return(provider, nil)

	f := newPipelineFixture(t, builder)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())
	// The second lookup is the re-check right before embedding.
	f.docs.deleteOnGet = 2

	_, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDocumentSuperseded)
	stage, _ := domain.FailedStage(err)
	assert.Equal(t, domain.DocumentStatusEmbedding, stage)

	assert.Equal(t, int32(0), atomic.LoadInt32(&provider.calls))
	builder.AssertNotCalled(t, "Build", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Process_InvalidConfigFailsBeforeAnyStage(t *testing.T) {
	f := newPipelineFixture(t, nil)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())

	cfg := characterBundle()
	cfg.Splitter.ChunkOverlap = cfg.Splitter.ChunkSize

	_, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: cfg})
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeConfig, domain.ErrorCode(err))
	_, tagged := domain.FailedStage(err)
	assert.False(t, tagged)

	stored := f.docs.get(doc.ID)
	assert.Equal(t, domain.DocumentStatusUploaded, stored.Status)
	assert.Zero(t, stored.CharCount)
}

func TestPipeline_Process_UnknownModelIsConfigError(t *testing.T) {
	f := newPipelineFixture(t, nil)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())

	cfg := characterBundle()
	cfg.Embedding = domain.EmbeddingConfig{Type: domain.EmbeddingTypeLocal, Model: "bert-large"}

	_, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: cfg})
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeConfig, domain.ErrorCode(err))
	assert.Equal(t, domain.DocumentStatusUploaded, f.docs.get(doc.ID).Status)
}

func TestPipeline_Process_MissingDocument(t *testing.T) {
	f := newPipelineFixture(t, nil)

	_, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: "nope", Config: characterBundle()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestPipeline_Process_EmptyTextIsReadyWithNoChunks(t *testing.T) {
	f := newPipelineFixture(t, nil)
	doc := f.addDocument(t, "doc-1", "empty.txt", "")

	result, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ChunkCount)
	assert.Equal(t, domain.DocumentStatusReady, f.docs.get(doc.ID).Status)

	records, err := f.store.Load(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPipeline_Process_CleaningApplied(t *testing.T) {
	f := newPipelineFixture(t, nil)
	doc := f.addDocument(t, "doc-1", "notes.txt", "contact ops@example.com or see https://example.com/runbook today")

	cfg := domain.DefaultProcessConfig()
	cfg.Clean = domain.CleanConfig{RemoveURLs: true, RemoveEmails: true}

	_, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: cfg})
	require.NoError(t, err)

	stored := f.docs.get(doc.ID)
	assert.Equal(t, 64, stored.CharCount)

	chunks, err := f.chunks.ListByDocument(context.Background(), doc.ID, domain.ChunkFilter{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.NotContains(t, chunks[0].Content, "example.com")
	assert.Contains(t, chunks[0].Content, "contact")
}

func TestPipeline_Process_RestartsStuckDocument(t *testing.T) {
	f := newPipelineFixture(t, nil)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())
	require.NoError(t, f.docs.UpdateStatus(context.Background(), doc.ID, domain.DocumentStatusEmbedding))

	result, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.NoError(t, err)
	assert.Equal(t, 8, result.ChunkCount)
	assert.Equal(t, domain.DocumentStatusReady, f.docs.get(doc.ID).Status)
}

func TestPipeline_Process_ChunkWriteFailure(t *testing.T) {
	f := newPipelineFixture(t, nil)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())
	f.tx.err = assert.AnError

	_, err := f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.Error(t, err)
	stage, _ := domain.FailedStage(err)
	assert.Equal(t, domain.DocumentStatusChunking, stage)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 6500, f.docs.get(doc.ID).CharCount)
}

func TestPipeline_Process_CancelledMidRunStillRecordsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := &stubProvider{onEmbed: cancel, err: context.Canceled}
	builder := new(MockProviderBuilder)
	builder.On("Check", mock.Anything).Return(nil)
	builder.On("Build", mock.Anything, mock.Anything, mock.Anything).Return(provider, nil)

	f := newPipelineFixture(t, builder)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())

	_, err := f.svc.Process(ctx, ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.Error(t, err)

	got := f.docs.get(doc.ID)
	assert.Equal(t, domain.DocumentStatusFailed, got.Status)
	assert.Equal(t, domain.DocumentStatusEmbedding, got.FailedStage)
	assert.NotEmpty(t, got.FailureReason)

	col, err := f.collections.GetByID(context.Background(), "col-1")
	require.NoError(t, err)
	assert.NotNil(t, col.EmbeddingConfig)
}

func TestPipeline_Process_HeldByOtherReplica(t *testing.T) {
	shared := newMemSharedLocker()
	f := newPipelineFixture(t, nil)
	f.svc.locks = NewSharedDocumentLocks(shared)
	doc := f.addDocument(t, "doc-1", "hello.txt", helloWorld())

	release, ok, err := shared.TryAcquire(context.Background(), "document:"+doc.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	assert.ErrorIs(t, err, domain.ErrDocumentBusy)
	assert.Equal(t, domain.DocumentStatusUploaded, f.docs.get(doc.ID).Status)

	release()
	_, err = f.svc.Process(context.Background(), ProcessInput{DocumentID: doc.ID, Config: characterBundle()})
	require.NoError(t, err)
	assert.Empty(t, shared.held)
}
