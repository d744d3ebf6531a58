package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/testutil"
	"github.com/BaSui01/aigate/testutil/mocks"
	"github.com/BaSui01/aigate/types"
)

// recordingSubmit echoes each prompt back and remembers every batch.
type recordingSubmit struct {
	mu      sync.Mutex
	batches [][]string
	err     error
	gate    chan struct{}
}

func (r *recordingSubmit) submit(ctx context.Context, p llm.Provider, reqs []*llm.Request) ([]*llm.Response, error) {
	if r.gate != nil {
		<-r.gate
	}
	prompts := make([]string, len(reqs))
	for i, req := range reqs {
		prompts[i] = req.Prompt
	}
	r.mu.Lock()
	r.batches = append(r.batches, prompts)
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]*llm.Response, len(reqs))
	for i, req := range reqs {
		out[i] = &llm.Response{Text: "echo:" + req.Prompt, ProviderName: p.Name()}
	}
	return out, nil
}

func (r *recordingSubmit) Batches() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.batches))
	copy(out, r.batches)
	return out
}

type outcome struct {
	resp *llm.Response
	err  error
}

func addAsync(b *Batcher, p llm.Provider, req *llm.Request) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		resp, err := b.Add(context.Background(), p, req)
		ch <- outcome{resp, err}
	}()
	return ch
}

func waitSubmitted(t *testing.T, b *Batcher, n int64) {
	t.Helper()
	require.True(t, testutil.WaitFor(func() bool { return b.Stats().Submitted >= n }, 2*time.Second))
}

func TestBatcher_FlushesAtMaxSize(t *testing.T) {
	rec := &recordingSubmit{}
	b := New(Config{MaxSize: 3, Window: time.Hour}, rec.submit, nil)
	defer b.Close()
	p := mocks.NewMockProvider("openai")

	chans := make([]<-chan outcome, 3)
	for i := range chans {
		chans[i] = addAsync(b, p, testutil.NewRequest(llm.FeatureClarity, fmt.Sprintf("q%d", i)))
	}

	for i, ch := range chans {
		out, ok := testutil.WaitForChannel(ch, 2*time.Second)
		require.True(t, ok, "item %d timed out", i)
		require.NoError(t, out.err)
	}
	require.Len(t, rec.Batches(), 1)
	assert.Len(t, rec.Batches()[0], 3)

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Batches)
	assert.Equal(t, int64(3), stats.Completed)
	assert.Equal(t, 0, stats.Pending)
	assert.InDelta(t, 3.0, stats.Efficiency(), 0.001)
}

func TestBatcher_FlushesOnWindow(t *testing.T) {
	rec := &recordingSubmit{}
	b := New(Config{MaxSize: 10, Window: 30 * time.Millisecond}, rec.submit, nil)
	defer b.Close()
	p := mocks.NewMockProvider("openai")

	first := addAsync(b, p, testutil.NewRequest(llm.FeatureMax, "a"))
	waitSubmitted(t, b, 1)
	second := addAsync(b, p, testutil.NewRequest(llm.FeatureMax, "b"))

	for _, ch := range []<-chan outcome{first, second} {
		out, ok := testutil.WaitForChannel(ch, 2*time.Second)
		require.True(t, ok)
		require.NoError(t, out.err)
	}
	assert.Equal(t, [][]string{{"a", "b"}}, rec.Batches())
}

func TestBatcher_ResultsMatchByPosition(t *testing.T) {
	rec := &recordingSubmit{}
	b := New(Config{MaxSize: 4, Window: time.Hour}, rec.submit, nil)
	defer b.Close()
	p := mocks.NewMockProvider("openai")

	chans := make(map[string]<-chan outcome)
	for i := 0; i < 4; i++ {
		prompt := fmt.Sprintf("prompt-%d", i)
		chans[prompt] = addAsync(b, p, testutil.NewRequest(llm.FeatureCompanion, prompt))
	}

	for prompt, ch := range chans {
		out, ok := testutil.WaitForChannel(ch, 2*time.Second)
		require.True(t, ok)
		require.NoError(t, out.err)
		assert.Equal(t, "echo:"+prompt, out.resp.Text)
		assert.Equal(t, "openai", out.resp.ProviderName)
	}
}

func TestBatcher_FailureReachesEveryItem(t *testing.T) {
	cause := errors.New("upstream exploded")
	rec := &recordingSubmit{err: cause}
	b := New(Config{MaxSize: 3, Window: time.Hour}, rec.submit, nil)
	defer b.Close()
	p := mocks.NewMockProvider("openai")

	chans := make([]<-chan outcome, 3)
	for i := range chans {
		chans[i] = addAsync(b, p, testutil.NewRequest(llm.FeatureClarity, fmt.Sprintf("q%d", i)))
	}

	var errs []error
	for _, ch := range chans {
		out, ok := testutil.WaitForChannel(ch, 2*time.Second)
		require.True(t, ok)
		assert.Nil(t, out.resp)
		require.Error(t, out.err)
		errs = append(errs, out.err)
	}
	for _, err := range errs {
		assert.Same(t, errs[0], err)
		assert.Equal(t, types.ErrBatchFailed, types.GetErrorCode(err))
		assert.ErrorIs(t, err, cause)
	}
	assert.Equal(t, int64(3), b.Stats().Failed)
}

func TestBatcher_ShortResponseFailsBatch(t *testing.T) {
	short := func(ctx context.Context, p llm.Provider, reqs []*llm.Request) ([]*llm.Response, error) {
		return []*llm.Response{{Text: "one"}}, nil
	}
	b := New(Config{MaxSize: 2, Window: time.Hour}, short, nil)
	defer b.Close()
	p := mocks.NewMockProvider("openai")

	a := addAsync(b, p, testutil.NewRequest(llm.FeatureClarity, "a"))
	c := addAsync(b, p, testutil.NewRequest(llm.FeatureClarity, "b"))
	for _, ch := range []<-chan outcome{a, c} {
		out, ok := testutil.WaitForChannel(ch, 2*time.Second)
		require.True(t, ok)
		assert.Equal(t, types.ErrBatchFailed, types.GetErrorCode(out.err))
	}
}

func TestBatcher_KeysDoNotMix(t *testing.T) {
	rec := &recordingSubmit{}
	b := New(Config{MaxSize: 2, Window: time.Hour}, rec.submit, nil)
	defer b.Close()
	openai := mocks.NewMockProvider("openai")
	anthropic := mocks.NewMockProvider("anthropic")

	chans := []<-chan outcome{
		addAsync(b, openai, testutil.NewRequest(llm.FeatureClarity, "o1")),
		addAsync(b, anthropic, testutil.NewRequest(llm.FeatureClarity, "a1")),
		addAsync(b, openai, testutil.NewRequest(llm.FeatureMax, "m1")),
	}
	waitSubmitted(t, b, 3)
	assert.Empty(t, rec.Batches())
	assert.Equal(t, 3, b.Stats().Pending)

	b.Close()
	for _, ch := range chans {
		out, ok := testutil.WaitForChannel(ch, 2*time.Second)
		require.True(t, ok)
		require.NoError(t, out.err)
	}
	assert.Len(t, rec.Batches(), 3)
	for _, batch := range rec.Batches() {
		assert.Len(t, batch, 1)
	}
}

func TestBatcher_CallerCancelDoesNotCancelBatch(t *testing.T) {
	rec := &recordingSubmit{gate: make(chan struct{})}
	b := New(Config{MaxSize: 2, Window: time.Hour}, rec.submit, nil)
	p := mocks.NewMockProvider("openai")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Add(ctx, p, testutil.NewRequest(llm.FeatureClarity, "gives up"))
		errCh <- err
	}()
	waitSubmitted(t, b, 1)
	patient := addAsync(b, p, testutil.NewRequest(llm.FeatureClarity, "waits"))

	cancel()
	err, ok := testutil.WaitForChannel(errCh, 2*time.Second)
	require.True(t, ok)
	assert.ErrorIs(t, err, context.Canceled)

	close(rec.gate)
	out, ok := testutil.WaitForChannel(patient, 2*time.Second)
	require.True(t, ok)
	require.NoError(t, out.err)
	assert.Equal(t, "echo:waits", out.resp.Text)

	b.Close()
	assert.Equal(t, [][]string{{"gives up", "waits"}}, rec.Batches())
}

func TestBatcher_AddAfterClose(t *testing.T) {
	b := New(Config{}, (&recordingSubmit{}).submit, nil)
	b.Close()
	b.Close()

	_, err := b.Add(context.Background(), mocks.NewMockProvider("openai"), testutil.NewRequest(llm.FeatureClarity, "late"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBatcher_DefaultSubmitUsesProviderBatch(t *testing.T) {
	b := New(Config{MaxSize: 2, Window: time.Hour}, nil, nil)
	defer b.Close()
	p := mocks.NewBatchMockProvider("openai")

	a := addAsync(b, p, testutil.NewRequest(llm.FeatureClarity, "a"))
	c := addAsync(b, p, testutil.NewRequest(llm.FeatureClarity, "b"))
	for _, ch := range []<-chan outcome{a, c} {
		out, ok := testutil.WaitForChannel(ch, 2*time.Second)
		require.True(t, ok)
		require.NoError(t, out.err)
	}
	assert.Len(t, p.Batches(), 1)
	assert.Equal(t, 0, p.GenerateCalls())
}

type recordedBatch struct {
	key    string
	size   int
	status string
}

type fakeRecorder struct {
	mu  sync.Mutex
	got []recordedBatch
}

func (f *fakeRecorder) RecordBatch(key string, size int, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, recordedBatch{key, size, status})
}

func TestBatcher_Recorder(t *testing.T) {
	rec := &fakeRecorder{}
	b := New(Config{MaxSize: 1, Window: time.Hour}, (&recordingSubmit{}).submit, nil).WithRecorder(rec)
	defer b.Close()

	_, err := b.Add(context.Background(), mocks.NewMockProvider("openai"), testutil.NewRequest(llm.FeatureMax, "x"))
	require.NoError(t, err)

	require.True(t, testutil.WaitFor(func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.got) == 1
	}, time.Second))
	assert.Equal(t, recordedBatch{Key(llm.FeatureMax, "openai"), 1, "success"}, rec.got[0])
}

// Every item lands in exactly one batch, batches never exceed MaxSize or mix
// keys, and arrival order within a key is preserved.
func TestProperty_BatchPartitioning(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxSize := rapid.IntRange(1, 5).Draw(rt, "maxSize")
		features := []llm.Feature{llm.FeatureClarity, llm.FeatureMax, llm.FeatureCompanion}
		picks := rapid.SliceOfN(rapid.IntRange(0, len(features)-1), 1, 30).Draw(rt, "picks")

		rec := &recordingSubmit{}
		b := New(Config{MaxSize: maxSize, Window: time.Hour}, rec.submit, nil)
		p := mocks.NewMockProvider("openai")

		featureOf := make(map[string]llm.Feature)
		arrivals := make(map[llm.Feature][]string)
		chans := make([]<-chan outcome, 0, len(picks))
		for i, pick := range picks {
			f := features[pick]
			prompt := fmt.Sprintf("%03d", i)
			featureOf[prompt] = f
			arrivals[f] = append(arrivals[f], prompt)
			chans = append(chans, addAsync(b, p, testutil.NewRequest(f, prompt)))
			if !testutil.WaitFor(func() bool { return b.Stats().Submitted >= int64(i+1) }, 2*time.Second) {
				rt.Fatalf("item %d was never queued", i)
			}
		}
		b.Close()

		for i, ch := range chans {
			out, ok := testutil.WaitForChannel(ch, 2*time.Second)
			if !ok || out.err != nil {
				rt.Fatalf("item %d: ok=%v err=%v", i, ok, out.err)
			}
		}

		// Batches of one key may flush concurrently, so order them by their
		// first arrival before concatenating.
		batches := rec.Batches()
		sort.Slice(batches, func(i, j int) bool { return batches[i][0] < batches[j][0] })

		byFeature := make(map[llm.Feature][]string)
		for _, batch := range batches {
			if len(batch) == 0 || len(batch) > maxSize {
				rt.Fatalf("batch size %d outside [1,%d]", len(batch), maxSize)
			}
			f := featureOf[batch[0]]
			for _, prompt := range batch {
				if featureOf[prompt] != f {
					rt.Fatalf("batch %v mixes %s and %s", batch, f, featureOf[prompt])
				}
			}
			byFeature[f] = append(byFeature[f], batch...)
		}

		for f, want := range arrivals {
			if got := byFeature[f]; !slices.Equal(got, want) {
				rt.Fatalf("feature %s: got %v, want %v", f, got, want)
			}
		}
	})
}
