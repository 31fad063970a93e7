package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
	"github.com/JakeFAU/worklist-harvester/internal/clock/system"
	"github.com/JakeFAU/worklist-harvester/internal/harvest"
	"github.com/JakeFAU/worklist-harvester/internal/hash/sha256"
	"github.com/JakeFAU/worklist-harvester/internal/headless/detector"
	pubmemory "github.com/JakeFAU/worklist-harvester/internal/publisher/memory"
	"github.com/JakeFAU/worklist-harvester/internal/storage/local"
	blobmemory "github.com/JakeFAU/worklist-harvester/internal/storage/memory"
)

const (
	baseURL      = "https://en.wikipedia.org"
	beethovenURL = baseURL + "/wiki/List_of_compositions_by_Ludwig_van_Beethoven"
	composersURL = baseURL + "/wiki/List_of_composers_by_name"
)

const beethovenPage = `<html><body>
<table class="wikitable">
  <tr><th>Title</th><th>Year</th><th>Key</th><th>Opus</th><th>Notes</th></tr>
  <tr>
    <td><a href="/wiki/Symphony_No._5_(Beethoven)">Symphony No. 5</a></td>
    <td>1807–1808</td><td>C minor</td><td>Op. 67</td><td>Premiered 1808</td>
  </tr>
  <tr><td>Op</td><td>1800</td><td></td><td></td><td></td></tr>
  <tr><td><a href="/wiki/Fidelio">Fidelio</a></td><td>1805</td><td></td><td>Op. 72</td><td>opera</td></tr>
</table>
<table>
  <tr><td>1810</td><td><a href="/wiki/Egmont_(Beethoven)">Egmont</a></td></tr>
</table>
</body></html>`

const composersPage = `<html><body><ul>
<li><a href="/wiki/Carl_Friedrich_Abel" title="Carl Friedrich Abel">Carl Friedrich Abel</a> (1723–1787)</li>
<li><a href="/wiki/Arvo_P%C3%A4rt" title="Arvo Pärt">Arvo Pärt</a> (born 1935)</li>
<li><a href="/wiki/Help:Contents" title="Help">contents</a></li>
</ul></body></html>`

type stubFetcher struct {
	mu       sync.Mutex
	pages    map[string]catalog.FetchResponse
	err      error
	headless bool
	calls    []string
}

func (s *stubFetcher) Fetch(_ context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.URL)
	if s.err != nil {
		return catalog.FetchResponse{}, s.err
	}
	resp, ok := s.pages[req.URL]
	if !ok {
		return catalog.FetchResponse{}, errors.New("status 404: Not Found")
	}
	resp.UsedHeadless = s.headless
	return resp, nil
}

func page(url, body string) catalog.FetchResponse {
	return catalog.FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte(body)}
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "run-" + string(rune('0'+s.n)), nil
}

type recordingRuns struct {
	mu   sync.Mutex
	runs []catalog.RunSummary
	err  error
}

func (r *recordingRuns) RecordRun(_ context.Context, run catalog.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

type fixture struct {
	runner    *Runner
	dir       string
	fetcher   *stubFetcher
	archive   *blobmemory.BlobStore
	runs      *recordingRuns
	publisher *pubmemory.Publisher
}

func newFixture(t *testing.T, mutate func(*Deps)) fixture {
	t.Helper()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	f := fixture{
		dir: dir,
		fetcher: &stubFetcher{pages: map[string]catalog.FetchResponse{
			beethovenURL: page(beethovenURL, beethovenPage),
			composersURL: page(composersURL, composersPage),
		}},
		archive:   blobmemory.NewBlobStore(),
		runs:      &recordingRuns{},
		publisher: pubmemory.New(),
	}
	deps := Deps{
		Fetcher:   f.fetcher,
		Outputs:   store,
		Archive:   f.archive,
		Runs:      f.runs,
		Publisher: f.publisher,
		Hasher:    sha256.New(),
		Clock:     system.NewStepping(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Second),
		IDs:       &seqIDs{},
		Logger:    zap.NewNop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.runner, err = New(Options{
		BaseURL:          baseURL,
		ComposersURL:     composersURL,
		RawPrefix:        "raw-info-",
		CompositionsFile: "compositions.json",
		ComposersFile:    "composers.json",
		QueueCapacity:    2,
		Topic:            "harvest-runs",
	}, deps)
	require.NoError(t, err)
	return f
}

func readLines[T any](t *testing.T, path string) []T {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var v T
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &v))
		out = append(out, v)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestHarvestWorks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	summary, err := f.runner.HarvestWorks(context.Background(), "Ludwig van Beethoven")
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.ID)
	assert.Equal(t, catalog.RunKindWorks, summary.Kind)
	assert.Equal(t, catalog.RunStatusSucceeded, summary.Status)
	assert.Equal(t, beethovenURL, summary.SourceURL)
	assert.Equal(t, 4, summary.RawRecords)
	assert.Equal(t, 3, summary.AcceptedRecords)
	assert.Equal(t, 1, summary.RejectedRecords)
	assert.Zero(t, summary.DroppedRecords)
	assert.True(t, strings.HasPrefix(summary.ContentHash, sha256.Prefix))
	assert.Equal(t, time.Second, summary.FinishedAt.Sub(summary.StartedAt))
	assert.Empty(t, summary.ErrorText)

	rawPath := filepath.Join(f.dir, "raw-info-Ludwig_van_Beethoven.json")
	compPath := filepath.Join(f.dir, "compositions.json")
	assert.Equal(t, rawPath, summary.Outputs[StreamRaw])
	assert.Equal(t, compPath, summary.Outputs[StreamCompositions])

	raws := readLines[catalog.RawRecord](t, rawPath)
	require.Len(t, raws, 4)
	for i, raw := range raws[:3] {
		assert.Equal(t, 0, raw.TableIndex)
		assert.Equal(t, i, raw.RowIndex)
	}
	assert.Equal(t, 1, raws[3].TableIndex)

	recs := readLines[catalog.CanonicalRecord](t, compPath)
	require.Len(t, recs, 3)
	assert.Equal(t, "Symphony No. 5", recs[0].Title)
	require.NotNil(t, recs[0].Year)
	assert.Equal(t, "1807", *recs[0].Year)
	require.NotNil(t, recs[0].Opus)
	assert.Equal(t, "67", *recs[0].Opus)
	assert.Equal(t, map[string]string{"Notes": "Premiered 1808"}, recs[0].AdditionalInfo)
	assert.Equal(t, "Fidelio", recs[1].Title)
	assert.Equal(t, "Egmont", recs[2].Title)
	assert.Equal(t, raws[3], recs[2].RawData)

	assert.Equal(t, []string{
		"run-1/compositions.json",
		"run-1/raw-info-Ludwig_van_Beethoven.json",
	}, f.archive.Paths())
	assert.Equal(t, "memory://run-1/compositions.json", summary.Archived[StreamCompositions])

	require.Len(t, f.runs.runs, 1)
	assert.Equal(t, summary, f.runs.runs[0])
	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "harvest-runs", msgs[0].Topic)
	assert.Equal(t, summary, msgs[0].Payload)
}

func TestHarvestWorksTruncatesRawAndAppendsCompositions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	for i := 0; i < 2; i++ {
		_, err := f.runner.HarvestWorks(context.Background(), "Ludwig van Beethoven")
		require.NoError(t, err)
	}

	assert.Len(t, readLines[catalog.RawRecord](t, filepath.Join(f.dir, "raw-info-Ludwig_van_Beethoven.json")), 4)
	assert.Len(t, readLines[catalog.CanonicalRecord](t, filepath.Join(f.dir, "compositions.json")), 6)
}

func TestHarvestWorksFetchFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	summary, err := f.runner.HarvestWorks(context.Background(), "Nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch "+baseURL+"/wiki/List_of_compositions_by_Nobody")

	assert.Equal(t, catalog.RunStatusFailed, summary.Status)
	assert.Equal(t, err.Error(), summary.ErrorText)
	assert.NoFileExists(t, filepath.Join(f.dir, "raw-info-Nobody.json"))
	assert.Empty(t, f.archive.Paths())
	require.Len(t, f.runs.runs, 1)
	assert.Equal(t, catalog.RunStatusFailed, f.runs.runs[0].Status)
	assert.Len(t, f.publisher.Messages(), 1)
}

func TestHarvestWorksPromotesToHeadless(t *testing.T) {
	t.Parallel()

	rendered := &stubFetcher{
		pages:    map[string]catalog.FetchResponse{beethovenURL: page(beethovenURL, beethovenPage)},
		headless: true,
	}
	f := newFixture(t, func(d *Deps) {
		d.Headless = rendered
		d.Detector = detector.NewHeuristic(0, "")
	})
	f.fetcher.pages[beethovenURL] = page(beethovenURL, `<html><body><div id="__next"></div></body></html>`)

	summary, err := f.runner.HarvestWorks(context.Background(), "Ludwig van Beethoven")
	require.NoError(t, err)
	assert.True(t, summary.UsedHeadless)
	assert.Equal(t, 4, summary.RawRecords)
	assert.Equal(t, []string{beethovenURL}, rendered.calls)
}

func TestHarvestWorksKeepsPlainPageWhenHeadlessFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) {
		d.Headless = &stubFetcher{err: errors.New("chrome not installed")}
		d.Detector = detector.NewHeuristic(0, "")
	})
	f.fetcher.pages[beethovenURL] = page(beethovenURL, `<div id="app"></div>`)

	summary, err := f.runner.HarvestWorks(context.Background(), "Ludwig van Beethoven")
	require.NoError(t, err)
	assert.False(t, summary.UsedHeadless)
	assert.Zero(t, summary.RawRecords)
	assert.Empty(t, readLines[catalog.RawRecord](t, filepath.Join(f.dir, "raw-info-Ludwig_van_Beethoven.json")))
}

func TestArchiveAndPublishFailuresDoNotFailRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) { d.Archive = failingBlobs{} })
	f.runs.err = errors.New("db down")
	f.publisher.FailWith(errors.New("topic gone"))

	summary, err := f.runner.HarvestWorks(context.Background(), "Ludwig van Beethoven")
	require.NoError(t, err)
	assert.Equal(t, catalog.RunStatusSucceeded, summary.Status)
	assert.Contains(t, summary.ErrorText, "bucket unavailable")
	assert.Empty(t, summary.Archived)
	assert.Len(t, readLines[catalog.CanonicalRecord](t, filepath.Join(f.dir, "compositions.json")), 3)
}

type recordingLimiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, url)
	return l.err
}

func TestFetchesArePaced(t *testing.T) {
	t.Parallel()

	limiter := &recordingLimiter{}
	rendered := &stubFetcher{
		pages:    map[string]catalog.FetchResponse{beethovenURL: page(beethovenURL, beethovenPage)},
		headless: true,
	}
	f := newFixture(t, func(d *Deps) {
		d.Limiter = limiter
		d.Headless = rendered
		d.Detector = detector.NewHeuristic(0, "")
	})
	f.fetcher.pages[beethovenURL] = page(beethovenURL, `<div id="root"></div>`)

	_, err := f.runner.HarvestWorks(context.Background(), "Ludwig van Beethoven")
	require.NoError(t, err)
	assert.Equal(t, []string{beethovenURL, beethovenURL}, limiter.urls)
}

func TestRateLimitTimeoutFailsRun(t *testing.T) {
	t.Parallel()

	limiter := &recordingLimiter{err: context.DeadlineExceeded}
	f := newFixture(t, func(d *Deps) { d.Limiter = limiter })

	summary, err := f.runner.HarvestWorks(context.Background(), "Ludwig van Beethoven")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, catalog.RunStatusFailed, summary.Status)
	assert.Empty(t, f.fetcher.calls)
}

// brokenOutputs fails every write to the compositions file.
type brokenOutputs struct {
	*local.Store
}

type brokenFile struct{}

func (brokenFile) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }
func (brokenFile) Close() error              { return nil }

func (b brokenOutputs) Append(string) (io.WriteCloser, error) { return brokenFile{}, nil }

func TestStorageFailureAbortsRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) {
		d.Outputs = brokenOutputs{Store: d.Outputs.(*local.Store)}
	})
	summary, err := f.runner.HarvestWorks(context.Background(), "Ludwig van Beethoven")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left on device")
	assert.Equal(t, catalog.RunStatusFailed, summary.Status)
	assert.Empty(t, f.archive.Paths())
	// the raw stream completed before canonicalization started
	assert.Len(t, readLines[catalog.RawRecord](t, filepath.Join(f.dir, "raw-info-Ludwig_van_Beethoven.json")), 4)
}

func TestProcessDocumentCanceled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	doc := mustDoc(t, beethovenPage)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.runner.ProcessDocument(ctx, doc, harvest.WorksSubject(baseURL, "Ludwig van Beethoven"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, catalog.RunStatusFailed, summary.Status)
}

func TestReplayMatchesLiveRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.runner.HarvestWorks(context.Background(), "Ludwig van Beethoven")
	require.NoError(t, err)
	live := readLines[catalog.CanonicalRecord](t, filepath.Join(f.dir, "compositions.json"))

	rawName := f.runner.RawFileName("Ludwig van Beethoven")
	summary, replayed, err := f.runner.Replay(context.Background(), rawName, false)
	require.NoError(t, err)
	assert.Equal(t, catalog.RunKindReplay, summary.Kind)
	assert.Equal(t, 3, summary.AcceptedRecords)
	assert.Equal(t, live, replayed)
	assert.Len(t, readLines[catalog.CanonicalRecord](t, filepath.Join(f.dir, "compositions.json")), 3)

	_, _, err = f.runner.Replay(context.Background(), rawName, true)
	require.NoError(t, err)
	appended := readLines[catalog.CanonicalRecord](t, filepath.Join(f.dir, "compositions.json"))
	require.Len(t, appended, 6)
	assert.Equal(t, live, appended[3:])
}

func TestRawFileNameUsesArticleSlug(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	assert.Equal(t, "raw-info-Igor_Stravinsky.json", f.runner.RawFileName("Igor Stravinsky"))
	assert.Equal(t, "raw-info-Bach.json", f.runner.RawFileName("Bach"))

	_, err := f.runner.HarvestWorks(context.Background(), "Ludwig van Beethoven")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.dir, "raw-info-Ludwig_van_Beethoven.json"))
	assert.NoFileExists(t, filepath.Join(f.dir, "raw-info-Ludwig van Beethoven.json"))
}

func TestReplayRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	summary, records, err := f.runner.Replay(context.Background(), "../outside.json", false)
	require.ErrorIs(t, err, local.ErrPathTraversal)
	assert.Nil(t, records)
	assert.Equal(t, catalog.RunStatusFailed, summary.Status)
	assert.Equal(t, catalog.RunKindReplay, summary.Kind)
	assert.Contains(t, summary.ErrorText, "resolve raw records")
	require.Len(t, f.runs.runs, 1)
	assert.Equal(t, catalog.RunStatusFailed, f.runs.runs[0].Status)
}

func TestReplayMissingFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	summary, records, err := f.runner.Replay(context.Background(), "raw-info-Nobody.json", false)
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Nil(t, records)
	assert.Equal(t, catalog.RunStatusFailed, summary.Status)
}

func TestHarvestComposers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	summary, err := f.runner.HarvestComposers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, catalog.RunKindComposers, summary.Kind)
	assert.Equal(t, 2, summary.RawRecords)
	assert.Equal(t, 2, summary.AcceptedRecords)

	composers := readLines[catalog.Composer](t, filepath.Join(f.dir, "composers.json"))
	require.Len(t, composers, 2)
	assert.Equal(t, "Carl Friedrich Abel", composers[0].FullName)
	assert.Equal(t, catalog.YearsExact, composers[0].YearsQualifier)
	require.NotNil(t, composers[0].DeathYear)
	assert.Equal(t, 1787, *composers[0].DeathYear)
	assert.Equal(t, "Arvo Pärt", composers[1].FullName)
	assert.Equal(t, catalog.YearsLiving, composers[1].YearsQualifier)
	assert.Equal(t, "/wiki/List_of_compositions_by_Arvo_Pärt", composers[1].ListOfCompositionsURL)
	assert.Equal(t, []string{"run-1/composers.json"}, f.archive.Paths())
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	opts := Options{CompositionsFile: "c.json", ComposersFile: "p.json"}
	_, err := New(opts, Deps{})
	assert.Error(t, err)

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, err = New(opts, Deps{Fetcher: &stubFetcher{}, Outputs: store})
	assert.Error(t, err)

	_, err = New(Options{}, Deps{Fetcher: &stubFetcher{}, Outputs: store, Clock: system.New(), IDs: &seqIDs{}})
	assert.Error(t, err)

	r, err := New(opts, Deps{Fetcher: &stubFetcher{}, Outputs: store, Clock: system.New(), IDs: &seqIDs{}})
	require.NoError(t, err)
	assert.Equal(t, "Bach.json", r.RawFileName("Bach"))
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}
