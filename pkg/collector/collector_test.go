package collector

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Sternrassler/lingq-export/internal/testutil"
	"github.com/Sternrassler/lingq-export/pkg/client"
	"github.com/Sternrassler/lingq-export/pkg/lingq"
	"github.com/Sternrassler/lingq-export/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	languages    []lingq.Language
	languagesErr error
	contexts     []lingq.UserContext
	contextsErr  error
	counts       map[string]int
	countErr     map[string]error

	languagesCalls int
	probed         []string
}

func (f *fakeSource) Languages(ctx context.Context) ([]lingq.Language, error) {
	f.languagesCalls++
	return f.languages, f.languagesErr
}

func (f *fakeSource) Contexts(ctx context.Context) ([]lingq.UserContext, error) {
	return f.contexts, f.contextsErr
}

func (f *fakeSource) CountCards(ctx context.Context, language string) (int, error) {
	f.probed = append(f.probed, language)
	if err := f.countErr[language]; err != nil {
		return 0, err
	}
	return f.counts[language], nil
}

type fakeFetcher struct {
	results map[string]*pagination.Result
	calls   []string
	onFetch func(language string)
}

func (f *fakeFetcher) Fetch(ctx context.Context, language string) *pagination.Result {
	f.calls = append(f.calls, language)
	if f.onFetch != nil {
		f.onFetch(language)
	}
	if r, ok := f.results[language]; ok {
		return r
	}
	return &pagination.Result{Language: language, Records: []lingq.Record{}, State: pagination.StateDone, Complete: true}
}

func records(n int) []lingq.Record {
	out := make([]lingq.Record, n)
	for i := range out {
		out[i] = lingq.Record{ID: int64(i + 1)}
	}
	return out
}

func urlRef(url string) lingq.LanguageRef {
	return lingq.LanguageRef{Kind: lingq.LanguageRefURL, URL: url}
}

func inlineRef(code string) lingq.LanguageRef {
	return lingq.LanguageRef{Kind: lingq.LanguageRefInline, Code: code}
}

func newTestCollector(src Source, f Fetcher) *Collector {
	return New(src, f, WithLogger(zerolog.New(os.Stderr).Level(zerolog.Disabled)))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"de", "en", "fr"}, Normalize([]string{" de", "EN", "", "de", "fr", "en "}))
	assert.Empty(t, Normalize(nil))
}

func TestResolve_Explicit(t *testing.T) {
	src := &fakeSource{}
	c := newTestCollector(src, &fakeFetcher{})

	res, err := c.Resolve(context.Background(), []string{"de", "en", "de"})
	require.NoError(t, err)

	assert.Equal(t, MethodExplicit, res.Method)
	assert.Equal(t, []string{"de", "en"}, res.Languages)
	assert.Zero(t, src.languagesCalls)
	assert.Empty(t, src.probed)
}

func TestResolve_Contexts(t *testing.T) {
	src := &fakeSource{
		languages: []lingq.Language{
			{URL: "https://www.lingq.com/api/v2/languages/de/", Code: "de"},
			{URL: "https://www.lingq.com/api/v2/languages/ja/", Code: "ja"},
		},
		contexts: []lingq.UserContext{
			{PK: 1, Language: urlRef("https://www.lingq.com/api/v2/languages/de/")},
			{PK: 2, Language: inlineRef("es")},
			{PK: 3, Language: lingq.LanguageRef{}},
			{PK: 4, Language: urlRef("https://www.lingq.com/api/v2/languages/xx/")},
			{PK: 5, Language: inlineRef("de")},
		},
	}
	c := newTestCollector(src, &fakeFetcher{})

	res, err := c.Resolve(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, MethodContexts, res.Method)
	assert.Equal(t, []string{"de", "es"}, res.Languages)
	assert.Equal(t, 1, src.languagesCalls)
	assert.Empty(t, src.probed)
}

func TestResolve_InlineContextsSkipLanguageListing(t *testing.T) {
	src := &fakeSource{
		contexts: []lingq.UserContext{{PK: 1, Language: inlineRef("fr")}},
	}
	c := newTestCollector(src, &fakeFetcher{})

	res, err := c.Resolve(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"fr"}, res.Languages)
	assert.Zero(t, src.languagesCalls)
}

func TestResolve_FallbackWhenContextsFail(t *testing.T) {
	src := &fakeSource{
		contextsErr: errors.New("boom"),
		counts:      map[string]int{"es": 12, "ja": 3},
		countErr:    map[string]error{"ru": errors.New("timeout")},
	}
	c := newTestCollector(src, &fakeFetcher{})

	res, err := c.Resolve(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, MethodFallback, res.Method)
	assert.Equal(t, []string{"es", "ja"}, res.Languages)
	assert.Equal(t, CommonLanguages, src.probed)
}

func TestResolve_FallbackWhenContextsEmpty(t *testing.T) {
	src := &fakeSource{
		contexts: []lingq.UserContext{{PK: 1, Language: lingq.LanguageRef{}}},
		counts:   map[string]int{"en": 1},
	}
	c := newTestCollector(src, &fakeFetcher{})

	res, err := c.Resolve(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, MethodFallback, res.Method)
	assert.Equal(t, []string{"en"}, res.Languages)
}

func TestResolve_NothingFound(t *testing.T) {
	src := &fakeSource{}
	c := newTestCollector(src, &fakeFetcher{})

	res, err := c.Resolve(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, MethodNone, res.Method)
	assert.NotNil(t, res.Languages)
	assert.Empty(t, res.Languages)
}

func TestResolve_CancelledDuringProbe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCollector(&fakeSource{contextsErr: context.Canceled}, &fakeFetcher{})

	_, err := c.Resolve(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_SequentialAndSummary(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string]*pagination.Result{
		"de": {Language: "de", Records: records(130), State: pagination.StateDone, Complete: true},
		"ja": {Language: "ja", Records: records(40), State: pagination.StateAborted, Err: pagination.ErrThrottleBudgetExhausted},
		"es": {Language: "es", Records: []lingq.Record{}, State: pagination.StateDone, Complete: true},
	}}
	c := newTestCollector(&fakeSource{}, fetcher)

	summary, err := c.Run(context.Background(), []string{"de", "ja", "es"})
	require.NoError(t, err)

	assert.Equal(t, []string{"de", "ja", "es"}, fetcher.calls)
	assert.Equal(t, MethodExplicit, summary.Method)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, 170, summary.Total())
	assert.Equal(t, []string{"ja"}, summary.Incomplete())
	assert.False(t, summary.Complete())
	assert.Equal(t, 130, len(summary.Result("de").Records))
	assert.Nil(t, summary.Result("fr"))
	assert.False(t, summary.Finished.Before(summary.Started))
}

func TestRun_AbortedPartitionDoesNotStopOthers(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string]*pagination.Result{
		"de": {Language: "de", Records: records(5), State: pagination.StateAborted, Err: errors.New("500")},
	}}
	c := newTestCollector(&fakeSource{}, fetcher)

	summary, err := c.Run(context.Background(), []string{"de", "en"})
	require.NoError(t, err)

	assert.Equal(t, []string{"de", "en"}, fetcher.calls)
	assert.Equal(t, []string{"de"}, summary.Incomplete())
}

func TestRun_CancelBetweenPartitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{onFetch: func(language string) {
		if language == "en" {
			cancel()
		}
	}}
	c := newTestCollector(&fakeSource{}, fetcher)

	summary, err := c.Run(ctx, []string{"en", "de", "fr"})
	require.NoError(t, err)

	assert.Equal(t, []string{"en"}, fetcher.calls)
	assert.Equal(t, []string{"de", "fr"}, summary.NotStarted)
	assert.Equal(t, []string{"de", "fr"}, summary.Incomplete())
}

func TestRun_NoLanguages(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := newTestCollector(&fakeSource{}, fetcher)

	summary, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, fetcher.calls)
	assert.Equal(t, MethodNone, summary.Method)
	assert.Zero(t, summary.Total())
	assert.True(t, summary.Complete())
}

func TestRun_AgainstMockServer(t *testing.T) {
	mock := testutil.NewMockLingQ()
	defer mock.Close()

	mock.SetResponse("/contexts/", testutil.NewJSONResponse(`{"results": [
		{"pk": 1, "language": "https://www.lingq.com/api/v2/languages/de/"},
		{"pk": 2, "language": {"code": "es", "title": "Spanish"}}
	]}`))
	mock.SetResponse("/languages/", testutil.NewJSONResponse(`[
		{"url": "https://www.lingq.com/api/v2/languages/de/", "code": "de", "title": "German"}
	]`))
	mock.ScriptCards("de", testutil.NewPageResponse(1, 3, true), testutil.NewPageResponse(4, 2, false))
	mock.ScriptCards("es", testutil.NewServerErrorResponse())

	cfg := client.DefaultConfig("token")
	cfg.BaseURL = mock.URL()
	api, err := client.New(cfg)
	require.NoError(t, err)

	noSleep := func(ctx context.Context, d time.Duration) error { return nil }
	paginator := pagination.New(api, pagination.DefaultPolicy(), pagination.WithSleeper(noSleep))
	c := newTestCollector(api, paginator)

	summary, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, MethodContexts, summary.Method)
	assert.Equal(t, []string{"de", "es"}, summary.Languages)
	assert.Equal(t, 5, summary.Total())
	assert.Equal(t, []string{"es"}, summary.Incomplete())
}
