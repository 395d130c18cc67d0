package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/lingq-export/pkg/lingq"
	"github.com/Sternrassler/lingq-export/pkg/pagination"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var capture = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func decodeCard(t *testing.T, body string) lingq.Record {
	t.Helper()
	var rec lingq.Record
	require.NoError(t, json.Unmarshal([]byte(body), &rec))
	return rec
}

func testResults(t *testing.T) []*pagination.Result {
	return []*pagination.Result{
		{
			Language: "de",
			State:    pagination.StateDone,
			Complete: true,
			Records: []lingq.Record{
				decodeCard(t, `{"pk": 1, "term": "Haus", "hints": [{"text": "casa", "locale": "es", "popularity": 1}, {"text": "home", "locale": "en", "popularity": 5}], "tags": ["a1"], "extra_field": {"kept": true}}`),
				decodeCard(t, `{"pk": 2, "term": "<b>gehen</b>", "hints": [], "words": ["gehen"]}`),
			},
		},
		{
			Language: "ja",
			State:    pagination.StateAborted,
			Err:      pagination.ErrThrottleBudgetExhausted,
			Records:  []lingq.Record{decodeCard(t, `{"pk": 9, "term": "猫"}`)},
		},
		{
			Language: "es",
			State:    pagination.StateDone,
			Complete: true,
			Records:  []lingq.Record{},
		},
	}
}

func newTestExporter(t *testing.T, dir string, format Format, opts ...Option) *Exporter {
	t.Helper()
	opts = append([]Option{
		WithTimestamp(capture),
		WithLogger(zerolog.New(os.Stderr).Level(zerolog.Disabled)),
	}, opts...)
	e, err := New(dir, format, opts...)
	require.NoError(t, err)
	return e
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"json", "csv", "both"} {
		f, err := ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, Format(s), f)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestExporter_Names(t *testing.T) {
	e := newTestExporter(t, t.TempDir(), FormatBoth)

	assert.Equal(t, "20240309_140507", e.Timestamp())
	assert.Equal(t, "lingqs_de_20240309_140507.json", e.Name("de", KindJSON))
	assert.Equal(t, "lingqs_all_20240309_140507.csv", e.Name("", KindCSV))
	assert.Equal(t, "lingqs_20240309_140507.db", e.Name("", KindSQLite))
}

func TestExport_Both(t *testing.T) {
	dir := t.TempDir()
	e := newTestExporter(t, dir, FormatBoth)

	artifacts, err := e.Export(context.Background(), testResults(t))
	require.NoError(t, err)
	require.Len(t, artifacts, 8)

	for _, a := range artifacts {
		assert.FileExists(t, a.Path)
	}

	// Partition JSON keeps fields the record type does not model.
	data, err := os.ReadFile(filepath.Join(dir, "lingqs_de_20240309_140507.json"))
	require.NoError(t, err)
	var de []map[string]any
	require.NoError(t, json.Unmarshal(data, &de))
	require.Len(t, de, 2)
	assert.Equal(t, map[string]any{"kept": true}, de[0]["extra_field"])
	assert.Contains(t, string(data), "<b>gehen</b>")

	// Empty partitions still get their files.
	data, err = os.ReadFile(filepath.Join(dir, "lingqs_es_20240309_140507.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	rows := readCSV(t, filepath.Join(dir, "lingqs_es_20240309_140507.csv"))
	assert.Equal(t, [][]string{Columns}, rows)

	rows = readCSV(t, filepath.Join(dir, "lingqs_de_20240309_140507.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, "home", rows[1][3])
	assert.Equal(t, "casa (es) | home (en)", rows[1][5])
	assert.Equal(t, "a1", rows[1][9])
}

func TestExport_Combined(t *testing.T) {
	dir := t.TempDir()
	e := newTestExporter(t, dir, FormatBoth)

	_, err := e.Export(context.Background(), testResults(t))
	require.NoError(t, err)

	rows := readCSV(t, filepath.Join(dir, "lingqs_all_20240309_140507.csv"))
	require.Len(t, rows, 4)
	assert.Equal(t, append([]string{"language"}, Columns...), rows[0])
	assert.Equal(t, []string{"de", "de", "ja"}, []string{rows[1][0], rows[2][0], rows[3][0]})
	assert.Equal(t, "猫", rows[3][2])

	data, err := os.ReadFile(filepath.Join(dir, "lingqs_all_20240309_140507.json"))
	require.NoError(t, err)

	var all map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &all))
	assert.Len(t, all["de"], 2)
	assert.Len(t, all["ja"], 1)
	assert.NotNil(t, all["es"])
	assert.Empty(t, all["es"])

	// Keys follow partition order.
	assert.Less(t, strings.Index(string(data), `"de": `), strings.Index(string(data), `"ja": `))
	assert.Less(t, strings.Index(string(data), `"ja": `), strings.Index(string(data), `"es": `))
}

func TestExport_FormatSelection(t *testing.T) {
	dir := t.TempDir()
	e := newTestExporter(t, dir, FormatCSV)

	artifacts, err := e.Export(context.Background(), testResults(t))
	require.NoError(t, err)
	require.Len(t, artifacts, 4)
	for _, a := range artifacts {
		assert.Equal(t, KindCSV, a.Kind)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestExport_NoResults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	e := newTestExporter(t, dir, FormatBoth)

	artifacts, err := e.Export(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
	assert.NoDirExists(t, dir)
}

func TestExport_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "lingqs_de_20240309_140507.json")
	require.NoError(t, os.WriteFile(existing, []byte("keep me"), 0o644))

	e := newTestExporter(t, dir, FormatJSON)
	artifacts, err := e.Export(context.Background(), testResults(t))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArtifactExists))
	assert.Len(t, artifacts, 3)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))

	temps, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, temps)
}

func TestExport_SQLite(t *testing.T) {
	dir := t.TempDir()
	e := newTestExporter(t, dir, FormatJSON, WithSQLite(true))

	artifacts, err := e.Export(context.Background(), testResults(t))
	require.NoError(t, err)

	last := artifacts[len(artifacts)-1]
	assert.Equal(t, KindSQLite, last.Kind)
	assert.Equal(t, 3, last.Records)

	conn, err := sql.Open("sqlite3", last.Path)
	require.NoError(t, err)
	defer conn.Close()

	var count int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM cards`).Scan(&count))
	assert.Equal(t, 3, count)

	var best, raw string
	require.NoError(t, conn.QueryRow(
		`SELECT best_translation, raw FROM cards WHERE language = 'de' AND id = 1`).Scan(&best, &raw))
	assert.Equal(t, "home", best)
	assert.Contains(t, raw, "extra_field")

	var state string
	var complete bool
	var cause sql.NullString
	require.NoError(t, conn.QueryRow(
		`SELECT state, complete, error FROM partitions WHERE language = 'ja'`).Scan(&state, &complete, &cause))
	assert.Equal(t, "aborted", state)
	assert.False(t, complete)
	assert.True(t, cause.Valid)
}

type fakePutter struct {
	keys []string
	err  error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.keys = append(f.keys, *params.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestExport_Mirror(t *testing.T) {
	dir := t.TempDir()
	putter := &fakePutter{}
	mirror := NewS3MirrorWithClient(putter, "backups", "/lingq/")
	e := newTestExporter(t, dir, FormatCSV, WithMirror(mirror))

	artifacts, err := e.Export(context.Background(), testResults(t))
	require.NoError(t, err)

	require.Len(t, putter.keys, 4)
	assert.Equal(t, "lingq/lingqs_de_20240309_140507.csv", putter.keys[0])
	assert.Equal(t, "s3://backups/lingq/lingqs_de_20240309_140507.csv", artifacts[0].Remote)
}

func TestExport_MirrorFailureKeepsLocalFiles(t *testing.T) {
	dir := t.TempDir()
	putter := &fakePutter{err: errors.New("access denied")}
	e := newTestExporter(t, dir, FormatJSON, WithMirror(NewS3MirrorWithClient(putter, "backups", "")))

	artifacts, err := e.Export(context.Background(), testResults(t))
	require.NoError(t, err)

	for _, a := range artifacts {
		assert.FileExists(t, a.Path)
		assert.Error(t, a.MirrorErr)
		assert.Empty(t, a.Remote)
	}
}

func TestS3Mirror_Key(t *testing.T) {
	assert.Equal(t, "lingqs_all_x.csv", NewS3MirrorWithClient(nil, "b", "").Key("/tmp/out/lingqs_all_x.csv"))
	assert.Equal(t, "a/b/lingqs_all_x.csv", NewS3MirrorWithClient(nil, "b", "a/b/").Key("lingqs_all_x.csv"))
}
