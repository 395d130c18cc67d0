// Package export turns collected partitions into durable files: one JSON and
// CSV file per language, combined files for the whole run, an optional SQLite
// archive and an optional S3 mirror of everything written.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/lingq-export/pkg/lingq"
	"github.com/Sternrassler/lingq-export/pkg/logging"
	"github.com/Sternrassler/lingq-export/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for written artifacts.
var (
	artifactsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_artifacts_written_total",
		Help: "Artifacts written by kind",
	}, []string{"kind"})

	artifactErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_artifact_errors_total",
		Help: "Artifacts that could not be written by kind",
	}, []string{"kind"})

	mirrorUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_mirror_uploads_total",
		Help: "Artifact uploads to the mirror by result",
	}, []string{"result"})
)

// TimestampLayout formats the capture time embedded in artifact names.
const TimestampLayout = "20060102_150405"

// AggregateName replaces the language in combined artifact names.
const AggregateName = "all"

// Format selects the flat file formats to write.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatBoth Format = "both"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatCSV, FormatBoth:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, csv or both)", s)
	}
}

func (f Format) json() bool { return f == FormatJSON || f == FormatBoth }
func (f Format) csv() bool  { return f == FormatCSV || f == FormatBoth }

// Kind is the file type of an artifact.
type Kind string

const (
	KindJSON   Kind = "json"
	KindCSV    Kind = "csv"
	KindSQLite Kind = "sqlite"
)

// Artifact is one file produced by Export.
type Artifact struct {
	Path string
	Kind Kind

	// Language is empty for combined artifacts.
	Language string

	Records int

	// Remote is the mirror location, set after a successful upload.
	Remote string

	// MirrorErr is the upload failure, if any. The local file is unaffected.
	MirrorErr error
}

// Mirror copies finished artifacts elsewhere. Implemented by S3Mirror.
type Mirror interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Exporter writes artifacts for one run. All artifacts share one timestamp.
type Exporter struct {
	dir       string
	format    Format
	timestamp time.Time
	sqlite    bool
	mirror    Mirror
	logger    zerolog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithTimestamp sets the capture time used in names (default: now).
func WithTimestamp(t time.Time) Option {
	return func(e *Exporter) { e.timestamp = t }
}

// WithSQLite adds a lingqs_<ts>.db archive of all partitions.
func WithSQLite(enabled bool) Option {
	return func(e *Exporter) { e.sqlite = enabled }
}

// WithMirror uploads every written artifact.
func WithMirror(m Mirror) Option {
	return func(e *Exporter) { e.mirror = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// New creates an exporter writing into dir.
func New(dir string, format Format, opts ...Option) (*Exporter, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = "."
	}

	e := &Exporter{
		dir:       dir,
		format:    format,
		timestamp: time.Now(),
		logger:    logging.NewLogger("exporter"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Timestamp returns the formatted capture time.
func (e *Exporter) Timestamp() string {
	return e.timestamp.Format(TimestampLayout)
}

// Name returns the artifact file name for language ("" = combined).
func (e *Exporter) Name(language string, kind Kind) string {
	if kind == KindSQLite {
		return fmt.Sprintf("lingqs_%s.db", e.Timestamp())
	}
	if language == "" {
		language = AggregateName
	}
	return fmt.Sprintf("lingqs_%s_%s.%s", language, e.Timestamp(), kind)
}

// Export writes every partition, including empty and aborted ones, followed
// by the combined artifacts. A failed file does not stop the others; all
// failures are returned joined. Nothing is written when results is empty.
func (e *Exporter) Export(ctx context.Context, results []*pagination.Result) ([]Artifact, error) {
	if len(results) == 0 {
		e.logger.Warn().Msg("Nothing to export")
		return nil, nil
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var (
		artifacts []Artifact
		errs      []error
	)
	emit := func(a Artifact, err error) {
		if err != nil {
			artifactErrorsTotal.WithLabelValues(string(a.Kind)).Inc()
			e.logger.Error().Err(err).Str("path", a.Path).Msg("Failed to write artifact")
			errs = append(errs, err)
			return
		}
		artifactsWrittenTotal.WithLabelValues(string(a.Kind)).Inc()
		e.logger.Info().
			Str("path", a.Path).
			Str("kind", string(a.Kind)).
			Int("records", a.Records).
			Msg("Artifact written")
		artifacts = append(artifacts, e.upload(ctx, a))
	}

	for _, r := range results {
		if e.format.json() {
			emit(e.writePartitionJSON(r))
		}
		if e.format.csv() {
			emit(e.writePartitionCSV(r))
		}
	}

	if e.format.json() {
		emit(e.writeCombinedJSON(results))
	}
	if e.format.csv() {
		emit(e.writeCombinedCSV(results))
	}
	if e.sqlite {
		a := e.artifact("", KindSQLite, total(results))
		emit(a, WriteSQLite(ctx, a.Path, results))
	}

	return artifacts, errors.Join(errs...)
}

func (e *Exporter) artifact(language string, kind Kind, records int) Artifact {
	return Artifact{
		Path:     filepath.Join(e.dir, e.Name(language, kind)),
		Kind:     kind,
		Language: language,
		Records:  records,
	}
}

func (e *Exporter) upload(ctx context.Context, a Artifact) Artifact {
	if e.mirror == nil {
		return a
	}

	remote, err := e.mirror.Upload(ctx, a.Path)
	if err != nil {
		mirrorUploadsTotal.WithLabelValues("error").Inc()
		e.logger.Warn().Err(err).Str("path", a.Path).Msg("Mirror upload failed")
		a.MirrorErr = err
		return a
	}

	mirrorUploadsTotal.WithLabelValues("ok").Inc()
	e.logger.Debug().Str("path", a.Path).Str("remote", remote).Msg("Artifact mirrored")
	a.Remote = remote
	return a
}

func (e *Exporter) writePartitionJSON(r *pagination.Result) (Artifact, error) {
	a := e.artifact(r.Language, KindJSON, len(r.Records))
	return a, writeAtomic(a.Path, func(w io.Writer) error {
		return encodeJSON(w, records(r))
	})
}

func (e *Exporter) writePartitionCSV(r *pagination.Result) (Artifact, error) {
	a := e.artifact(r.Language, KindCSV, len(r.Records))
	return a, writeAtomic(a.Path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(Columns); err != nil {
			return err
		}
		for _, rec := range r.Records {
			if err := cw.Write(Flatten(rec).Values()); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func (e *Exporter) writeCombinedJSON(results []*pagination.Result) (Artifact, error) {
	a := e.artifact("", KindJSON, total(results))
	return a, writeAtomic(a.Path, func(w io.Writer) error {
		return encodeJSON(w, byLanguage(results))
	})
}

func (e *Exporter) writeCombinedCSV(results []*pagination.Result) (Artifact, error) {
	a := e.artifact("", KindCSV, total(results))
	return a, writeAtomic(a.Path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(append([]string{LanguageColumn}, Columns...)); err != nil {
			return err
		}
		for _, r := range results {
			for _, rec := range r.Records {
				if err := cw.Write(append([]string{r.Language}, Flatten(rec).Values()...)); err != nil {
					return err
				}
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// byLanguage marshals as a JSON object keyed by language, in partition order.
type byLanguage []*pagination.Result

func (b byLanguage) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalJSON(r.Language)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		value, err := marshalJSON(records(r))
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// records never returns nil so empty partitions encode as [].
func records(r *pagination.Result) []lingq.Record {
	if r.Records == nil {
		return []lingq.Record{}
	}
	return r.Records
}

func total(results []*pagination.Result) int {
	n := 0
	for _, r := range results {
		n += len(r.Records)
	}
	return n
}

// encodeJSON writes v indented, without HTML escaping so terms stay readable.
func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
