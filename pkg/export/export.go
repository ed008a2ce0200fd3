// Package export renders day telemetry as downloadable CSV or XLSX files.
//
// Input is validated before anything is rendered: an empty row set or a
// first row whose known fields are not numeric (typically an HTML error page
// that slipped through as data) is rejected and no blob is produced.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	// ErrEmptyData is returned when there are no rows to export.
	ErrEmptyData = errors.New("no data to export")

	// ErrMalformedData is returned when the first row does not look like
	// numeric telemetry.
	ErrMalformedData = errors.New("malformed export data")

	// ErrUnknownFormat is returned by ParseFormat.
	ErrUnknownFormat = errors.New("unknown export format")
)

// TimestampLayout is used for the timestamp column in both formats.
const TimestampLayout = "2006-01-02T15:04:05"

var exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "plantwatch_export_total",
	Help: "Export attempts by format and result",
}, []string{"format", "result"}) // result: success, invalid, error

// Format selects the output file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" and "xlsx" in any case. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Field describes one exported column.
type Field struct {
	Key         string
	Header      string
	Unit        string
	Description string
}

// DefaultFields are the columns exported when none are configured.
var DefaultFields = []Field{
	{Key: plant.FieldPVPower, Header: "pv_power_w", Unit: "W", Description: "Photovoltaic generation"},
	{Key: plant.FieldLoadPower, Header: "load_power_w", Unit: "W", Description: "Household consumption"},
	{Key: plant.FieldGridPower, Header: "grid_power_w", Unit: "W", Description: "Grid exchange, positive when importing"},
	{Key: plant.FieldBatteryPower, Header: "battery_power_w", Unit: "W", Description: "Battery power, positive when discharging"},
	{Key: plant.FieldBatterySOC, Header: "battery_soc_pct", Unit: "%", Description: "Battery state of charge"},
	{Key: plant.FieldPrice, Header: "price_eur_kwh", Unit: "EUR/kWh", Description: "Electricity price"},
}

// Row is one exported sample.
type Row struct {
	Timestamp time.Time
	Values    map[string]any
}

// Blob is a rendered export ready for download.
type Blob struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Request describes one export.
type Request struct {
	PlantID string
	From    string
	To      string
	Format  Format
	Rows    []Row
}

// Filename returns <plant>_<from>_<to>.<ext>.
func (r Request) Filename() string {
	return fmt.Sprintf("%s_%s_%s.%s", sanitize(r.PlantID), r.From, r.To, r.Format.Extension())
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}

// Exporter renders rows in a fixed column set and time zone.
type Exporter struct {
	fields   []Field
	location *time.Location
	logger   zerolog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithFields overrides DefaultFields.
func WithFields(fields []Field) Option {
	return func(e *Exporter) {
		if len(fields) > 0 {
			e.fields = fields
		}
	}
}

// WithLocation sets the time zone timestamps are rendered in (default UTC).
func WithLocation(loc *time.Location) Option {
	return func(e *Exporter) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

// New creates an exporter.
func New(opts ...Option) *Exporter {
	e := &Exporter{
		fields:   DefaultFields,
		location: time.UTC,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fields returns the exported columns.
func (e *Exporter) Fields() []Field {
	return e.fields
}

// Validate checks rows without rendering anything.
func (e *Exporter) Validate(rows []Row) error {
	if len(rows) == 0 {
		return ErrEmptyData
	}

	first := rows[0]
	known := 0
	for _, f := range e.fields {
		v, ok := first.Values[f.Key]
		if !ok || v == nil {
			continue
		}
		known++
		if _, ok := plant.ToFloat(v); !ok {
			return fmt.Errorf("%w: field %s of first row is not numeric: %s", ErrMalformedData, f.Key, preview(v))
		}
	}
	if known == 0 {
		return fmt.Errorf("%w: first row has none of the exported fields", ErrMalformedData)
	}
	if first.Timestamp.IsZero() {
		return fmt.Errorf("%w: first row has no timestamp", ErrMalformedData)
	}
	return nil
}

// Export validates req.Rows and renders them in req.Format.
func (e *Exporter) Export(req Request) (*Blob, error) {
	if req.Format == "" {
		req.Format = FormatCSV
	}

	log := e.logger.With().
		Str("plant_id", req.PlantID).
		Str("format", string(req.Format)).
		Int("rows", len(req.Rows)).
		Logger()

	if err := e.Validate(req.Rows); err != nil {
		exportsTotal.WithLabelValues(string(req.Format), "invalid").Inc()
		log.Warn().Err(err).Msg("Export rejected")
		return nil, err
	}

	var (
		data []byte
		err  error
	)
	switch req.Format {
	case FormatCSV:
		data, err = e.renderCSV(req.Rows)
	case FormatXLSX:
		data, err = e.renderXLSX(req.Rows)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, req.Format)
	}
	if err != nil {
		exportsTotal.WithLabelValues(string(req.Format), "error").Inc()
		log.Error().Err(err).Msg("Export failed")
		return nil, err
	}

	exportsTotal.WithLabelValues(string(req.Format), "success").Inc()
	log.Info().Int("bytes", len(data)).Msg("Export rendered")

	return &Blob{
		Data:        data,
		ContentType: req.Format.ContentType(),
		Filename:    req.Filename(),
	}, nil
}

func (e *Exporter) timestamp(t time.Time) string {
	return t.In(e.location).Format(TimestampLayout)
}

func preview(v any) string {
	s := fmt.Sprint(v)
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return fmt.Sprintf("%q", s)
}
