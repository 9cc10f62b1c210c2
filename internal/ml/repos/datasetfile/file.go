// Package datasetfile reads and writes the labeled dataset as a
// "domain,blocked" CSV with a header row.
package datasetfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

const (
	ColumnDomain  = "domain"
	ColumnBlocked = "blocked"
)

var ErrMissingColumns = errors.New("dataset csv must have domain and blocked columns")

// Stats reports how many data rows were read and how many were dropped.
type Stats struct {
	Rows    int
	Dropped int
}

// Read parses a dataset CSV. Columns are located by header name, so extra
// columns are ignored. Rows with an empty domain or a label other than
// "0" or "1" are dropped and counted.
func Read(r io.Reader, logger log.Logger) (domain.Dataset, Stats, error) {
	if logger == nil {
		logger = log.GetLogger()
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var ds domain.Dataset
	var st Stats

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return ds, st, ErrMissingColumns
	}
	if err != nil {
		return ds, st, fmt.Errorf("read dataset header: %w", err)
	}
	di, bi := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))) {
		case ColumnDomain:
			di = i
		case ColumnBlocked:
			bi = i
		}
	}
	if di < 0 || bi < 0 {
		return ds, st, fmt.Errorf("%w: got header %v", ErrMissingColumns, header)
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		st.Rows++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				st.Dropped++
				logger.Debug(map[string]any{"row": st.Rows, "error": err.Error()}, "dataset_skip_malformed")
				continue
			}
			return ds, st, fmt.Errorf("read dataset: %w", err)
		}
		if len(rec) <= di || len(rec) <= bi {
			st.Dropped++
			logger.Debug(map[string]any{"row": st.Rows}, "dataset_skip_short_row")
			continue
		}
		label, err := domain.ParseLabel(rec[bi])
		if err != nil {
			st.Dropped++
			logger.Debug(map[string]any{"row": st.Rows, "error": err.Error()}, "dataset_skip_bad_label")
			continue
		}
		record, err := domain.NewRecord(rec[di], label)
		if err != nil {
			st.Dropped++
			logger.Debug(map[string]any{"row": st.Rows, "error": err.Error()}, "dataset_skip_bad_domain")
			continue
		}
		ds.Records = append(ds.Records, record)
	}
	return ds, st, nil
}

// Write emits ds with a "domain,blocked" header.
func Write(w io.Writer, ds domain.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColumnDomain, ColumnBlocked}); err != nil {
		return err
	}
	for _, r := range ds.Records {
		if err := cw.Write([]string{r.Domain, r.Label.String()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Load reads the dataset file at path.
func Load(path string, logger log.Logger) (domain.Dataset, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Dataset{}, Stats{}, err
	}
	defer f.Close()
	ds, st, err := Read(f, logger)
	if err != nil {
		return ds, st, fmt.Errorf("%s: %w", path, err)
	}
	return ds, st, nil
}

// Save writes ds to path through a temporary file in the same directory,
// so readers never observe a partial dataset.
func Save(path string, ds domain.Dataset) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".dataset-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, ds); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
