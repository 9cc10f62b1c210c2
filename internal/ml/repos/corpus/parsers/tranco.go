package parsers

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
)

// maxZipBytes bounds how much of a zipped ranking is buffered in memory.
const maxZipBytes = 256 << 20

var zipMagic = []byte("PK\x03\x04")

// ErrEmptyArchive is returned for a zip archive without files.
var ErrEmptyArchive = errors.New("zip archive has no entries")

// ParseTranco reads a Tranco ranking that is either a plain CSV or a zip
// archive holding one, as tranco-list.eu serves it. Only the archive's first
// entry is read.
func ParseTranco(r io.Reader, topN int, pool string, logger log.Logger) ([]string, Stats, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, Stats{}, err
	}
	if !bytes.Equal(head, zipMagic) {
		return ParseTrancoCSV(br, topN, pool, logger)
	}

	buf, err := io.ReadAll(io.LimitReader(br, maxZipBytes+1))
	if err != nil {
		return nil, Stats{}, fmt.Errorf("read tranco archive: %w", err)
	}
	if len(buf) > maxZipBytes {
		return nil, Stats{}, fmt.Errorf("tranco archive exceeds %d bytes", maxZipBytes)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open tranco archive: %w", err)
	}
	if len(zr.File) == 0 {
		return nil, Stats{}, ErrEmptyArchive
	}
	f, err := zr.File[0].Open()
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open %s in tranco archive: %w", zr.File[0].Name, err)
	}
	defer f.Close()
	return ParseTrancoCSV(f, topN, pool, logger)
}

// ParseTrancoCSV reads a Tranco ranking ("rank,domain", no header) and
// returns the domains of the first topN rows in rank order. A header row,
// if present, is skipped and not counted. topN <= 0 reads everything.
// Rows beyond topN are never read.
func ParseTrancoCSV(r io.Reader, topN int, pool string, logger log.Logger) ([]string, Stats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	c := newCollector(pool, logger)
	c.logger.Debug(map[string]any{"pool": pool, "top_n": topN}, "parse_tranco_start")

	rows := 0
	for topN <= 0 || rows < topN {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		c.stats.Lines++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				c.skip(c.stats.Lines, "tranco_skip_malformed", map[string]any{"error": err.Error()})
				rows++
				continue
			}
			return nil, c.stats, fmt.Errorf("read tranco csv: %w", err)
		}

		if len(rec) < 2 {
			c.skip(c.stats.Lines, "tranco_skip_short_row", nil)
			rows++
			continue
		}
		rank := strings.TrimPrefix(strings.TrimSpace(rec[0]), "\uFEFF")
		if _, err := strconv.Atoi(rank); err != nil {
			if c.stats.Lines == 1 {
				// header
				continue
			}
			c.skip(c.stats.Lines, "tranco_skip_bad_rank", map[string]any{"rank": rec[0]})
			rows++
			continue
		}
		rows++
		c.add(c.stats.Lines, rec[1], normalizeDomainName(rec[1]))
	}

	out, stats := c.done("parse_tranco_done")
	return out, stats, nil
}
