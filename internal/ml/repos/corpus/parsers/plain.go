package parsers

import (
	"bufio"
	"io"
	"strings"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
)

// ParsePlainList parses a newline-delimited list of domains, as served by
// OISD's "domainswild" feed.
//
// Behavior:
// - Supports comments starting with '#' (inline or whole-line) and '!' (whole-line)
// - Strips a leading "*." or "." wildcard marker; the bare name is kept
// - Canonicalizes via CanonicalDNSName and validates FQDN shape
// - Drops entries that are only a public suffix
// - De-duplicates while preserving first-seen order
func ParsePlainList(r io.Reader, pool string, logger log.Logger) ([]string, Stats, error) {
	scanner := bufio.NewScanner(r)
	c := newCollector(pool, logger)
	c.logger.Debug(map[string]any{"pool": pool}, "parse_plain_list_start")

	for scanner.Scan() {
		c.stats.Lines++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}

		s := strings.TrimSpace(stripInlineComment(line))
		if s == "" {
			continue
		}
		c.add(c.stats.Lines, s, normalizeDomainName(s))
	}

	if err := scanner.Err(); err != nil {
		c.logger.Debug(map[string]any{"pool": pool, "error": err.Error()}, "parse_plain_list_scan_error")
		return nil, c.stats, err
	}
	out, stats := c.done("parse_plain_list_done")
	return out, stats, nil
}
