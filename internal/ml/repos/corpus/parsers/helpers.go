package parsers

import (
	"strings"
	"unicode"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/common/utils"
)

// Stats counts what a parser did with its input.
type Stats struct {
	Lines      int
	Emitted    int
	Skipped    int
	Duplicates int
}

// isValidFQDN checks whether the provided string is a valid Fully Qualified Domain Name (FQDN).
// It enforces the following rules:
//   - The total length must not exceed 255 characters.
//   - The name must contain at least two labels (separated by dots).
//   - Each label must be between 1 and 63 characters long.
//   - The first label must start with a letter or number.
//   - No label may contain whitespace, '*', '@' or '/'.
func isValidFQDN(name string) bool {
	if len(name) > 255 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) > 63 || len(label) == 0 {
			return false
		}
		if strings.ContainsFunc(label, func(r rune) bool {
			return unicode.IsSpace(r) || r == '*' || r == '@' || r == '/'
		}) {
			return false
		}
	}
	runes := []rune(labels[0])
	return isAlphaNumeric(runes[0])
}

// normalizeDomainName trims whitespace, removes any leading "*." or "."
// wildcard marker and returns the canonical DNS name.
func normalizeDomainName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "*.")
	name = strings.TrimPrefix(name, ".")
	return utils.CanonicalDNSName(name)
}

func isAlphaNumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// classifyLine reports whether line is blank or a whole-line comment.
func classifyLine(line string) (isEmpty, isComment bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true, false
	}
	return false, strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!")
}

func stripInlineComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

// collector canonicalizes, validates and dedupes names in first-seen order.
type collector struct {
	pool   string
	logger log.Logger
	seen   map[string]struct{}
	out    []string
	stats  Stats
}

func newCollector(pool string, logger log.Logger) *collector {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &collector{
		pool:   pool,
		logger: logger,
		seen:   make(map[string]struct{}),
		out:    make([]string, 0, 256),
	}
}

// add emits name if it is a new, valid, non public-suffix domain.
// name must already be canonical.
func (c *collector) add(line int, raw, name string) bool {
	if !isValidFQDN(name) {
		c.skip(line, "skip_invalid_fqdn", map[string]any{"raw": raw, "name": name})
		return false
	}
	if utils.IsPublicSuffix(name) {
		c.skip(line, "skip_public_suffix", map[string]any{"name": name})
		return false
	}
	if _, ok := c.seen[name]; ok {
		c.stats.Duplicates++
		c.logger.Debug(map[string]any{"pool": c.pool, "line": line, "name": name}, "skip_duplicate")
		return false
	}
	c.seen[name] = struct{}{}
	c.out = append(c.out, name)
	c.stats.Emitted++
	return true
}

func (c *collector) skip(line int, msg string, fields map[string]any) {
	c.stats.Skipped++
	if fields == nil {
		fields = map[string]any{}
	}
	fields["pool"] = c.pool
	fields["line"] = line
	c.logger.Debug(fields, msg)
}

func (c *collector) done(msg string) ([]string, Stats) {
	c.logger.Debug(map[string]any{
		"pool":       c.pool,
		"lines":      c.stats.Lines,
		"count":      c.stats.Emitted,
		"skipped":    c.stats.Skipped,
		"duplicates": c.stats.Duplicates,
	}, msg)
	return c.out, c.stats
}
