package parsers

import (
	"bufio"
	"io"
	"strings"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/common/utils"
)

// localHostnames are the loopback aliases most hosts-format blocklists
// carry in their preamble.
var localHostnames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
	"ip6-localnet":          {},
	"ip6-mcastprefix":       {},
	"ip6-allnodes":          {},
	"ip6-allrouters":        {},
	"ip6-allhosts":          {},
	"0.0.0.0":               {},
}

// ParseHostsFile parses /etc/hosts-style files and returns the hostnames.
//
// Rules:
// - Ignore the IP field; extract one or more hostnames following it
// - Skip comments (whole-line or inline after '#') and blank lines
// - Skip wildcard tokens and names starting with '.'
// - Skip loopback aliases such as localhost
// - De-duplicate, preserving first-seen order
func ParseHostsFile(r io.Reader, pool string, logger log.Logger) ([]string, Stats, error) {
	scanner := bufio.NewScanner(r)
	c := newCollector(pool, logger)
	c.logger.Debug(map[string]any{"pool": pool}, "parse_hosts_start")

	for scanner.Scan() {
		c.stats.Lines++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}

		fields := strings.Fields(stripInlineComment(line))
		if len(fields) < 2 {
			c.skip(c.stats.Lines, "hosts_no_hostnames", nil)
			continue
		}

		// fields[0] is the address
		for _, raw := range fields[1:] {
			if strings.HasPrefix(raw, ".") || strings.Contains(raw, "*") {
				c.skip(c.stats.Lines, "hosts_skip_invalid_token", map[string]any{"raw": raw})
				continue
			}
			name := utils.CanonicalDNSName(raw)
			if _, ok := localHostnames[name]; ok {
				continue
			}
			c.add(c.stats.Lines, raw, name)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Debug(map[string]any{"pool": pool, "error": err.Error()}, "parse_hosts_scan_error")
		return nil, c.stats, err
	}
	out, stats := c.done("parse_hosts_done")
	return out, stats, nil
}
