package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// PingStats итог серии ping
type PingStats struct {
	Transmitted int
	Received    int
	AvgRTTMs    float64
	HasRTT      bool
}

// LossPct процент потерь; без отправленных пакетов считается 100%
func (p PingStats) LossPct() float64 {
	if p.Transmitted <= 0 {
		return 100
	}
	lost := p.Transmitted - p.Received
	if lost < 0 {
		lost = 0
	}
	return float64(lost) / float64(p.Transmitted) * 100
}

// Pinger отправляет count эхо-запросов на host
type Pinger interface {
	Ping(ctx context.Context, host string, count int) (PingStats, error)
}

// ExecPinger вызывает системную утилиту ping: ICMP без привилегий процесса
type ExecPinger struct {
	Binary string
}

var errBadHost = errors.New("invalid host")

func (p ExecPinger) Ping(ctx context.Context, host string, count int) (PingStats, error) {
	if host == "" || strings.HasPrefix(host, "-") || strings.ContainsAny(host, " \t\n") {
		return PingStats{}, fmt.Errorf("%w: %q", errBadHost, host)
	}

	binary := p.Binary
	if binary == "" {
		binary = "ping"
	}
	countFlag := "-c"
	if runtime.GOOS == "windows" {
		countFlag = "-n"
	}

	out, runErr := exec.CommandContext(ctx, binary, countFlag, strconv.Itoa(count), host).Output()
	stats, parseErr := ParsePingOutput(string(out))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stats, fmt.Errorf("ping %s: %w", host, ctxErr)
	}
	if runErr != nil {
		// ping завершается с ненулевым кодом, если ответов не было; сводка при этом есть
		return stats, fmt.Errorf("ping %s failed: %w", host, runErr)
	}
	if parseErr != nil {
		return stats, fmt.Errorf("ping %s: %w", host, parseErr)
	}
	return stats, nil
}

var (
	// Linux: "4 packets transmitted, 4 received", macOS: "4 packets transmitted, 4 packets received"
	unixCountRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)

	// "rtt min/avg/max/mdev = 9.1/10.2/11.3/0.8 ms", "round-trip min/avg/max/stddev = ..."
	unixRTTRe = regexp.MustCompile(`= [\d.]+/([\d.]+)/[\d.]+`)

	winCountRe = regexp.MustCompile(`Sent = (\d+), Received = (\d+)`)
	winRTTRe   = regexp.MustCompile(`Average = (\d+)ms`)

	errNoSummary = errors.New("no ping summary in output")
)

// ParsePingOutput разбирает итоговые строки вывода ping
func ParsePingOutput(out string) (PingStats, error) {
	var stats PingStats

	countRe, rttRe := unixCountRe, unixRTTRe
	if winCountRe.MatchString(out) {
		countRe, rttRe = winCountRe, winRTTRe
	}

	m := countRe.FindStringSubmatch(out)
	if m == nil {
		return stats, errNoSummary
	}
	stats.Transmitted, _ = strconv.Atoi(m[1])
	stats.Received, _ = strconv.Atoi(m[2])

	if rtt := rttRe.FindStringSubmatch(out); rtt != nil {
		if avg, err := strconv.ParseFloat(rtt[1], 64); err == nil {
			stats.AvgRTTMs = avg
			stats.HasRTT = stats.Received > 0
		}
	}
	return stats, nil
}
