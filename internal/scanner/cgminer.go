package scanner

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const cgminerReadLimit = 64 << 10

var cgminerSummaryCommand = []byte(`{"command":"summary"}`)

// queryCGMiner asks the CGMiner/BMMiner JSON API for a summary. Most ASIC
// firmwares expose it on TCP 4028 and close the connection after replying.
func (p *HostProber) queryCGMiner(ctx context.Context, address string) (Metadata, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.cgminerTimeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(p.cgminerPort)))
	if err != nil {
		return Metadata{}, false
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Metadata{}, false
		}
	}

	if _, err := conn.Write(cgminerSummaryCommand); err != nil {
		return Metadata{}, false
	}

	// A deadline hit after a complete reply still leaves usable data.
	raw, _ := io.ReadAll(io.LimitReader(conn, cgminerReadLimit))

	md, ok := parseCGMinerSummary(raw)
	if ok {
		p.logger.Debugw("CGMiner API answered", "ip", address, "hashrate", md.Hashrate)
	}
	return md, ok
}

// parseCGMinerSummary extracts hashrate and temperature from a summary reply.
// Replies are NUL terminated and use unit-suffixed keys ("GHS av", "MHS av").
func parseCGMinerSummary(raw []byte) (Metadata, bool) {
	payload := strings.TrimSpace(strings.ReplaceAll(string(raw), "\x00", ""))
	if payload == "" || !gjson.Valid(payload) {
		return Metadata{}, false
	}

	doc := gjson.Parse(payload)
	if !doc.Get("STATUS").Exists() && !doc.Get("SUMMARY").Exists() {
		return Metadata{}, false
	}

	md := Metadata{API: "CGMiner/BMMiner"}
	summary := doc.Get("SUMMARY.0")

	if v := summary.Get("GHS av"); v.Exists() {
		md.Hashrate = fmt.Sprintf("%.2f GH/s", v.Float())
	} else if v := summary.Get("MHS av"); v.Exists() {
		md.Hashrate = fmt.Sprintf("%.2f MH/s", v.Float())
	}

	if v := summary.Get("Temperature"); v.Exists() {
		md.Temperature = v.String() + "°C"
	} else if v := summary.Get("Temp"); v.Exists() {
		md.Temperature = v.String() + "°C"
	}

	return md, true
}
