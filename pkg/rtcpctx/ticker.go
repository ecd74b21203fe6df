package rtcpctx

import (
	"time"

	"github.com/pion/rtcp"
)

// DefaultReportPeriod is the interval at which a session pushes fresh SR
// (or RR) packets to the peer on an established track, absent explicit
// configuration.
const DefaultReportPeriod = 5 * time.Second

// Run starts a background goroutine that calls dispatch with a compound
// RTCP packet (SR or RR, plus SDES) every period, and returns a stop
// func that terminates it. The first report fires immediately so a
// playing peer gets the RTP<->NTP mapping before — or concurrently
// with — the first RTP packet, rather than waiting a full period.
func (c *Context) Run(period time.Duration, dispatch func([]rtcp.Packet)) (stop func()) {
	if period <= 0 {
		period = DefaultReportPeriod
	}

	done := make(chan struct{})
	tick := make(chan struct{}, 1)
	tick <- struct{}{} // force an immediate first report

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-tick:
				c.emit(dispatch)
			case <-ticker.C:
				c.emit(dispatch)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}

func (c *Context) emit(dispatch func([]rtcp.Packet)) {
	var pkts []rtcp.Packet
	if sr := c.CreateSR(); sr != nil {
		pkts = append(pkts, sr)
	} else if rr := c.CreateRR(); rr != nil {
		pkts = append(pkts, rr)
	} else {
		return
	}
	pkts = append(pkts, c.CreateSDES())
	dispatch(pkts)
}
