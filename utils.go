package sessionload

import (
	"fmt"
	"net"
	"sync"
	"time"

	graphite "github.com/cyberdelia/go-metrics-graphite"
	"github.com/rcrowley/go-metrics"
)

var graphiteOnce sync.Once

// StartGraphiteSender flushes the default go-metrics registry to graphite, only the first call has effect.
func StartGraphiteSender(prefix string, flushDuration time.Duration, url string) error {
	var err error
	graphiteOnce.Do(func() {
		L().Infof("[graphite-monitoring] setup graphite client with url: %s", url)
		var addr *net.TCPAddr
		addr, err = net.ResolveTCPAddr("tcp", url)
		if err != nil {
			err = fmt.Errorf("[graphite-monitoring] ResolveTCPAddr on [%s] failed: %w", url, err)
			return
		}
		go graphite.Graphite(
			metrics.DefaultRegistry,
			flushDuration,
			prefix,
			addr,
		)
	})
	return err
}

func timeHumanReadable(t time.Time, timezone string) string {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return t.String()
	}
	return t.In(location).String()
}

func epochMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
