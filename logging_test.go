package sessionload

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLoggerConcurrentWithUse(t *testing.T) {
	defer SetLogger(mustLogger("info", "console").Desugar())
	core, logs := observer.New(zapcore.InfoLevel)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			SetLogger(zap.New(core))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			L().FromCtx(WithRqId(context.Background(), "rq")).Debugf("swap %d", i)
		}
	}()
	wg.Wait()
	L().Infof("after swap")
	assert.Equal(t, 1, logs.FilterMessage("after swap").Len())
}

func TestFromCtxFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{zap.New(core).Sugar()}
	ctx := WithSessionId(WithRqId(context.Background(), "rq-1"), "s-1")
	l.FromCtx(ctx).Debugf("hello")
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "rq-1", fields["rqId"])
		assert.Equal(t, "s-1", fields["sessionId"])
	}
}
