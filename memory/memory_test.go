package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-autorespond/autorespond"
	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
	"github.com/next-trace/scg-autorespond/memory"
	"github.com/next-trace/scg-autorespond/servicebus"
)

type shout struct{ Text string }

type shouted struct{ Text string }

type shouter struct{}

func (*shouter) Handle(_ context.Context, s shout) (shouted, error) {
	return shouted{Text: strings.ToUpper(s.Text)}, nil
}

type whisperer struct{}

func (*whisperer) HandleAsync(_ context.Context, s shout) *cbus.Future[shouted] {
	return cbus.Completed(shouted{Text: strings.ToLower(s.Text)})
}

func TestNewMemoryBus_BasicFlow(t *testing.T) {
	b, cleanup, err := memory.New(nil, autorespond.WithConfigure(func(c cbus.Configuration) { c.WithPrefetchCount(1) }))
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, b.Responder.Respond(autorespond.TypeOf[*shouter]()))
	require.NoError(t, b.Responder.RespondAsync(autorespond.TypeOf[*whisperer]()))

	got, err := servicebus.Request[shout, shouted](t.Context(), b.Bus, shout{Text: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "HI", got.Text)

	got, err = servicebus.RequestAsync[shout, shouted](t.Context(), b.Bus, shout{Text: "Hi"}).Result()
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Text)

	regs := b.Registrations()
	require.Len(t, regs, 2)
	assert.Equal(t, uint16(1), regs[0].Options.PrefetchCount)
	assert.Equal(t, "rpc.memory_test.shout", regs[0].Options.QueueName)

	// registering the same responder twice is rejected by the bus
	err = b.Responder.Respond(autorespond.TypeOf[*shouter]())
	assert.ErrorIs(t, err, berr.ErrHandlerExists)

	cleanup()

	_, err = b.Request(t.Context(), shout{})
	assert.ErrorIs(t, err, berr.ErrBusClosed)
}
