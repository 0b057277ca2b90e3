package serve

import (
	"context"
	"errors"
	"fmt"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ValentinKolb/dIPC/cmd/util"
	"github.com/ValentinKolb/dIPC/ipc/cache"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/events"
	"github.com/ValentinKolb/dIPC/ipc/loop"
	"github.com/ValentinKolb/dIPC/ipc/serializer"
	"github.com/ValentinKolb/dIPC/ipc/transport"
	"time"
)

// serve attaches a loop and the message handler to a bound server and blocks
// until ctx is done. workerID is -1 outside of a prefork worker.
func serve(ctx context.Context, server transport.IIPCServerTransport, s serializer.IIPCSerializer, workerID int) error {
	l := loop.New(loopConfig)

	// Received messages are published on an in-process bus
	pubsub := events.NewGoChannel()
	bridge := events.NewBridge(pubsub)

	for _, topic := range eventTopics {
		msgs, err := pubsub.Subscribe(ctx, topic)
		if err != nil {
			l.Close()
			_ = server.Close()
			return fmt.Errorf("failed to subscribe to %s: %v", topic, err)
		}
		go logEvents(topic, msgs)
	}

	handler := bridge.Handle

	// Optional forwarding through a client cached on the loop
	if forwardEndpoint != "" {
		factory, err := util.GetClientFactory(*util.GetClientConfig(), s)
		if err != nil {
			l.Close()
			_ = server.Close()
			return err
		}
		registry := cache.NewRegistry(factory)
		fwd, err := registry.GetOrCreate(l, forwardEndpoint)
		if err != nil {
			l.Close()
			_ = server.Close()
			return err
		}
		defer fwd.Release()

		handler = func(ctx context.Context, env common.Envelope) {
			bridge.Handle(ctx, env)
			forward(ctx, fwd, env)
		}
	}

	server.RegisterErrorHandler(func(remote string, err error) {
		Logger.Warningf("Connection %s failed: %v", remote, err)
	})

	if err := server.PostFork(l, handler); err != nil {
		l.Close()
		_ = server.Close()
		return err
	}

	// Metrics endpoint
	if metricsEndpoint != "" {
		address, err := metricsAddress(metricsEndpoint, workerID)
		if err != nil {
			Logger.Errorf("Metrics disabled: %v", err)
		} else if stopMetrics, err := startMetricsServer(address); err != nil {
			Logger.Errorf("Metrics disabled: %v", err)
		} else {
			defer stopMetrics()
		}
	}

	if statsInterval > 0 {
		go logStats(ctx, l, statsInterval)
	}

	Logger.Infof("Serving %s (worker %d)", server.Addr(), workerID)
	<-ctx.Done()
	Logger.Infof("Shutting down")

	// Stop reading first, then drain the handlers
	err := server.Close()
	l.Close()
	if cerr := pubsub.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}

	stats := l.Stats()
	Logger.Infof("Handled %d messages (%d panics)", stats.Handled, stats.Panics)
	return err
}

// forward relays env to the forward endpoint. A dropped connection is
// re-established once per message.
func forward(ctx context.Context, h *cache.Handle, env common.Envelope) {
	err := h.Send(ctx, env)
	if errors.Is(err, common.ErrNotConnected) {
		if err = h.Connect(ctx); err == nil {
			err = h.Send(ctx, env)
		}
	}
	if err != nil {
		Logger.Errorf("Failed to forward %s to %s: %v", env, h.Endpoint(), err)
	}
}

// logEvents logs every message published on topic until the subscription ends
func logEvents(topic string, msgs <-chan *message.Message) {
	for msg := range msgs {
		env, err := events.DecodeMessage(msg)
		if err != nil {
			Logger.Warningf("Undecodable event on %s: %v", topic, err)
		} else {
			Logger.Infof("Event %s on %s: %s", msg.UUID, topic, env)
		}
		msg.Ack()
	}
}

// logStats logs the loop statistics every interval until ctx is done
func logStats(ctx context.Context, l *loop.Loop, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := l.Stats()
			Logger.Infof("Handled %d messages, %d panics, %d queued, mean handler time %v",
				stats.Handled, stats.Panics, stats.QueueDepth, stats.MeanHandlerTime)
		}
	}
}
