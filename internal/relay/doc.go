// Package relay connects the agent to its collector.
//
// A Supervisor owns the WebSocket connection: it dials, sends the auth
// message, waits for a successful auth reply and then runs a Session. Any
// failure closes the transport and waits out an exponential backoff (1s,
// 2s, 4s … 60s) that resets after each successful authentication.
//
// Data flows the other way through a Queue. The Poller reads all devices
// once per interval and offers each non-empty batch to the relay queue and
// to the optional MQTT and InfluxDB mirrors. Every queue drops on full, so
// a stalled consumer never blocks polling.
//
// Commands arrive as text frames (or on the local MQTT command topic) and
// go to the Dispatcher, which runs each device action on its own goroutine.
//
// Usage:
//
//	queue := relay.NewQueue(cfg.Polling.QueueSize)
//	poller := relay.NewPoller(devices, cfg.PollInterval(), logger)
//	poller.AddSink("relay", queue)
//
//	dispatcher := relay.NewDispatcher(relay.DispatcherConfig{Devices: devices, Logger: logger})
//	sup := relay.NewSupervisor(relay.SupervisorConfig{
//	    URL:     cfg.Server.URL,
//	    APIKey:  cfg.Server.APIKey,
//	    Dialer:  &relay.WebSocketDialer{},
//	    Source:  queue,
//	    Handler: dispatcher,
//	    Logger:  logger,
//	})
//
//	g.Go(func() error { return poller.Run(ctx) })
//	g.Go(func() error { return sup.Run(ctx) })
package relay
