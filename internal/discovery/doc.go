// Package discovery finds LIFX devices on the local network.
//
// A run broadcasts GetService to every interface broadcast address (plus
// any configured unicast targets), then waits a short listen window while
// the gateway's receive loop reports StateService replies through Observe.
// Manual and timer-driven runs share Run, so the Metrics counters are
// consistent whichever path started them:
//
//	engine := discovery.New(gw, discovery.Options{ListenWindow: time.Second})
//	go engine.Loop(ctx, 5*time.Minute)
//	res, err := engine.Run(ctx, discovery.TriggerManual)
//
// A failed run is recorded and left for the next trigger. It never stops
// the gateway.
package discovery
