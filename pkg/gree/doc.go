// Package gree provides a client for communicating with Gree-protocol
// climate appliances (air conditioners and Versati air-water heat pumps)
// over encrypted UDP.
//
// # Basic Usage
//
//	client, err := gree.NewClient()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ctx := context.Background()
//	devices, err := client.Scan(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session, err := client.Bind(ctx, devices[0])
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	dev := gree.NewDevice(client, session)
//	if err := dev.UpdateState(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Configuration
//
// The client can be configured using functional options:
//
//	client, err := gree.NewClient(
//	    gree.WithDiscoveryTimeout(2*time.Second),
//	    gree.WithRequestTimeout(5*time.Second),
//	    gree.WithLogger(slog.Default()),
//	)
//
// # Protocol
//
// Devices listen on UDP port 7000 and speak JSON envelopes whose payloads
// are AES encrypted. First generation units use ECB with a well-known
// handshake key; newer firmware uses GCM with an authentication tag. The
// generation is detected during discovery and fixed per session. All
// traffic for every device shares one broadcast-enabled socket.
package gree
