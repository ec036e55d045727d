// Package driver connects the framing, queue and waitress packages to one
// coordinator connection.
//
// A Driver owns its parser, writer, queue and waitress; nothing is shared
// between connections. The read loop feeds every chunk from the port into
// the parser, and each decoded frame is offered to the waitress first, then
// to subscribers and the optional Publisher.
//
//	d, err := driver.New(port, driver.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	if err := d.Start(ctx); err != nil {
//	    return err
//	}
//	defer d.Close()
//
//	ping := protocol.NewUNPIFrame(protocol.SREQ, protocol.SubsystemSYS, 0x01, nil)
//	resp, err := d.Request(ctx, ping, driver.SRSPFor(ping), "")
//
// Request registers its waiter before the frame is written, so a fast
// response is never missed. Failed attempts are retried in a bounded loop
// whose budget per failure class comes from RetryPolicies.
package driver
