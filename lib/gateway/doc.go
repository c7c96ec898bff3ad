// Package gateway implements the client side of the gateway protocol.
//
// A gateway is a daemon reachable over WebSocket (ws:// or wss://, or an
// .i2p destination through a SAM bridge). Dialer opens a connection, sends
// the bearer token as an Authorization header and performs the connect
// handshake. The resulting *Conn multiplexes JSON-RPC style calls over the
// socket:
//
//	d := gateway.NewDialer()
//	conn, err := d.Dial(ctx, pool.GatewayConfig{URL: "wss://gw.example/ws", Token: tok})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	var st gateway.StatusResult
//	err = conn.Call(ctx, gateway.MethodStatus, nil, &st)
//
// Dialer satisfies pool.Connector and *Conn satisfies pool.Connection, so the
// daemon normally goes through a pool.Pool instead of dialing directly.
// BreakerConnector stops redialing gateways that keep failing.
package gateway
