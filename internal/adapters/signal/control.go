package signal

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, Envelope{Type: TypePong})
}

func (ctl *SignalWSController) handleICEConfig(conn *WsSignalConn, env Envelope) {
	resp := ack(env.ID)
	resp.ICEServers = ctl.opts.ICEServers
	ctl.sendJSON(conn, resp)
}
