package mqttclient

// flowController enforces the server's Receive Maximum on outbound QoS 1
// and QoS 2 publishes. It is owned by the engine goroutine.
// MQTT v5.0 spec: Section 4.9
type flowController struct {
	receiveMaximum uint16
	inFlight       uint16
}

func newFlowController(receiveMaximum uint16) *flowController {
	if receiveMaximum == 0 {
		receiveMaximum = 65535
	}
	return &flowController{receiveMaximum: receiveMaximum}
}

// setReceiveMaximum applies the value announced in CONNACK and restarts
// the count, since every unacknowledged publish is resent on the new
// connection and acquires quota again.
func (f *flowController) setReceiveMaximum(maximum uint16) {
	if maximum == 0 {
		maximum = 65535
	}
	f.receiveMaximum = maximum
	f.inFlight = 0
}

// tryAcquire takes one unit of quota, reporting false when none is left.
func (f *flowController) tryAcquire() bool {
	if f.available() == 0 {
		return false
	}
	f.inFlight++
	return true
}

// forceAcquire takes quota for a resend, which may not be held back.
func (f *flowController) forceAcquire() {
	f.inFlight++
}

func (f *flowController) release() {
	if f.inFlight > 0 {
		f.inFlight--
	}
}

func (f *flowController) available() uint16 {
	if f.inFlight >= f.receiveMaximum {
		return 0
	}
	return f.receiveMaximum - f.inFlight
}
