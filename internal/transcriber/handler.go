package transcriber

// Activate is a no-op for T: sessions are created by IAP's REGISTER
// announcements arriving on the registration listener, not by direct
// orchestrator ACTIVATE calls. It still satisfies control.Handler so T's
// control socket is wired the same way as every other component's.
func (c *Component) Activate(callID int) error {
	c.log.Debug("transcriber: activate is a no-op, sessions follow registration events", "call_id", callID)
	return nil
}

// Deactivate is likewise a no-op: a session ends on BYE from IAP or on
// idle timeout, not on an orchestrator DEACTIVATE call.
func (c *Component) Deactivate(callID int) error {
	c.log.Debug("transcriber: deactivate is a no-op, sessions follow bye/idle", "call_id", callID)
	return nil
}
