package engine

// callContext is the concrete registry.CallContext implementation
// passed into every tool/resource/prompt handler. It closes over the
// owning engine so Progress can reach the operation manager without the
// registry package needing to know about operations at all.
type callContext struct {
	e           *Engine
	sessionID   string
	operationID string
}

func (c *callContext) SessionID() string   { return c.sessionID }
func (c *callContext) OperationID() string { return c.operationID }

func (c *callContext) IsCancelled() bool {
	if c.operationID == "" {
		return false
	}
	return c.e.operations.IsCancelled(c.operationID)
}

func (c *callContext) Progress(progress float64, message string) {
	if c.operationID == "" {
		return
	}
	c.e.operations.NotifyProgress(c.operationID, progress, message)
}
