package orchestrator

import "context"

// Start launches the orchestrator's background loops: the HITL pause
// manager's timeout sweep and, if one was supplied, the health monitor's
// probe loop. Start returns immediately; both loops run until ctx is
// cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.pauseMgr.Start(ctx)
	if o.healthMon != nil {
		o.healthMon.Start(ctx)
	}
}

// Stop halts the background loops Start launched.
func (o *Orchestrator) Stop() {
	o.pauseMgr.Stop()
	if o.healthMon != nil {
		o.healthMon.Stop()
	}
}
