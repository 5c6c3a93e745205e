package control

// ReconcileAction classifies one declared resource against persisted state.
type ReconcileAction string

const (
	// ActionNew indicates the resource name is absent from the persisted
	// manifest and must be deployed.
	ActionNew ReconcileAction = "NEW"

	// ActionChanged indicates the resource exists but its config hash
	// differs, or its hash matches while the persisted endpoint is missing.
	// Either way it must be redeployed.
	ActionChanged ReconcileAction = "CHANGED"

	// ActionUnchanged indicates the persisted endpoint is reused verbatim
	// with zero deploy calls.
	ActionUnchanged ReconcileAction = "UNCHANGED"

	// ActionRemoved indicates the resource is persisted but no longer
	// declared and must be undeployed (self-provisioning flow only).
	ActionRemoved ReconcileAction = "REMOVED"
)

// Flow selects the failure policy of a reconciliation.
type Flow string

const (
	// FlowOperator is the operator-driven flow: any provisioning failure
	// aborts the whole reconciliation immediately.
	FlowOperator Flow = "operator"

	// FlowSelfProvision is the runtime flow in which a mothership
	// auto-provisions its child resources: a failure is recorded per
	// resource and does not block siblings.
	FlowSelfProvision Flow = "self-provision"
)
