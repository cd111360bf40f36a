package observability

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by deployment and invocation telemetry.
var (
	AttrCommandName = attribute.Key("cmdkit.command.name")
	AttrVerb        = attribute.Key("cmdkit.command.verb")
	AttrOutcome     = attribute.Key("cmdkit.deployment.outcome")
	AttrAttemptID   = attribute.Key("cmdkit.deployment.attempt_id")
	AttrTenantID    = attribute.Key("cmdkit.tenant.id")
	AttrDependency  = attribute.Key("cmdkit.dependency.name")
)

// Deployment outcomes.
const (
	OutcomeAlreadyDeployed = "already_deployed"
	OutcomeDeployed        = "deployed"
	OutcomeFailed          = "failed"
	OutcomeUndeployed      = "undeployed"
)

// DeploymentAttrs builds the span attributes of a deployment attempt.
func DeploymentAttrs(command, attemptID string, tenantID int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCommandName.String(command),
		AttrAttemptID.String(attemptID),
		AttrTenantID.Int64(tenantID),
	}
}
