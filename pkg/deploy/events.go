package deploy

import "github.com/Mindburn-Labs/cmdkit/pkg/events"

const eventPackage = "deploy"

var (
	EventDeployedWithSuccess = events.Event{
		Package: eventPackage,
		Code:    1,
		Level:   events.LevelInfo,
		Title:   "Command deployed with success",
	}
	EventErrorAtDeployment = events.Event{
		Package:     eventPackage,
		Code:        2,
		Level:       events.LevelAppError,
		Title:       "Error during deployment of the command",
		Cause:       "The command deployment failed",
		Consequence: "The command may be unavailable or outdated",
		Action:      "Check the error",
	}
	EventNotDeployed = events.Event{
		Package:     eventPackage,
		Code:        3,
		Level:       events.LevelError,
		Title:       "Command not deployed",
		Cause:       "The command is not registered in the host",
		Consequence: "The call cannot be performed",
		Action:      "Deploy the command first",
	}
	EventCallCommand = events.Event{
		Package:     eventPackage,
		Code:        4,
		Level:       events.LevelError,
		Title:       "Error during calling a command",
		Cause:       "The host refused or failed the call",
		Consequence: "The command did not answer",
		Action:      "Check the error",
	}
	EventPingFailure = events.Event{
		Package:     eventPackage,
		Code:        5,
		Level:       events.LevelError,
		Title:       "Ping the command failed",
		Cause:       "The command was deployed but did not answer the liveness call",
		Consequence: "The deployment is kept; the command may not work",
		Action:      "Check the command and its dependencies",
	}
	EventMissingDependency = events.Event{
		Package:     eventPackage,
		Code:        6,
		Level:       events.LevelAppError,
		Title:       "Dependency artifact is missing",
		Cause:       "The artifact file cannot be read",
		Consequence: "The dependency is not deployed",
		Action:      "Check the artifact directory",
	}
	EventDeployDependency = events.Event{
		Package:     eventPackage,
		Code:        7,
		Level:       events.LevelAppError,
		Title:       "Error deploying a dependency",
		Cause:       "The dependency store rejected the payload",
		Consequence: "The dependency is not deployed",
		Action:      "Check the error",
	}
	EventErrorAtUndeployment = events.Event{
		Package:     eventPackage,
		Code:        8,
		Level:       events.LevelAppError,
		Title:       "Error during undeployment of the command",
		Cause:       "The command or its dependency could not be removed",
		Consequence: "A stale command may remain registered",
		Action:      "Check the error",
	}
	EventDatasourceUnavailable = events.Event{
		Package:     eventPackage,
		Code:        9,
		Level:       events.LevelWarning,
		Title:       "Dependency inventory unavailable",
		Cause:       "No datasource answered the inventory query",
		Consequence: "Versioned dependencies are deployed without comparing existing versions",
		Action:      "Check CMDKIT_DATASOURCES",
	}
	EventLockFailure = events.Event{
		Package:     eventPackage,
		Code:        10,
		Level:       events.LevelError,
		Title:       "Deployment lock not acquired",
		Cause:       "The cluster deployment lock could not be taken",
		Consequence: "The command is not deployed",
		Action:      "Check the lock backend and retry",
	}
)
