package registry

import (
	"context"

	"github.com/sirupsen/logrus"
)

// RolePM, RoleBA, etc. are the agent type ids the orchestrator ships with
// out of the box, corresponding to the six specialized roles a workflow
// plan assigns work to.
const (
	RolePM             = "pm"
	RoleBA             = "ba"
	RoleSA             = "sa"
	RoleResearch       = "research"
	RoleQualityJudge   = "quality_judge"
	RoleImplementation = "implementation"
)

// InitializeDefaultAgentTypes registers the six built-in roles, logging but
// not failing if a given role is already registered (e.g. across a
// restart).
func InitializeDefaultAgentTypes(ctx context.Context, svc *Service, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.Info("initializing default agent types")

	for _, def := range defaultAgentTypes() {
		if err := svc.RegisterType(ctx, def); err != nil {
			logger.WithError(err).WithField("type_id", def.ID).Warn("failed to register default agent type")
			continue
		}
	}

	logger.WithField("count", len(defaultAgentTypes())).Info("default agent types initialized")
	return nil
}

func defaultAgentTypes() []*AgentTypeDefinition {
	return []*AgentTypeDefinition{
		{
			ID:          RolePM,
			Name:        "Project Manager",
			Description: "Breaks a request into a workflow plan and tracks delivery progress.",
			Schema:      roleSchema("pm_plan"),
			DefaultConfig: map[string]interface{}{
				"max_concurrent_plans": 5,
			},
			IsSystemType: true,
			IsEnabled:    true,
		},
		{
			ID:          RoleBA,
			Name:        "Business Analyst",
			Description: "Elaborates requirements into concrete acceptance criteria.",
			Schema:      roleSchema("ba_requirements"),
			IsSystemType: true,
			IsEnabled:    true,
		},
		{
			ID:          RoleSA,
			Name:        "Solution Architect",
			Description: "Produces the technical design a workflow's implementation steps follow.",
			Schema:      roleSchema("sa_design"),
			IsSystemType: true,
			IsEnabled:    true,
		},
		{
			ID:          RoleResearch,
			Name:        "Research Agent",
			Description: "Gathers supporting context an implementation or design step needs.",
			Schema:      roleSchema("research_query"),
			IsSystemType: true,
			IsEnabled:    true,
		},
		{
			ID:          RoleQualityJudge,
			Name:        "Quality Judge",
			Description: "Scores a completed result's quality before the workflow proceeds.",
			Schema:      roleSchema("quality_review"),
			IsSystemType: true,
			IsEnabled:    true,
		},
		{
			ID:          RoleImplementation,
			Name:        "Implementation Agent",
			Description: "Carries out the concrete coding step of a workflow.",
			Schema:      roleSchema("implementation_task"),
			DefaultConfig: map[string]interface{}{
				"max_concurrent_tasks": 10,
			},
			IsSystemType: true,
			IsEnabled:    true,
		},
	}
}

// roleSchema is a minimal JSON schema shared by every default role: a
// config object may carry anything, but if it declares a "task_type" field
// that field must be a string. Operators registering custom roles are
// expected to supply a richer schema of their own.
func roleSchema(name string) []byte {
	return []byte(`{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"title": "` + name + `",
		"type": "object",
		"properties": {
			"task_type": {"type": "string"}
		}
	}`)
}
