// Package temporal provides the Temporal integration of the research
// pipeline service: the client used to start pipeline runs and the worker
// that executes them.
//
// Each job is driven by exactly one workflow whose id is derived from the
// job id (see WorkflowID). Starting a second run for the same job fails with
// ErrWorkflowAlreadyStarted, which the dispatcher treats as a delivered
// duplicate.
//
// # Client Setup
//
//	c, err := temporal.NewClient(temporal.ClientConfig{
//	    HostPort:  "localhost:7233",
//	    Namespace: "research-pipeline",
//	    TaskQueue: "research-pipeline-tasks",
//	})
//	pipelines := temporal.NewPipelineClient(c, cfg)
//	wfID, runID, err := pipelines.StartPipeline(ctx, input, workflows.ResearchPipelineWorkflow)
//
// # Worker Setup
//
//	m, err := temporal.NewWorkerManager(c, temporal.DefaultWorkerConfig(taskQueue))
//	m.RegisterWorkflow(workflows.ResearchPipelineWorkflow)
//	m.RegisterActivity(statusActivities)
//	m.RegisterActivity(stageActivities)
//	m.RegisterActivity(eventActivities)
//	err = m.Start(ctx)
//
// Workflows live in the workflows subpackage, activities in activities, and
// the workflow-side retry helpers in resilience.
package temporal
