// Package models defines state constants for the flow state machines.
package models

// HealthCheckState is a state of the health-check machine.
type HealthCheckState string

// Health-check machine states. AwaitAnswer is the suspension point: the
// session is persisted and the machine returns control to the caller until
// the user's next reply arrives.
const (
	StateHealthInit     HealthCheckState = "INIT"
	StateHealthAsk      HealthCheckState = "ASK_QUESTION"
	StateHealthAwait    HealthCheckState = "AWAIT_ANSWER"
	StateHealthFinalize HealthCheckState = "FINALIZE"
)

// ConversationStep is an internal step of the conversation machine. Steps
// are transient; one inbound turn runs the pipeline start to finish and
// nothing about the steps themselves is persisted.
type ConversationStep string

// Conversation machine steps.
const (
	StepClassifyIntent   ConversationStep = "CLASSIFY_INTENT"
	StepRetrieveMemories ConversationStep = "RETRIEVE_MEMORIES"
	StepCheckFatigue     ConversationStep = "CHECK_FATIGUE"
	StepGenerateResponse ConversationStep = "GENERATE_RESPONSE"
	StepStartHealthCheck ConversationStep = "START_HEALTH_CHECK"
)
