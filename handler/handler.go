// Package handler implements the concrete Handler for each diagram
// NodeType. Handlers are stateless and registered against the engine's
// HandlerRegistry; all per-run state lives in graph.ExecutionContext, never
// on the handler value itself.
package handler

import "github.com/sorryhyun/dipeo-engine-go/graph"

// Service registry keys, resolved by the engine from the RequiresServices
// declaration of each handler before Execute is called.
const (
	ServiceLLM         = "llm_service"
	ServiceFile        = "file_service"
	ServiceMemory      = "memory_service"
	ServiceNotion      = "notion_service"
	ServiceInteractive = "interactive_handler"
)

// FileService writes a node's output to durable storage, standing in for
// the external file API. Implementations are looked up under ServiceFile.
type FileService interface {
	WriteFile(path string, content []byte) error
}

// MemoryService is a read-only key/value lookup, standing in for the
// external database service the db handler queries. Implementations are
// looked up under ServiceMemory.
type MemoryService interface {
	Get(key string) (any, bool)
}

// RegisterAll registers one instance of every handler in this package
// against reg. runner wires sub_diagram's recursive execution; pass nil if
// the diagram set never uses sub_diagram nodes. The LLM model factory for
// person_job/person_batch_job is not passed here — register it on the
// Engine's own Services map under ServiceLLM instead, since it is resolved
// per call like any other service rather than held on the handler.
//
// person_job/person_batch_job use the package's default conversation
// context limit; call RegisterAllWithContextLimit to override it from the
// ambient config surface.
func RegisterAll(reg *graph.HandlerRegistry, runner SubDiagramRunner) {
	RegisterAllWithContextLimit(reg, runner, defaultConversationContextLimit)
}

// RegisterAllWithContextLimit is RegisterAll with an explicit conversation
// context limit forwarded to person_job/person_batch_job.
func RegisterAllWithContextLimit(reg *graph.HandlerRegistry, runner SubDiagramRunner, contextLimit int) {
	reg.Register(&StartHandler{})
	reg.Register(&ConditionHandler{})
	reg.Register(NewPersonJobHandlerWithLimit(contextLimit))
	reg.Register(NewPersonBatchJobHandlerWithLimit(contextLimit))
	reg.Register(&CodeJobHandler{})
	reg.Register(&DBHandler{})
	reg.Register(&EndpointHandler{})
	reg.Register(NewAPIJobHandler(nil))
	reg.Register(&TemplateJobHandler{})
	reg.Register(NewHookHandler())
	reg.Register(&SubDiagramHandler{Runner: runner})
	reg.Register(&UserResponseHandler{})
	reg.Register(&JSONSchemaValidatorHandler{})
}
