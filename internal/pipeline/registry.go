package pipeline

import "fmt"

// Registry maps workflow types to their pipelines. Populated at startup;
// not safe for concurrent registration.
type Registry struct {
	pipelines map[string]Pipeline
}

func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]Pipeline)}
}

func (r *Registry) Register(p Pipeline) {
	r.pipelines[p.WorkflowType()] = p
}

func (r *Registry) Lookup(workflowType string) (Pipeline, error) {
	p, ok := r.pipelines[workflowType]
	if !ok {
		return nil, fmt.Errorf("no pipeline registered for workflow type %q", workflowType)
	}
	return p, nil
}

func (r *Registry) WorkflowTypes() []string {
	types := make([]string, 0, len(r.pipelines))
	for t := range r.pipelines {
		types = append(types, t)
	}
	return types
}
