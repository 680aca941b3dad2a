package sched

type Registry struct {
	synths map[Kind]Synthesizer
}

func NewRegistry() *Registry {
	return &Registry{synths: map[Kind]Synthesizer{}}
}

func (r *Registry) Register(s Synthesizer) {
	r.synths[s.Kind()] = s
}

func (r *Registry) Get(kind Kind) (Synthesizer, error) {
	s, ok := r.synths[kind]
	if !ok {
		return nil, UnsupportedSchedulerError{Scheduler: kind, Op: "command synthesis"}
	}
	return s, nil
}
