package sifgraph

// Stage is one step of a sampling pipeline, transforming a MiniBatch
type Stage interface {
	Name() string
	Process(sctx StageContext, mb *MiniBatch) (*MiniBatch, error)
}

type funcStage struct {
	name string
	fn   func(sctx StageContext, mb *MiniBatch) (*MiniBatch, error)
}

// NewStage creates a Stage from a function
func NewStage(name string, fn func(sctx StageContext, mb *MiniBatch) (*MiniBatch, error)) Stage {
	return &funcStage{name: name, fn: fn}
}

func (s *funcStage) Name() string {
	return s.name
}

func (s *funcStage) Process(sctx StageContext, mb *MiniBatch) (*MiniBatch, error) {
	return s.fn(sctx, mb)
}
