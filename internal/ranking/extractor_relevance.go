package ranking

// relevanceExtractor scores notifications by how much the user historically
// engages with the posting package. Without a usage source the signal stays
// at zero for everyone, which is a valid total order.
type relevanceExtractor struct {
	usage UsageSource
}

func newRelevanceExtractor(deps Deps) Extractor {
	return &relevanceExtractor{usage: deps.Usage}
}

func (e *relevanceExtractor) Kind() string      { return KindRelevance }
func (e *relevanceExtractor) SetConfig(Config) {}

func (e *relevanceExtractor) Process(r *Record) *Reconsideration {
	if e.usage == nil {
		return nil
	}
	r.Relevance = e.usage.Affinity(r.Pkg)
	return nil
}
