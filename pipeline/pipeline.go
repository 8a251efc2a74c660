package pipeline

import (
	"context"

	"github.com/graphmind-ai/graphmind/llm"
)

// Pipeline chains extract, link and write.
type Pipeline struct {
	extractor *Extractor
	linker    *Linker
	writer    *Writer
}

// New assembles the pipeline.
func New(extractor *Extractor, linker *Linker, writer *Writer) *Pipeline {
	return &Pipeline{extractor: extractor, linker: linker, writer: writer}
}

// Run produces a proposed diff for one document's text.
func (p *Pipeline) Run(ctx context.Context, text, document, domain string, scope llm.CallScope) (*Proposal, error) {
	extracted, err := p.extractor.Extract(ctx, text, scope)
	if err != nil {
		return nil, err
	}

	linked, err := p.linker.Link(ctx, extracted.Output)
	if err != nil {
		return nil, err
	}

	return p.writer.Write(linked, extracted.Output.Claims, text, document, "ingest: "+domain)
}
