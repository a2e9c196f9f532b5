package llm

import (
	"fmt"
	"sync/atomic"
)

// Per-million-token prices used for the rough cost estimate.
const (
	inputPricePerMTok  = 3.0
	outputPricePerMTok = 15.0
)

// Usage is a snapshot of the completions a client has made.
type Usage struct {
	Calls        int64
	InputTokens  int64
	OutputTokens int64
}

// Cost estimates the spend in USD.
func (u Usage) Cost() float64 {
	return float64(u.InputTokens)/1e6*inputPricePerMTok + float64(u.OutputTokens)/1e6*outputPricePerMTok
}

func (u Usage) String() string {
	return fmt.Sprintf("%d calls, %d in / %d out tokens (~$%.4f)", u.Calls, u.InputTokens, u.OutputTokens, u.Cost())
}

// UsageReporter is implemented by completers that count their traffic.
type UsageReporter interface {
	Usage() Usage
}

type usageMeter struct {
	calls, input, output atomic.Int64
}

func (m *usageMeter) add(input, output int64) {
	m.calls.Add(1)
	m.input.Add(input)
	m.output.Add(output)
}

func (m *usageMeter) snapshot() Usage {
	return Usage{Calls: m.calls.Load(), InputTokens: m.input.Load(), OutputTokens: m.output.Load()}
}
