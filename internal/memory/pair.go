package memory

import "context"

// Pair holds the two buffers of one session. Both receive every turn.
// Pair itself is not safe for concurrent use; callers hold the session lock.
type Pair struct {
	Window  *Window
	Summary *SummaryBuffer
}

// Snapshot returns (summary, buffer) for prompt construction.
func (p *Pair) Snapshot(ctx context.Context) (summary, buffer string, err error) {
	summary, err = p.Summary.Load(ctx)
	if err != nil {
		return "", "", err
	}
	buffer, err = p.Window.Load(ctx)
	if err != nil {
		return "", "", err
	}
	return summary, buffer, nil
}

// Record writes one (question, answer) turn into both buffers. The window
// is always written; a summarization failure is returned after that.
func (p *Pair) Record(ctx context.Context, question, answer string) error {
	if err := p.Window.Save(ctx, question, answer); err != nil {
		return err
	}
	return p.Summary.Save(ctx, question, answer)
}

// Replay loads historical turns: the last k into the window, all of them
// into the summary buffer.
func (p *Pair) Replay(ctx context.Context, turns [][2]string, k int) error {
	for _, t := range turns[max(0, len(turns)-k):] {
		if err := p.Window.Save(ctx, t[0], t[1]); err != nil {
			return err
		}
	}
	return p.Summary.Seed(ctx, turns)
}

// PairFactory builds fresh memory pairs.
type PairFactory struct {
	WindowTurns int
	TokenLimit  int
	Summarizer  Summarizer
	Counter     TokenCounter
}

// New creates an empty pair.
func (f PairFactory) New() *Pair {
	return &Pair{
		Window:  NewWindow(f.WindowTurns),
		Summary: NewSummaryBuffer(f.Summarizer, f.Counter, f.TokenLimit),
	}
}
