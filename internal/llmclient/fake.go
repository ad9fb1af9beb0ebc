package llmclient

import "context"

// FakeClient is a scriptable Client for tests: each call pops the next
// entry from Responses (or repeats the last one if Responses is
// exhausted and Repeat is true).
type FakeClient struct {
	Responses []FakeResponse
	Repeat    bool

	calls int
	Calls []string // prompts received, in order
}

// FakeResponse is one scripted outcome for FakeClient.Call.
type FakeResponse struct {
	Response RawResponse
	Err      error
}

func (f *FakeClient) Call(_ context.Context, prompt string, _ Params) (RawResponse, error) {
	f.Calls = append(f.Calls, prompt)
	idx := f.calls
	if idx >= len(f.Responses) {
		if f.Repeat && len(f.Responses) > 0 {
			idx = len(f.Responses) - 1
		} else {
			return RawResponse{}, &CallError{Class: ClassOther, Err: errNoMoreResponses}
		}
	}
	f.calls++
	r := f.Responses[idx]
	return r.Response, r.Err
}

var errNoMoreResponses = fakeErr("llmclient: FakeClient has no more scripted responses")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
