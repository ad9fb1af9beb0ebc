package llmclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kioku-ai/kioku/internal/llmclient"
)

func TestClassify_CallErrorClass(t *testing.T) {
	err := &llmclient.CallError{Class: llmclient.ClassRateLimit, Err: context.DeadlineExceeded}
	assert.Equal(t, llmclient.ClassRateLimit, llmclient.Classify(err))
}

func TestClassify_ContextDeadlineMapsToTimeout(t *testing.T) {
	assert.Equal(t, llmclient.ClassTimeout, llmclient.Classify(context.DeadlineExceeded))
}

func TestClassify_NilIsEmpty(t *testing.T) {
	assert.Equal(t, llmclient.ErrorClass(""), llmclient.Classify(nil))
}

func TestClassify_UnknownErrorIsOther(t *testing.T) {
	assert.Equal(t, llmclient.ClassOther, llmclient.Classify(assertErr{}))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestFakeClient_ReplaysScriptedResponses(t *testing.T) {
	c := &llmclient.FakeClient{
		Responses: []llmclient.FakeResponse{
			{Response: llmclient.RawResponse{Content: "first"}},
			{Response: llmclient.RawResponse{Content: "second"}},
		},
	}
	r1, err := c.Call(context.Background(), "p1", llmclient.Params{})
	assert.NoError(t, err)
	assert.Equal(t, "first", r1.Content)

	r2, err := c.Call(context.Background(), "p2", llmclient.Params{})
	assert.NoError(t, err)
	assert.Equal(t, "second", r2.Content)

	assert.Equal(t, []string{"p1", "p2"}, c.Calls)
}

func TestFakeClient_ExhaustedWithoutRepeatErrors(t *testing.T) {
	c := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{{Response: llmclient.RawResponse{Content: "only"}}}}
	_, _ = c.Call(context.Background(), "p1", llmclient.Params{})
	_, err := c.Call(context.Background(), "p2", llmclient.Params{})
	assert.Error(t, err)
}
