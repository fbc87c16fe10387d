package volume

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/subgraph-volume/internal/subgraph"
)

type call struct {
	endpoint string
	query    string
	vars     map[string]interface{}
}

type response struct {
	body string
	err  error
}

// fakeExecutor answers queries by the first registered substring they contain
type fakeExecutor struct {
	mu        sync.Mutex
	calls     []call
	responses []struct {
		match string
		resp  response
	}
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{}
}

func (f *fakeExecutor) on(match, body string) *fakeExecutor {
	return f.onResponse(match, response{body: body})
}

func (f *fakeExecutor) onError(match string, err error) *fakeExecutor {
	return f.onResponse(match, response{err: err})
}

func (f *fakeExecutor) onResponse(match string, resp response) *fakeExecutor {
	f.responses = append(f.responses, struct {
		match string
		resp  response
	}{match, resp})
	return f
}

func (f *fakeExecutor) Query(ctx context.Context, endpoint, document string, variables map[string]interface{}) (subgraph.Data, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{endpoint: endpoint, query: document, vars: variables})
	f.mu.Unlock()

	if endpoint == "" {
		return nil, errors.New("no endpoint")
	}

	for _, r := range f.responses {
		if !strings.Contains(document, r.match) {
			continue
		}
		if r.resp.err != nil {
			return nil, r.resp.err
		}
		var data subgraph.Data
		if err := json.Unmarshal([]byte(r.resp.body), &data); err != nil {
			return nil, err
		}
		return data, nil
	}
	return nil, errors.New("unexpected query: " + document)
}

func (f *fakeExecutor) callsMatching(match string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []call
	for _, c := range f.calls {
		if strings.Contains(c.query, match) {
			out = append(out, c)
		}
	}
	return out
}
