//go:build test

package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	pond "github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/RAPD/rapd-relay/binding"
	"github.com/RAPD/rapd-relay/results"
	"github.com/RAPD/rapd-relay/store"
	"github.com/RAPD/rapd-relay/store/memory"
	"github.com/RAPD/rapd-relay/testutil"
	"github.com/RAPD/rapd-relay/transport"
)

type routedDetail struct {
	resultID string
	detail   map[string]any
}

type fakeRouter struct {
	mu         sync.Mutex
	subscribed map[string]bool
	summaries  map[string][]any
	details    []routedDetail
}

func newFakeRouter(subscribed ...string) *fakeRouter {
	r := &fakeRouter{subscribed: map[string]bool{}, summaries: map[string][]any{}}
	for _, id := range subscribed {
		r.subscribed[id] = true
	}
	return r
}

func (r *fakeRouter) RouteResults(sessionID string, summaries []any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries[sessionID] = append(r.summaries[sessionID], summaries...)
	return 1
}

func (r *fakeRouter) RouteDetail(resultID string, detail map[string]any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details = append(r.details, routedDetail{resultID: resultID, detail: detail})
	return 1
}

func (r *fakeRouter) HasDetailSubscribers(resultID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribed[resultID]
}

func newTestIngester(t *testing.T, router Router, st *memory.Store) *Ingester {
	t.Helper()
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)

	bindings := binding.NewCache(zerolog.Nop(), st)
	populator := results.NewPopulator(zerolog.Nop(), st, bindings, pool, time.Second)
	return NewIngester(zerolog.Nop(), nil, router, populator, bindings)
}

func TestHandle_RoutesSummaryToSession(t *testing.T) {
	router := newFakeRouter()
	ing := newTestIngester(t, router, memory.New())

	ing.Handle(context.Background(), testutil.NewEnvelopeBuilder(1).WithSession("sess-1").WithResultID("r-1").Bytes())

	require.Len(t, router.summaries["sess-1"], 1)
	summary := router.summaries["sess-1"][0].(results.Summary)
	require.Equal(t, "r-1", summary.ID)
	require.Equal(t, "detail-0001", summary.DetailID)
	require.Equal(t, "mx:integrate", summary.ResultType)
	require.Empty(t, router.details, "no detail subscribers, no detail projection")
}

func TestHandle_DropsEchoAndMalformed(t *testing.T) {
	router := newFakeRouter()
	ing := newTestIngester(t, router, memory.New())

	ing.Handle(context.Background(), testutil.NewEnvelopeBuilder(1).Echo().Bytes())
	ing.Handle(context.Background(), []byte("{broken"))
	ing.Handle(context.Background(), testutil.NewEnvelopeBuilder(2).WithSession("").Bytes())
	ing.Handle(context.Background(), []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00})

	require.Empty(t, router.summaries)
	require.Empty(t, router.details)

	// The loop survives and keeps routing.
	ing.Handle(context.Background(), testutil.NewEnvelopeBuilder(3).Bytes())
	require.Len(t, router.summaries["session-0003"], 1)
}

func TestHandle_DecompressesZstdPayloads(t *testing.T) {
	router := newFakeRouter()
	ing := newTestIngester(t, router, memory.New())

	codec, err := transport.NewCodec(transport.CompressionLevelFastest, 0)
	require.NoError(t, err)
	ing.Handle(context.Background(), codec.Compress(testutil.NewEnvelopeBuilder(4).Bytes()))

	require.Len(t, router.summaries["session-0004"], 1)
}

func TestHandle_PopulatesDetailForSubscribers(t *testing.T) {
	st := memory.New()
	st.PutImage(store.Document{"_id": "img-1", "fullname": "/data/a_0001.cbf"})
	st.Insert("mx_analysis_results", store.Document{
		"_id":     "an-1",
		"command": map[string]any{"input_data": map[string]any{"db_settings": map[string]any{"password": "x"}}},
	})

	router := newFakeRouter("r-1")
	ing := newTestIngester(t, router, st)

	env := testutil.NewEnvelopeBuilder(5).
		WithResultID("r-1").
		WithImages("img-1", "img-missing").
		WithChildren("an-1", "").
		Bytes()
	ing.Handle(context.Background(), env)

	require.Len(t, router.details, 1)
	got := router.details[0]
	require.Equal(t, "r-1", got.resultID)
	require.Equal(t, "/data/a_0001.cbf", got.detail["image1"].(store.Document)["fullname"])
	require.Nil(t, got.detail["image2"])

	section := got.detail["results"].(map[string]any)
	analysis := section["analysis"].(store.Document)
	require.Equal(t, "an-1", analysis["_id"])
	require.NotContains(t, analysis["command"].(map[string]any)["input_data"], "db_settings")
	require.Nil(t, section["pdbquery"])
}

func TestHandle_RepushesParentDetail(t *testing.T) {
	st := memory.New()
	st.Insert("mx_index_results", store.Document{
		"_id":     "pd-1",
		"process": map[string]any{"result_id": "parent-1"},
	})

	router := newFakeRouter("parent-1")
	ing := newTestIngester(t, router, st)

	ing.Handle(context.Background(), testutil.NewEnvelopeBuilder(6).WithParent("parent-1", "MX", "INDEX").Bytes())

	require.Len(t, router.details, 1)
	require.Equal(t, "parent-1", router.details[0].resultID)
	require.Equal(t, "pd-1", router.details[0].detail["_id"])
}

func TestHandle_MissingParentIsSkipped(t *testing.T) {
	router := newFakeRouter("parent-1")
	ing := newTestIngester(t, router, memory.New())

	ing.Handle(context.Background(), testutil.NewEnvelopeBuilder(7).WithParent("parent-1", "mx", "index").Bytes())

	require.Empty(t, router.details)
	require.Len(t, router.summaries["session-0007"], 1)
}

func TestHandle_PreservesArrivalOrder(t *testing.T) {
	router := newFakeRouter()
	ing := newTestIngester(t, router, memory.New())

	for i := 0; i < 20; i++ {
		ing.Handle(context.Background(), testutil.NewEnvelopeBuilder(i).WithSession("s").Bytes())
	}

	list := router.summaries["s"]
	require.Len(t, list, 20)
	for i, s := range list {
		require.Equal(t, testutil.NewEnvelopeBuilder(i).Build()["process"].(map[string]any)["result_id"], s.(results.Summary).ID)
	}
}
